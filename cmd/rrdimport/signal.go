package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// signalContext returns a context cancelled on SIGINT, SIGTERM or SIGQUIT.
// A second signal falls through to the default handler and kills the process.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		for sig := range sigs {
			switch sig {
			case syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT:
				logrus.WithField("signal", sig).Info("received shutdown signal, stopping")
				signal.Stop(sigs)
				cancel()
				return
			case syscall.SIGHUP:
				logrus.Info("caught SIGHUP, nothing to reload")
			}
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(sigs)
		})
		cancel()
	}
}
