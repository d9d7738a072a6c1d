// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup sets the level and formatter of the standard logrus logger.
// format is "text" or "json".
func Setup(level, format string) error {
	return configure(logrus.StandardLogger(), level, format, os.Stderr)
}

// Component returns an entry tagged with the component name
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

func configure(l *logrus.Logger, level, format string, out io.Writer) error {
	if level == "" {
		level = "info"
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lv)
	l.SetOutput(out)

	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
