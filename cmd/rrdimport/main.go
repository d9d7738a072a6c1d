package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/logging"
)

// BuildVersion is set at link time
var BuildVersion = "dev"

// appConfig is loaded by the Before hook and shared by every command
var appConfig *config.Config

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Errorf("rrdimport: %v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "rrdimport"
	app.Usage = "convert round-robin archive dumps into istatd buckets"
	app.Version = BuildVersion

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "config file path (built-in defaults when empty)",
		},
		cli.StringFlag{
			Name:  "env-file",
			Usage: "load RRDIMPORT_* variables from a dotenv file",
		},
		cli.StringFlag{
			Name:  "log, l",
			Usage: "log level: debug,info,warning,error (overrides the config file)",
		},
	}

	app.Before = initConfig
	app.Commands = []cli.Command{
		importCommand,
		convertCommand,
		exportCommand,
		restoreCommand,
		compactCommand,
		serveCommand,
	}
	return app
}

func initConfig(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// variables already set in the environment win over the file
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := cfg.Log.Level
	if lv := c.String("log"); lv != "" {
		level = lv
	}
	if err := logging.Setup(level, cfg.Log.Format); err != nil {
		return err
	}

	appConfig = cfg
	return nil
}
