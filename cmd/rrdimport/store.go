package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/nicktill/rrdimport/pkg/compaction"
	"github.com/nicktill/rrdimport/pkg/export"
	"github.com/nicktill/rrdimport/pkg/server"
)

var exportCommand = cli.Command{
	Name:  "export",
	Usage: "write stored buckets as JSON or CSV",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "format, f", Value: "json", Usage: "json or csv"},
		cli.StringFlag{Name: "tier", Usage: "only this tier"},
		cli.StringSliceFlag{Name: "name", Usage: "only this counter (repeatable)"},
		cli.StringFlag{Name: "start", Usage: "earliest bucket start, unix seconds or RFC3339"},
		cli.StringFlag{Name: "end", Usage: "latest bucket start, unix seconds or RFC3339"},
		cli.StringFlag{Name: "out, o", Usage: "output file (default: stdout)"},
	},
	Action: runExport,
}

var restoreCommand = cli.Command{
	Name:      "restore",
	Usage:     "load a JSON export into the bucket store",
	ArgsUsage: "FILE",
	Action:    runRestore,
}

var compactCommand = cli.Command{
	Name:   "compact",
	Usage:  "fold expired buckets into coarser tiers and delete them",
	Action: runCompact,
}

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "serve the bucket store over HTTP",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "listen", Value: ":8080", Usage: "listen address"},
		cli.BoolFlag{Name: "no-compact", Usage: "disable periodic compaction"},
	},
	Action: runServe,
}

func runExport(c *cli.Context) error {
	format := c.String("format")
	if format != "json" && format != "csv" {
		return cli.NewExitError(fmt.Sprintf("invalid format %q, must be json or csv", format), exitInvalidInput)
	}

	start, err := parseTimeFlag(c.String("start"))
	if err != nil {
		return cli.NewExitError(err.Error(), exitInvalidInput)
	}
	end, err := parseTimeFlag(c.String("end"))
	if err != nil {
		return cli.NewExitError(err.Error(), exitInvalidInput)
	}

	store, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	out := os.Stdout
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	ctx, stop := signalContext()
	defer stop()

	opts := export.ExportOptions{
		Start:    start,
		End:      end,
		Counters: c.StringSlice("name"),
		Tier:     c.String("tier"),
		Format:   format,
	}

	exporter := export.NewExporter(store)
	var result *export.ExportResult
	if format == "json" {
		result, err = exporter.ExportToJSON(ctx, out, opts)
	} else {
		result, err = exporter.ExportToCSV(ctx, out, opts)
	}
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"buckets": result.BucketsExported,
		"range":   result.TimeRange,
	}).Info("export finished")
	return nil
}

func runRestore(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: rrdimport restore FILE", exitInvalidInput)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()

	store, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	result, err := export.NewRestorer(store).RestoreFromJSON(ctx, f)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		logrus.Warn(e)
	}
	logrus.WithFields(logrus.Fields{
		"buckets": result.BucketsRestored,
		"batches": result.BatchesWritten,
		"invalid": len(result.Errors),
	}).Info("restore finished")
	return nil
}

func runCompact(c *cli.Context) error {
	store, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	start := time.Now()
	result, err := compaction.New(store).CompactAndCleanup(ctx, appConfig.Tiers, start)
	if err != nil {
		return err
	}
	for _, t := range result.Tiers {
		logrus.WithFields(logrus.Fields{
			"from":    t.From,
			"to":      t.To,
			"read":    t.Read,
			"written": t.Written,
			"kept":    t.SkippedExists,
		}).Info("tier compacted")
	}
	logrus.WithField("took", time.Since(start).Round(time.Millisecond)).Info("compaction finished")
	return nil
}

func runServe(c *cli.Context) error {
	store, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	dataDir := appConfig.Store.Path
	if appConfig.Store.InMemory {
		dataDir = ""
	}

	listen := c.String("listen")
	srv := server.New(store, dataDir, listen)
	if !c.Bool("no-compact") {
		srv.Tiers = appConfig.Tiers
	}

	server.Version = BuildVersion
	return srv.Serve(ctx, listen)
}
