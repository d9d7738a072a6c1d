package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/importer"
	"github.com/nicktill/rrdimport/pkg/mapping"
	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/server"
	"github.com/nicktill/rrdimport/pkg/sink"
	"github.com/nicktill/rrdimport/pkg/storage"
	"github.com/nicktill/rrdimport/pkg/storage/memory"
)

// Exit codes
const (
	exitFailure        = 1
	exitInvalidInput   = 2
	exitArchiveMissing = 3
	exitSinkFailure    = 4
)

var runFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "counter",
		Usage: "treat values as counters unless the mapping line says otherwise",
	},
	cli.StringFlag{
		Name:  "start",
		Usage: "earliest bucket start, unix seconds or RFC3339 (replaces the tier retention cutoff)",
	},
	cli.StringFlag{
		Name:  "end",
		Usage: "window end, unix seconds or RFC3339 (default: now)",
	},
	cli.StringFlag{
		Name:  "max-time",
		Usage: "ignore samples from this time on, unix seconds or RFC3339",
	},
	cli.IntFlag{
		Name:  "workers",
		Usage: "counters imported at once (default from config)",
	},
}

var importCommand = cli.Command{
	Name:      "import",
	Usage:     "resample every mapped counter into the configured tiers",
	ArgsUsage: "MAPFILE [ARCHIVEDIR]",
	Flags: append([]cli.Flag{
		cli.StringFlag{
			Name:  "sink",
			Usage: "text, file, command, badger or parquet (default from config)",
		},
		cli.StringFlag{
			Name:  "listen",
			Usage: "serve import status on this address while running, e.g. :8080",
		},
	}, runFlags...),
	Action: runImport,
}

var convertCommand = cli.Command{
	Name:      "convert",
	Usage:     "print 10 second istatd lines for every mapped counter",
	ArgsUsage: "MAPFILE ARCHIVEDIR",
	Flags:     runFlags,
	Action:    runConvert,
}

func runImport(c *cli.Context) error {
	cfg := *appConfig
	if kind := c.String("sink"); kind != "" {
		cfg.Sink.Kind = kind
	}

	entries, opts, err := prepareRun(c, &cfg)
	if err != nil {
		return exitError(err)
	}

	dest, err := openDestination(&cfg, os.Stdout)
	if err != nil {
		return exitError(err)
	}
	defer func() {
		if err := dest.close(); err != nil {
			logrus.WithError(err).Warn("failed to close sink")
		}
	}()

	ctx, stop := signalContext()
	defer stop()

	var observers importer.Observers
	var srv *server.Server
	if listen := c.String("listen"); listen != "" {
		srv = server.New(storeOrMemory(dest.store), "", listen)
		srv.Imports.RunStarted(len(entries))
		observers = append(observers, srv.Imports, srv.Hub)

		go func() {
			if err := srv.Serve(ctx, listen); err != nil {
				logrus.WithError(err).Error("status server failed")
			}
		}()
	}

	imp, err := importer.New(&cfg, dest.opener, importer.WithOptions(opts), importer.WithObserver(observers))
	if err != nil {
		return exitError(err)
	}

	start := time.Now()
	report, err := imp.Run(ctx, entries)
	if srv != nil {
		srv.Imports.RunFinished(err)
	}
	logReport(report, time.Since(start))
	return exitError(err)
}

// runConvert writes line protocol for a single split tier at the base granularity
func runConvert(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: rrdimport convert [--counter] MAPFILE ARCHIVEDIR", exitInvalidInput)
	}

	cfg := *appConfig
	cfg.Tiers = []config.Tier{convertTier(appConfig)}

	entries, opts, err := prepareRun(c, &cfg)
	if err != nil {
		return exitError(err)
	}

	ctx, stop := signalContext()
	defer stop()

	imp, err := importer.New(&cfg, sink.NewLineOpener(os.Stdout), importer.WithOptions(opts))
	if err != nil {
		return exitError(err)
	}

	start := time.Now()
	report, err := imp.Run(ctx, entries)
	logReport(report, time.Since(start))
	return exitError(err)
}

// convertTier is the finest split tier of cfg, or a split tier at the base granularity
func convertTier(cfg *config.Config) config.Tier {
	tier := config.Tier{
		Name:          fmt.Sprintf("%ds", cfg.BaseGranularity),
		Width:         cfg.BaseGranularity,
		RetentionDays: 11,
		Strategy:      resample.StrategySplit,
	}
	for _, t := range cfg.Tiers {
		if t.Strategy == resample.StrategySplit && t.Width == cfg.BaseGranularity {
			tier.Name = t.Name
			tier.RetentionDays = t.RetentionDays
			break
		}
	}
	return tier
}

// prepareRun applies the shared run flags to cfg and loads the mapping
func prepareRun(c *cli.Context, cfg *config.Config) ([]mapping.Entry, importer.Options, error) {
	var opts importer.Options

	if c.NArg() < 1 || c.NArg() > 2 {
		return nil, opts, fmt.Errorf("%w: expected MAPFILE [ARCHIVEDIR]", errUsage)
	}
	if c.NArg() == 2 {
		cfg.ArchiveDir = c.Args().Get(1)
	}
	if w := c.Int("workers"); w > 0 {
		cfg.Workers = w
	}
	if err := cfg.Validate(); err != nil {
		return nil, opts, err
	}

	if c.Bool("counter") {
		opts.Kind = resample.Counter
	}

	var err error
	if opts.Start, err = parseTimeFlag(c.String("start")); err != nil {
		return nil, opts, fmt.Errorf("%w: --start: %v", errUsage, err)
	}
	if opts.End, err = parseTimeFlag(c.String("end")); err != nil {
		return nil, opts, fmt.Errorf("%w: --end: %v", errUsage, err)
	}
	if opts.MaxTime, err = parseTimeFlag(c.String("max-time")); err != nil {
		return nil, opts, fmt.Errorf("%w: --max-time: %v", errUsage, err)
	}

	entries, err := mapping.Load(c.Args().Get(0))
	if err != nil {
		return nil, opts, err
	}
	return entries, opts, nil
}

var errUsage = errors.New("usage")

// parseTimeFlag accepts unix seconds or RFC3339; empty means unset (0)
func parseTimeFlag(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return secs, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("not unix seconds or RFC3339: %q", v)
	}
	return t.Unix(), nil
}

// exitCode maps run errors onto process exit codes
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, mapping.ErrInvalidMapping),
		errors.Is(err, config.ErrInvalidConfig):
		return exitInvalidInput
	case errors.Is(err, importer.ErrArchiveMissing):
		return exitArchiveMissing
	case errors.Is(err, importer.ErrSink):
		return exitSinkFailure
	default:
		return exitFailure
	}
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	return cli.NewExitError(err.Error(), exitCode(err))
}

func logReport(r *importer.Report, took time.Duration) {
	if r == nil {
		return
	}
	log := logrus.WithFields(logrus.Fields{
		"counters": r.Counters,
		"imported": r.Imported,
		"failed":   r.Failed,
		"skipped":  r.SkippedStreams,
		"buckets":  r.Buckets,
		"took":     took.Round(time.Millisecond),
	})
	if r.Failed > 0 {
		for _, f := range r.Failures {
			logrus.WithFields(logrus.Fields{"counter": f.Counter, "id": f.ID}).Warn(f.Error)
		}
		log.Warn("import finished with failures")
		return
	}
	log.Info("import finished")
}

// storeOrMemory is used by commands that can run without a persistent store
func storeOrMemory(s storage.Storage) storage.Storage {
	if s == nil {
		return memory.New()
	}
	return s
}
