// Package importer runs the per-counter pipeline:
// read archive, reconcile, resample every tier, write to the sink.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/mapping"
	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/rrd"
	"github.com/nicktill/rrdimport/pkg/sink"
)

// ErrArchiveMissing aborts the run when a mapped counter has no archive dump
var ErrArchiveMissing = errors.New("archive file missing")

// ErrSink wraps failures of the bucket destination; they abort the run
var ErrSink = errors.New("sink failure")

// archiveSuffixes are tried in order after the plain file name
var archiveSuffixes = []string{"", ".gz", ".zst"}

// Options are the run parameters
type Options struct {
	// Kind is the default for entries that do not name one
	Kind resample.Kind

	// Start, if set, replaces the retention cutoff of every tier
	Start int64

	// End is the window end (0 = now)
	End int64

	// MaxTime, if set, cuts the import off at this time
	MaxTime int64
}

// Option configures an Importer
type Option func(*Importer)

// WithOptions sets the run parameters
func WithOptions(o Options) Option {
	return func(imp *Importer) { imp.opts = o }
}

// WithObserver registers a progress observer
func WithObserver(o Observer) Option {
	return func(imp *Importer) { imp.observer = o }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(imp *Importer) { imp.now = now }
}

// Failure records a counter that could not be imported
type Failure struct {
	ID      string `json:"id"`
	Counter string `json:"counter"`
	Error   string `json:"error"`
}

// Report summarizes a run
type Report struct {
	Counters       int       `json:"counters"`
	Imported       int       `json:"imported"`
	Failed         int       `json:"failed"`
	SkippedStreams int       `json:"skipped_streams"`
	Buckets        int64     `json:"buckets"`
	Failures       []Failure `json:"failures,omitempty"`
}

// Importer converts archive dumps into destination buckets
type Importer struct {
	cfg      *config.Config
	opener   sink.Opener
	opts     Options
	observer Observer
	now      func() time.Time
	log      *logrus.Entry

	mu     sync.Mutex
	report *Report
}

// New creates an importer writing through opener
func New(cfg *config.Config, opener sink.Opener, opts ...Option) (*Importer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	imp := &Importer{
		cfg:      cfg,
		opener:   opener,
		observer: Observers(nil),
		now:      time.Now,
		log:      logrus.WithField("component", "importer"),
	}
	for _, o := range opts {
		o(imp)
	}
	return imp, nil
}

// Run imports every entry with at most cfg.Workers counters in flight.
// A malformed archive fails only its counter; a missing archive or a sink
// failure cancels the remaining work and is returned.
func (imp *Importer) Run(ctx context.Context, entries []mapping.Entry) (*Report, error) {
	imp.mu.Lock()
	imp.report = &Report{Counters: len(entries)}
	imp.mu.Unlock()

	now := imp.now().Unix()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.cfg.Workers)

	for _, e := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return imp.importCounter(gctx, e, now)
		})
	}

	err := g.Wait()

	imp.mu.Lock()
	report := *imp.report
	imp.mu.Unlock()

	if err == nil {
		err = ctx.Err()
	}
	return &report, err
}

// Progress returns a snapshot of the current run's report
func (imp *Importer) Progress() Report {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	if imp.report == nil {
		return Report{}
	}
	return *imp.report
}

// Window returns the bucket axis of a tier for a run started at now
func (imp *Importer) Window(tier config.Tier, now int64) resample.Window {
	// zero retention keeps everything, as compaction does
	var start int64
	if tier.RetentionDays > 0 {
		start = now - now%tier.Width - tier.RetentionDays*config.SecondsPerDay
	}
	if imp.opts.Start > 0 {
		start = imp.opts.Start
	}
	// bucket starts stay on the width grid
	if r := start % tier.Width; r != 0 {
		start += tier.Width - r
	}

	end := now
	if imp.opts.End > 0 {
		end = imp.opts.End
	}
	if imp.opts.MaxTime > 0 && imp.opts.MaxTime < end {
		end = imp.opts.MaxTime
	}

	return resample.Window{Width: tier.Width, Start: start, End: end}
}

func (imp *Importer) importCounter(ctx context.Context, e mapping.Entry, now int64) error {
	log := imp.log.WithFields(logrus.Fields{"counter": e.Name, "id": e.ID})
	imp.emit(Event{Type: EventCounterStarted, Counter: e.Name})

	path, err := imp.findArchive(e.ID)
	if err != nil {
		imp.fail(e, err)
		return err
	}

	archives, step, err := rrd.ReadArchives(path)
	if err != nil {
		log.WithError(err).Warn("skipping counter")
		imp.fail(e, err)
		return nil
	}

	kind := e.KindOr(imp.opts.Kind)
	norm := resample.Normalizer{
		Kind:            kind,
		BaseGranularity: imp.cfg.BaseGranularity,
		SourceStep:      imp.sourceStep(step),
	}
	series := resample.Reconcile(archives, norm)

	log.WithFields(logrus.Fields{
		"kind":     kind,
		"archives": len(archives),
		"points":   series.Len(),
	}).Debug("reconciled")

	total := 0
	for _, tier := range imp.cfg.Tiers {
		n, err := imp.writeTier(ctx, e, tier, norm, series, now)
		if errors.Is(err, sink.ErrStreamMissing) {
			log.WithField("tier", tier.Name).Info("skipping tier, destination does not exist")
			imp.mu.Lock()
			imp.report.SkippedStreams++
			imp.mu.Unlock()
			imp.emit(Event{Type: EventTierSkipped, Counter: e.Name, Tier: tier.Name})
			continue
		}
		if err != nil {
			imp.fail(e, err)
			return fmt.Errorf("counter %s tier %s: %w", e.Name, tier.Name, err)
		}
		total += n
		imp.emit(Event{Type: EventTierWritten, Counter: e.Name, Tier: tier.Name, Buckets: n})
	}

	imp.mu.Lock()
	imp.report.Imported++
	imp.report.Buckets += int64(total)
	imp.mu.Unlock()

	log.WithField("buckets", total).Info("imported counter")
	imp.emit(Event{Type: EventCounterDone, Counter: e.Name, Buckets: total})
	return nil
}

func (imp *Importer) writeTier(ctx context.Context, e mapping.Entry, tier config.Tier, norm resample.Normalizer, series *resample.Series, now int64) (int, error) {
	st, err := resample.NewStrategy(tier.Strategy, norm)
	if err != nil {
		return 0, err
	}

	stream, err := imp.opener.Open(ctx, sink.Target{
		Counter: e.Name,
		Tier:    tier.Name,
		Kind:    norm.Kind,
		Path:    e.StreamPath(imp.cfg.StoreRoot, tier.Name),
	})
	if errors.Is(err, sink.ErrStreamMissing) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSink, err)
	}

	n, err := resample.Resample(ctx, series, st, imp.Window(tier, now), stream)
	if cerr := stream.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return n, err
		}
		return n, fmt.Errorf("%w: %v", ErrSink, err)
	}
	return n, nil
}

// findArchive locates the dump for a counter id, allowing compressed copies
func (imp *Importer) findArchive(id string) (string, error) {
	base := filepath.Join(imp.cfg.ArchiveDir, fmt.Sprintf(imp.cfg.ArchivePattern, id))
	for _, suffix := range archiveSuffixes {
		path := base + suffix
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrArchiveMissing, base)
}

func (imp *Importer) sourceStep(docStep int64) int64 {
	if imp.cfg.SourceStep > 0 {
		return imp.cfg.SourceStep
	}
	if docStep > 0 {
		return docStep
	}
	return config.DefaultSourceStep
}

func (imp *Importer) fail(e mapping.Entry, err error) {
	imp.mu.Lock()
	imp.report.Failed++
	imp.report.Failures = append(imp.report.Failures, Failure{ID: e.ID, Counter: e.Name, Error: err.Error()})
	imp.mu.Unlock()

	imp.emit(Event{Type: EventCounterFailed, Counter: e.Name, Error: err.Error()})
}

func (imp *Importer) emit(e Event) {
	e.Time = imp.now()
	imp.observer.Observe(e)
}
