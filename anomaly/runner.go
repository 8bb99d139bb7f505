package anomaly

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// IdentitySource lists identities worth scanning.
type IdentitySource interface {
	RecentIdentities(ctx context.Context, since time.Time) ([]string, error)
}

// RunnerConfig controls the periodic scan.
type RunnerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	WindowDays  int           `yaml:"window_days"`
	Concurrency int           `yaml:"concurrency"`
}

// DefaultRunnerConfig scans every five minutes over a week of history.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:    5 * time.Minute,
		WindowDays:  7,
		Concurrency: 4,
	}
}

// RunnerStats is a point-in-time copy of runner counters.
type RunnerStats struct {
	Runs       uint64
	Scanned    uint64
	Suspicious uint64
	Flags      uint64
	Errors     uint64
}

// Runner scans recently active identities on a fixed interval. Scan
// failures are counted and logged, never returned.
type Runner struct {
	detector   *Detector
	identities IdentitySource
	config     RunnerConfig
	logger     zerolog.Logger
	onReport   func(Report)

	runs       atomic.Uint64
	scanned    atomic.Uint64
	suspicious atomic.Uint64
	flags      atomic.Uint64
	errors     atomic.Uint64
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// OnReport registers a callback invoked for every suspicious report.
func OnReport(fn func(Report)) RunnerOption {
	return func(r *Runner) {
		r.onReport = fn
	}
}

// NewRunner builds a runner. Zero config fields take defaults.
func NewRunner(detector *Detector, identities IdentitySource, cfg RunnerConfig, opts ...RunnerOption) (*Runner, error) {
	if detector == nil || identities == nil {
		return nil, errors.New("anomaly: runner requires detector and identity source")
	}
	def := DefaultRunnerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}

	r := &Runner{
		detector:   detector,
		identities: identities,
		config:     cfg,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run scans once immediately and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce scans every identity that created a session inside the window.
func (r *Runner) RunOnce(ctx context.Context) {
	r.runs.Add(1)

	since := r.detector.now().Add(-time.Duration(r.config.WindowDays) * 24 * time.Hour)
	ids, err := r.identities.RecentIdentities(ctx, since)
	if err != nil {
		r.errors.Add(1)
		r.logger.Warn().Err(err).Msg("anomaly runner could not list identities")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			report, err := r.detector.Scan(gctx, id, r.config.WindowDays)
			if err != nil {
				r.errors.Add(1)
				r.logger.Warn().Err(err).Str("identity_id", id).Msg("anomaly scan failed")
				return nil
			}
			r.scanned.Add(1)
			if report.Suspicious() {
				r.suspicious.Add(1)
				r.flags.Add(uint64(len(report.Flags)))
				if r.onReport != nil {
					r.onReport(report)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Stats returns the runner counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Runs:       r.runs.Load(),
		Scanned:    r.scanned.Load(),
		Suspicious: r.suspicious.Load(),
		Flags:      r.flags.Load(),
		Errors:     r.errors.Load(),
	}
}
