package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
)

const reapTimeout = 4 * time.Minute

// StaleProgressDeleter removes abandoned snapshots.
type StaleProgressDeleter interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProgressReaper periodically deletes snapshots older than the retention
// window and snapshots of attempts that were already submitted.
type ProgressReaper struct {
	store     StaleProgressDeleter
	retention time.Duration
	schedule  string
	metrics   *metrics.Metrics
	now       func() time.Time
	log       zerolog.Logger
	cron      *cron.Cron
}

// NewProgressReaper creates a new ProgressReaper. schedule uses cron syntax
// or descriptors such as "@every 1h".
func NewProgressReaper(store StaleProgressDeleter, retention time.Duration, schedule string, m *metrics.Metrics, log zerolog.Logger) *ProgressReaper {
	l := log.With().Str("component", "progress_reaper").Logger()
	return &ProgressReaper{
		store:     store,
		retention: retention,
		schedule:  schedule,
		metrics:   m,
		now:       time.Now,
		log:       l,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{l})), cron.WithLogger(cronLogger{l})),
	}
}

// Start registers the job and starts the scheduler. It returns immediately.
func (r *ProgressReaper) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error().Err(err).Msg("Reap failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule reaper %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.log.Info().Str("schedule", r.schedule).Dur("retention", r.retention).Msg("Reaper started")
	return nil
}

// Stop stops the scheduler and waits for a running job until ctx is done.
func (r *ProgressReaper) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.log.Warn().Msg("Reaper stop timed out")
	}
}

// RunOnce deletes everything older than the retention window.
func (r *ProgressReaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	n, err := r.store.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.ProgressReaped.Add(float64(n))
	}
	if n > 0 {
		r.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Stale progress reaped")
	}
	return n, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
