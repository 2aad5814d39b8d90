// Package maintenance runs the periodic housekeeping jobs: cache and session
// sweeps on the engine, plus usage-log pruning.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is the engine-side maintenance hook.
type Sweeper interface {
	Maintain() (cacheRemoved, sessionsRemoved int)
}

// Pruner trims old usage rows. Nil disables pruning.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) error
}

const defaultRetention = 30 * 24 * time.Hour

// Runner owns the cron schedule.
type Runner struct {
	cron      *cron.Cron
	sweeper   Sweeper
	pruner    Pruner
	retention time.Duration
	logger    *slog.Logger
}

// New validates the schedule and registers the sweep job. The schedule uses
// the standard five-field cron syntax plus @every descriptors.
func New(schedule string, sweeper Sweeper, pruner Pruner, logger *slog.Logger) (*Runner, error) {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("maintenance: invalid schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		cron:      cron.New(),
		sweeper:   sweeper,
		pruner:    pruner,
		retention: defaultRetention,
		logger:    logger.With("component", "maintenance"),
	}
	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, fmt.Errorf("maintenance: register job: %w", err)
	}
	return r, nil
}

func (r *Runner) sweep() {
	start := time.Now()
	cacheRemoved, sessionsRemoved := r.sweeper.Maintain()

	if r.pruner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.pruner.Prune(ctx, r.retention); err != nil {
			r.logger.Warn("usage prune failed", "error", err)
		}
	}
	r.logger.Debug("maintenance sweep complete",
		"cache_removed", cacheRemoved,
		"sessions_removed", sessionsRemoved,
		"duration", time.Since(start),
	)
}

// Start begins the schedule and blocks until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("maintenance runner started")
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("maintenance runner stopped")
	return nil
}

// RunOnce triggers a sweep immediately, outside the schedule.
func (r *Runner) RunOnce() {
	r.sweep()
}
