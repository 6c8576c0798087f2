package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/echelonflow/echelon/pkg/store"
	"github.com/robfig/cron/v3"
)

// Sweeper periodically evicts terminal instances once they have been
// finished for longer than the retention window. Completed, Failed and
// Cancelled instances are all eligible.
type Sweeper struct {
	instances store.InstanceStore
	logger    *slog.Logger
	retention time.Duration
	cron      *cron.Cron
}

// NewSweeper schedules a sweep every interval. The sweeper does not run
// until Start is called.
func NewSweeper(instances store.InstanceStore, logger *slog.Logger, interval, retention time.Duration) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sweeper := &Sweeper{
		instances: instances,
		logger:    logger.With("module", "sweeper"),
		retention: retention,
	}

	sweeper.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := sweeper.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		sweeper.SweepOnce(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule sweep: %w", err)
	}

	return sweeper, nil
}

// Start begins periodic sweeping.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight sweep to finish, up to
// the deadline of ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	stopped := s.cron.Stop()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

// SweepOnce evicts every terminal instance whose end timestamp is older than
// the retention window and returns the number evicted.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	instances, err := s.instances.List(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list instances for sweep", "error", err)

		return 0
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	evicted := 0

	for _, instance := range instances {
		status := instance.CurrentStatus()
		if !status.Terminal() {
			continue
		}

		snapshot := instance.Snapshot()
		if snapshot.FinishedAt == nil || snapshot.FinishedAt.After(cutoff) {
			continue
		}

		if err := s.instances.Delete(ctx, instance.ID); err != nil {
			s.logger.ErrorContext(ctx, "Failed to evict instance",
				"instance_id", instance.ID, "error", err)

			continue
		}

		evicted++
	}

	if evicted > 0 {
		s.logger.InfoContext(ctx, "Swept terminal instances", "count", evicted)
	}

	return evicted
}
