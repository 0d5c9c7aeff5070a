package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/peopleops/portal/pkg/observability"
)

// Sweeper periodically deletes expired overrides. Expired overrides are
// already filtered out of resolution, so the sweep is housekeeping: it
// keeps the overrides table small and the admin views honest.
type Sweeper struct {
	store   *Store
	bus     Bus
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewSweeper creates a sweeper. Schedule uses cron syntax, e.g.
// "@every 10m" or "0 * * * *".
func NewSweeper(store *Store, bus Bus, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		store:   store,
		bus:     bus,
		logger:  logger,
		metrics: metrics,
		cron:    cron.New(),
	}
}

// Start schedules the sweep and begins running it
func (s *Sweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep purges expired overrides once. On purge it clears the resolved-set
// cache everywhere, since any user's set may have depended on a purged row.
func (s *Sweeper) Sweep(ctx context.Context) {
	purged, err := s.store.PurgeExpiredOverrides(ctx)
	if err != nil {
		s.logger.WithError(err).Error("expired override sweep failed")
		return
	}
	if purged == 0 {
		return
	}

	if s.metrics != nil {
		s.metrics.SweeperPurgedTotal.Add(float64(purged))
	}
	if err := s.bus.PublishInvalidation(ctx, Invalidation{}); err != nil {
		s.logger.WithError(err).Warn("failed to broadcast invalidation after sweep")
	}
	s.logger.WithField("purged", purged).Info("purged expired overrides")
}
