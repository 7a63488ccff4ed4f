package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically removes records whose window closed more than Grace
// ago. Without it the in-memory store keeps one record per identifier ever
// seen.
type Sweeper struct {
	store    Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *zap.Logger
	onSweep  func(removed int)
}

func NewSweeper(store Store, interval, grace time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if grace < 0 {
		grace = 0
	}

	return &Sweeper{
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger:   logger.Named("sweeper"),
	}
}

// OnSweep registers a callback invoked after each successful pass.
func (s *Sweeper) OnSweep(fn func(removed int)) *Sweeper {
	s.onSweep = fn
	return s
}

// SweepOnce runs a single pass and returns the number of records removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	removed, err := s.store.Sweep(ctx, s.now().Add(-s.grace))
	if err == nil && s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed, err
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("rate limit sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("grace", s.grace),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rate limit sweeper stopped")
			return
		case <-ticker.C:
			removed, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Warn("sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Debug("swept stale records", zap.Int("removed", removed))
			}
		}
	}
}
