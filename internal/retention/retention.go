// Package retention sweeps rows past the configured horizons on a cadence
// independent of the price-poll loop.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"coinpeek/internal/scheduler"
	"coinpeek/internal/storage"
)

// Options configure the sweep horizons and cadence.
type Options struct {
	PriceHorizon  time.Duration
	CandleHorizon time.Duration
	SweepInterval time.Duration
}

// Manager deletes expired rows. It is the only component that removes data,
// and the store guarantees a symbol's newest price row survives the sweep.
type Manager struct {
	store  storage.Purger
	opts   Options
	logger zerolog.Logger
}

// NewManager constructs a retention manager.
func NewManager(store storage.Purger, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "retention").Logger(),
	}
}

// RunOnce performs a single sweep relative to now.
func (m *Manager) RunOnce(ctx context.Context, now time.Time) (storage.PurgeResult, error) {
	result, err := m.store.PurgeOlderThan(ctx, now, m.opts.PriceHorizon, m.opts.CandleHorizon)
	if err != nil {
		return result, err
	}

	m.logger.Info().
		Int64("prices_deleted", result.Prices).
		Int64("candles_deleted", result.Candles).
		Int64("alert_events_deleted", result.AlertEvents).
		Msg("retention sweep complete")
	return result, nil
}

// Run drives RunOnce on the sweep interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{Interval: m.opts.SweepInterval}, m.logger)
	return sched.Run(ctx, func(ctx context.Context, now time.Time) error {
		_, err := m.RunOnce(ctx, now)
		return err
	})
}
