package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"coinpeek/internal/retention"
)

// Purge runs one retention sweep and prints the deleted row counts.
func (a *App) Purge(ctx context.Context, opts PurgeOptions) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; nothing to purge")
	}

	store, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	priceHorizon := a.Config.Retention.PriceHorizon
	if opts.PriceHorizon > 0 {
		priceHorizon = opts.PriceHorizon
	}
	candleHorizon := a.Config.Retention.CandleHorizon
	if opts.CandleHorizon > 0 {
		candleHorizon = opts.CandleHorizon
	}

	sweeper := retention.NewManager(store, retention.Options{
		PriceHorizon:  priceHorizon,
		CandleHorizon: candleHorizon,
		SweepInterval: a.Config.Retention.SweepInterval,
	}, a.Logger)

	result, err := sweeper.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "purged %d prices, %d candles, %d alert events\n",
		result.Prices, result.Candles, result.AlertEvents)
	return nil
}
