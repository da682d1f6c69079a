package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"coinpeek/internal/storage"
)

// Show prints each tracked symbol's latest snapshot with its age, the most
// recent alert events, and optionally store row counts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; nothing to show")
	}

	store, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now().UTC()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tPrice\tChange 24h%\tVolume 24h\tObserved (UTC)\tAge")

	for _, symbol := range a.Config.Symbols {
		snapshot, err := store.LatestPrice(ctx, symbol)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\t-\n", symbol)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			snapshot.Symbol,
			formatDecimal(snapshot.Price, 2),
			formatDecimal(snapshot.PercentChange24h, 2),
			formatDecimal(snapshot.Volume24h, 0),
			snapshot.ObservedAt.UTC().Format(time.RFC3339),
			now.Sub(snapshot.ObservedAt).Truncate(time.Second),
		)
	}
	writer.Flush()

	if opts.AlertLimit > 0 {
		if err := a.showAlerts(ctx, store, opts.AlertLimit); err != nil {
			return err
		}
	}

	if opts.Stats {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\nstored rows: %d prices, %d candles\n", stats.PriceRows, stats.CandleRows)
	}

	return nil
}

func (a *App) showAlerts(ctx context.Context, store storage.Repository, limit int) error {
	events, err := store.ListRecentAlertEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "\nno alert events")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tSymbol\tRule\tThreshold\tPrice")
	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s %s\t%s\t%s\n",
			event.FiredAt.UTC().Format(time.RFC3339),
			event.Symbol,
			event.Symbol,
			event.Comparator,
			formatDecimal(event.Threshold, 2),
			formatDecimal(event.Price, 2),
		)
	}
	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
