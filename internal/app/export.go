package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"coinpeek/internal/storage"
)

// Export renders one symbol's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; cannot export")
	}

	symbol := strings.ToUpper(opts.Symbol)
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Retention.PriceHorizon)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.PricesBetween(ctx, symbol, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Str("symbol", symbol).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().
		Str("symbol", symbol).
		Int("total", len(snapshots)).
		Int("exported", len(downsampled)).
		Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.PriceSnapshot, max int) []storage.PriceSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}
	// The stride below interpolates between max-1 gaps; with a single slot
	// keep the newest point.
	if max == 1 {
		return snapshots[len(snapshots)-1:]
	}

	result := make([]storage.PriceSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.PriceSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "symbol", "price", "percent_change_24h", "volume_24h"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snapshot := range snapshots {
		record := []string{
			snapshot.ObservedAt.UTC().Format(time.RFC3339),
			snapshot.Symbol,
			snapshot.Price.String(),
			snapshot.PercentChange24h.String(),
			snapshot.Volume24h.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, symbol string, snapshots []storage.PriceSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	price := make([]float64, len(snapshots))
	change := make([]float64, len(snapshots))

	for i, snapshot := range snapshots {
		x[i] = snapshot.ObservedAt
		price[i] = snapshot.Price.InexactFloat64()
		change[i] = snapshot.PercentChange24h.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           symbol + " price (USDT)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change 24h (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Change 24h %",
				XValues: x,
				YValues: change,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
