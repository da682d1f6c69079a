package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceAt(symbol string, price int64, observed time.Time) PriceSnapshot {
	return PriceSnapshot{
		Symbol:     symbol,
		Price:      decimal.NewFromInt(price),
		ObservedAt: observed,
		FetchedAt:  observed,
	}
}

func candleAt(symbol string, open time.Time, close decimal.Decimal) CandleRecord {
	return CandleRecord{
		Symbol:    symbol,
		Timeframe: "5m",
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    decimal.NewFromInt(10),
		OpenTime:  open,
		CloseTime: open.Add(5 * time.Minute),
	}
}

func TestPutPriceMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 50000, base)))
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 50100, base.Add(5*time.Second))))

	// A replayed older observation must not regress the latest row.
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 49000, base)))

	latest, err := store.LatestPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(50100)))

	// Equal timestamps are idempotent, not duplicated.
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 99999, base.Add(5*time.Second))))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PriceRows)
}

func TestLatestPriceUnknownSymbol(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.LatestPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPricesBetweenHalfOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", int64(100+i), base.Add(time.Duration(i)*time.Minute))))
	}

	window, err := store.PricesBetween(ctx, "BTCUSDT", base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, base.Add(time.Minute), window[0].ObservedAt)
	assert.Equal(t, base.Add(2*time.Minute), window[1].ObservedAt)
}

func TestAgeOf(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	_, known, err := store.AgeOf(ctx, "BTCUSDT", base)
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 50000, base)))

	age, known, err := store.AgeOf(ctx, "BTCUSDT", base.Add(7*time.Second))
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, 7*time.Second, age)
}

func TestPutCandlesUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	open := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := candleAt("BTCUSDT", open, decimal.NewFromInt(100))
	require.NoError(t, store.PutCandles(ctx, []CandleRecord{first}))

	// Re-putting the same (symbol, timeframe, open_time) replaces the row.
	second := candleAt("BTCUSDT", open, decimal.NewFromInt(200))
	require.NoError(t, store.PutCandles(ctx, []CandleRecord{second}))

	candles, err := store.RecentCandles(ctx, "BTCUSDT", "5m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(200)))
}

func TestRecentCandlesChronologicalWithLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	records := make([]CandleRecord, 0, 5)
	for i := 0; i < 5; i++ {
		records = append(records, candleAt("BTCUSDT", base.Add(time.Duration(i)*5*time.Minute), decimal.NewFromInt(int64(100+i))))
	}
	require.NoError(t, store.PutCandles(ctx, records))

	candles, err := store.RecentCandles(ctx, "BTCUSDT", "5m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
	assert.True(t, candles[1].OpenTime.Before(candles[2].OpenTime))
	assert.Equal(t, base.Add(4*5*time.Minute), candles[2].OpenTime)
}

func TestCandlesWindowHalfOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	records := make([]CandleRecord, 0, 4)
	for i := 0; i < 4; i++ {
		records = append(records, candleAt("BTCUSDT", base.Add(time.Duration(i)*5*time.Minute), decimal.NewFromInt(int64(100+i))))
	}
	require.NoError(t, store.PutCandles(ctx, records))

	window, err := store.Candles(ctx, "BTCUSDT", "5m", base.Add(5*time.Minute), base.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, base.Add(5*time.Minute), window[0].OpenTime)
	assert.Equal(t, base.Add(10*time.Minute), window[1].OpenTime)
}

func TestPurgeSparesNewestPriceRow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	horizon := 24 * time.Hour

	// All of this symbol's rows are past the horizon.
	old := now.Add(-48 * time.Hour)
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 100, old)))
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 110, old.Add(time.Minute))))

	result, err := store.PurgeOlderThan(ctx, now, horizon, horizon)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Prices)

	latest, err := store.LatestPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(110)))
}

func TestPurgeHorizonBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	horizon := 24 * time.Hour
	cutoff := now.Add(-horizon)

	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 100, cutoff.Add(-time.Second))))
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 101, cutoff)))
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 102, cutoff.Add(time.Second))))

	result, err := store.PurgeOlderThan(ctx, now, horizon, horizon)
	require.NoError(t, err)

	// Only the row strictly before the cutoff goes; the row exactly at the
	// cutoff stays.
	assert.Equal(t, int64(1), result.Prices)

	window, err := store.PricesBetween(ctx, "BTCUSDT", cutoff.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestPurgeCandlesByCloseTime(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	horizon := 24 * time.Hour

	expired := candleAt("BTCUSDT", now.Add(-48*time.Hour), decimal.NewFromInt(100))
	kept := candleAt("BTCUSDT", now.Add(-time.Hour), decimal.NewFromInt(200))
	require.NoError(t, store.PutCandles(ctx, []CandleRecord{expired, kept}))

	result, err := store.PurgeOlderThan(ctx, now, horizon, horizon)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Candles)

	candles, err := store.RecentCandles(ctx, "BTCUSDT", "5m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(200)))
}

func TestAlertEventLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.InsertAlertEvent(ctx, AlertEventRecord{
			RuleID:     "r1",
			Symbol:     "BTCUSDT",
			Comparator: "above",
			Threshold:  decimal.NewFromInt(100),
			Price:      decimal.NewFromInt(int64(101 + i)),
			ObservedAt: base.Add(time.Duration(i) * time.Minute),
			FiredAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	events, err := store.ListRecentAlertEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].FiredAt.After(events[1].FiredAt))
	assert.NotZero(t, events[0].ID)
}
