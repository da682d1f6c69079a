package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePriceRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	snapshot := PriceSnapshot{
		Symbol:           "BTCUSDT",
		Price:            decimal.RequireFromString("50123.45"),
		PercentChange24h: decimal.RequireFromString("-1.25"),
		Volume24h:        decimal.RequireFromString("12345.6"),
		ObservedAt:       base,
		FetchedAt:        base,
	}
	require.NoError(t, store.PutPrice(ctx, snapshot))

	latest, err := store.LatestPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, latest.Price.Equal(snapshot.Price))
	assert.True(t, latest.PercentChange24h.Equal(snapshot.PercentChange24h))
	assert.True(t, latest.ObservedAt.Equal(base))

	_, err = store.LatestPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorePutPriceMonotonic(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 50000, base)))
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 50100, base.Add(5*time.Second))))

	// Replays of equal or older observations are no-ops.
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 49000, base)))
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 99999, base.Add(5*time.Second))))

	latest, err := store.LatestPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(50100)))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PriceRows)
}

func TestStoreCandleUpsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	open := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutCandles(ctx, []CandleRecord{candleAt("BTCUSDT", open, decimal.NewFromInt(100))}))
	require.NoError(t, store.PutCandles(ctx, []CandleRecord{candleAt("BTCUSDT", open, decimal.NewFromInt(200))}))

	candles, err := store.RecentCandles(ctx, "BTCUSDT", "5m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(200)))
}

func TestStoreRecentCandlesChronological(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	records := make([]CandleRecord, 0, 5)
	for i := 0; i < 5; i++ {
		records = append(records, candleAt("BTCUSDT", base.Add(time.Duration(i)*5*time.Minute), decimal.NewFromInt(int64(100+i))))
	}
	require.NoError(t, store.PutCandles(ctx, records))

	candles, err := store.RecentCandles(ctx, "BTCUSDT", "5m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.True(t, candles[0].OpenTime.Before(candles[2].OpenTime))
	assert.True(t, candles[2].OpenTime.Equal(base.Add(4*5*time.Minute)))
}

func TestStorePurgeSparesNewestPriceRow(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)

	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 100, old)))
	require.NoError(t, store.PutPrice(ctx, priceAt("BTCUSDT", 110, old.Add(time.Minute))))

	result, err := store.PurgeOlderThan(ctx, now, 24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Prices)

	latest, err := store.LatestPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(110)))
}

func TestStoreAlertEventLog(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	inserted, err := store.InsertAlertEvent(ctx, AlertEventRecord{
		RuleID:     "r1",
		Symbol:     "BTCUSDT",
		Comparator: "above",
		Threshold:  decimal.NewFromInt(100000),
		Price:      decimal.NewFromInt(100500),
		ObservedAt: base,
		FiredAt:    base,
	})
	require.NoError(t, err)
	assert.NotZero(t, inserted.ID)
	assert.False(t, inserted.CreatedAt.IsZero())

	events, err := store.ListRecentAlertEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].RuleID)
	assert.True(t, events[0].Threshold.Equal(decimal.NewFromInt(100000)))
}
