package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinpeek/internal/storage"
)

func TestMemoryCacheLatest(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, ok, err := c.Latest(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	snapshot := storage.PriceSnapshot{
		Symbol:     "BTCUSDT",
		Price:      decimal.NewFromInt(50000),
		ObservedAt: time.Now().UTC(),
	}
	require.NoError(t, c.SetLatest(ctx, snapshot))

	got, ok, err := c.Latest(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(snapshot.Price))
}

func TestMemoryCacheState(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	asOf := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.SetState(ctx, "degraded", asOf))

	state, at := c.State()
	assert.Equal(t, "degraded", state)
	assert.Equal(t, asOf, at)
}
