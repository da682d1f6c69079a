// Package cache mirrors the published view's latest snapshots so
// out-of-process readers get the current prices without touching the
// durable store.
package cache

import (
	"context"
	"time"

	"coinpeek/internal/storage"
)

// SnapshotCache holds the hot copy of each symbol's current snapshot plus
// the connectivity label the coordinator last published.
type SnapshotCache interface {
	SetLatest(ctx context.Context, snapshot storage.PriceSnapshot) error
	Latest(ctx context.Context, symbol string) (storage.PriceSnapshot, bool, error)
	SetState(ctx context.Context, state string, asOf time.Time) error
	Close() error
}
