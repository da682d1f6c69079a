package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Repository. It backs tests and DSN-less runs;
// data does not survive process restarts. One store-wide RWMutex serialises
// all access, so a bulk candle write briefly blocks reads of unrelated
// symbols, a coarser guarantee than the row-level locking of the pgx store.
type MemoryStore struct {
	mu          sync.RWMutex
	prices      map[string][]PriceSnapshot // ascending by ObservedAt
	candles     map[string]CandleRecord    // keyed by (symbol, timeframe, open_time)
	alertEvents []AlertEventRecord
	nextEventID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices:  make(map[string][]PriceSnapshot),
		candles: make(map[string]CandleRecord),
	}
}

func candleKey(symbol, timeframe string, openTime time.Time) string {
	return fmt.Sprintf("%s|%s|%d", symbol, timeframe, openTime.UnixNano())
}

// PutPrice appends a snapshot unless a later-or-equal one exists.
func (m *MemoryStore) PutPrice(_ context.Context, snapshot PriceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.prices[snapshot.Symbol]
	if n := len(history); n > 0 && !history[n-1].ObservedAt.Before(snapshot.ObservedAt) {
		return nil
	}
	m.prices[snapshot.Symbol] = append(history, snapshot)
	return nil
}

// LatestPrice returns the newest snapshot for a symbol.
func (m *MemoryStore) LatestPrice(_ context.Context, symbol string) (PriceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.prices[symbol]
	if len(history) == 0 {
		return PriceSnapshot{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

// PricesBetween lists a symbol's snapshots within [from, to) ascending.
func (m *MemoryStore) PricesBetween(_ context.Context, symbol string, from, to time.Time) ([]PriceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]PriceSnapshot, 0)
	for _, snapshot := range m.prices[symbol] {
		if !snapshot.ObservedAt.Before(from) && snapshot.ObservedAt.Before(to) {
			result = append(result, snapshot)
		}
	}
	return result, nil
}

// AgeOf reports staleness of the newest snapshot, false when never observed.
func (m *MemoryStore) AgeOf(ctx context.Context, symbol string, now time.Time) (time.Duration, bool, error) {
	latest, err := m.LatestPrice(ctx, symbol)
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return now.Sub(latest.ObservedAt), true, nil
}

// PutCandles upserts all records; the batch is applied atomically.
func (m *MemoryStore) PutCandles(_ context.Context, records []CandleRecord) error {
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range records {
		m.candles[candleKey(record.Symbol, record.Timeframe, record.OpenTime)] = record
	}
	return nil
}

// Candles lists candles within [from, to) ascending by open time.
func (m *MemoryStore) Candles(_ context.Context, symbol, timeframe string, from, to time.Time) ([]CandleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]CandleRecord, 0)
	for _, record := range m.candles {
		if record.Symbol != symbol || record.Timeframe != timeframe {
			continue
		}
		if record.OpenTime.Before(from) || !record.OpenTime.Before(to) {
			continue
		}
		result = append(result, record)
	}
	sortCandles(result)
	return result, nil
}

// RecentCandles returns the newest candles in chronological order.
func (m *MemoryStore) RecentCandles(_ context.Context, symbol, timeframe string, limit int) ([]CandleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]CandleRecord, 0)
	for _, record := range m.candles {
		if record.Symbol == symbol && record.Timeframe == timeframe {
			result = append(result, record)
		}
	}
	sortCandles(result)
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// PurgeOlderThan removes rows past the horizons, keeping each symbol's
// newest price row.
func (m *MemoryStore) PurgeOlderThan(_ context.Context, now time.Time, priceHorizon, candleHorizon time.Duration) (PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result PurgeResult

	priceCutoff := now.Add(-priceHorizon)
	for symbol, history := range m.prices {
		kept := make([]PriceSnapshot, 0, len(history))
		for i, snapshot := range history {
			isNewest := i == len(history)-1
			if !isNewest && snapshot.ObservedAt.Before(priceCutoff) {
				result.Prices++
				continue
			}
			kept = append(kept, snapshot)
		}
		m.prices[symbol] = kept
	}

	candleCutoff := now.Add(-candleHorizon)
	for key, record := range m.candles {
		if record.CloseTime.Before(candleCutoff) {
			delete(m.candles, key)
			result.Candles++
		}
	}

	keptEvents := make([]AlertEventRecord, 0, len(m.alertEvents))
	for _, event := range m.alertEvents {
		if event.FiredAt.Before(priceCutoff) {
			result.AlertEvents++
			continue
		}
		keptEvents = append(keptEvents, event)
	}
	m.alertEvents = keptEvents

	return result, nil
}

// InsertAlertEvent appends a fired alert to the audit log.
func (m *MemoryStore) InsertAlertEvent(_ context.Context, event AlertEventRecord) (AlertEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEventID++
	event.ID = m.nextEventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.alertEvents = append(m.alertEvents, event)
	return event, nil
}

// ListRecentAlertEvents lists the most recently fired alerts.
func (m *MemoryStore) ListRecentAlertEvents(_ context.Context, limit int) ([]AlertEventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]AlertEventRecord, len(m.alertEvents))
	copy(result, m.alertEvents)
	sort.Slice(result, func(i, j int) bool {
		return result[i].FiredAt.After(result[j].FiredAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats counts stored rows.
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for _, history := range m.prices {
		stats.PriceRows += int64(len(history))
	}
	stats.CandleRows = int64(len(m.candles))
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() {}

func sortCandles(candles []CandleRecord) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
}

var _ Repository = (*MemoryStore)(nil)
