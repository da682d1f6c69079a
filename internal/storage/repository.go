package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	// Insert is a no-op when a later-or-equal observation for the symbol is
	// already stored, which makes redelivery and out-of-order writes safe.
	insertPriceSQL = `INSERT INTO price_snapshots (
        symbol,
        price,
        percent_change_24h,
        volume_24h,
        observed_at,
        fetched_at
    )
    SELECT $1,$2,$3,$4,$5,$6
    WHERE NOT EXISTS (
        SELECT 1 FROM price_snapshots
        WHERE symbol = $1 AND observed_at >= $5
    );`

	latestPriceSQL = `SELECT
        symbol, price, percent_change_24h, volume_24h, observed_at, fetched_at
    FROM price_snapshots
    WHERE symbol = $1
    ORDER BY observed_at DESC
    LIMIT 1;`

	pricesBetweenSQL = `SELECT
        symbol, price, percent_change_24h, volume_24h, observed_at, fetched_at
    FROM price_snapshots
    WHERE symbol = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	upsertCandleSQL = `INSERT INTO candles (
        symbol, timeframe, open, high, low, close, volume, open_time, close_time
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (symbol, timeframe, open_time) DO UPDATE
    SET
        open       = EXCLUDED.open,
        high       = EXCLUDED.high,
        low        = EXCLUDED.low,
        close      = EXCLUDED.close,
        volume     = EXCLUDED.volume,
        close_time = EXCLUDED.close_time;`

	candlesBetweenSQL = `SELECT
        symbol, timeframe, open, high, low, close, volume, open_time, close_time
    FROM candles
    WHERE symbol = $1
      AND timeframe = $2
      AND open_time >= $3
      AND open_time < $4
    ORDER BY open_time;`

	recentCandlesSQL = `SELECT
        symbol, timeframe, open, high, low, close, volume, open_time, close_time
    FROM candles
    WHERE symbol = $1
      AND timeframe = $2
    ORDER BY open_time DESC
    LIMIT $3;`

	// Rows older than the horizon are deleted only when a newer row for the
	// same symbol exists, so every symbol keeps its current price.
	purgePricesSQL = `DELETE FROM price_snapshots p
    WHERE p.observed_at < $1
      AND EXISTS (
        SELECT 1 FROM price_snapshots n
        WHERE n.symbol = p.symbol AND n.observed_at > p.observed_at
      );`

	purgeCandlesSQL = `DELETE FROM candles WHERE close_time < $1;`

	purgeAlertEventsSQL = `DELETE FROM alert_events WHERE fired_at < $1;`

	insertAlertEventSQL = `INSERT INTO alert_events (
        rule_id, symbol, comparator, threshold, price, observed_at, fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentAlertEventsSQL = `SELECT
        id, rule_id, symbol, comparator, threshold, price, observed_at, fired_at, created_at
    FROM alert_events
    ORDER BY fired_at DESC
    LIMIT $1;`

	countPricesSQL  = `SELECT COUNT(*) FROM price_snapshots;`
	countCandlesSQL = `SELECT COUNT(*) FROM candles;`
)

// PriceStore defines operations for price snapshot persistence.
type PriceStore interface {
	PutPrice(ctx context.Context, snapshot PriceSnapshot) error
	LatestPrice(ctx context.Context, symbol string) (PriceSnapshot, error)
	PricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSnapshot, error)
	AgeOf(ctx context.Context, symbol string, now time.Time) (time.Duration, bool, error)
}

// CandleStore defines operations for OHLC candle persistence.
type CandleStore interface {
	PutCandles(ctx context.Context, records []CandleRecord) error
	Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]CandleRecord, error)
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]CandleRecord, error)
}

// AlertEventStore defines the append-only alert audit log.
type AlertEventStore interface {
	InsertAlertEvent(ctx context.Context, event AlertEventRecord) (AlertEventRecord, error)
	ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEventRecord, error)
}

// Purger removes rows past the retention horizons.
type Purger interface {
	PurgeOlderThan(ctx context.Context, now time.Time, priceHorizon, candleHorizon time.Duration) (PurgeResult, error)
}

// Repository aggregates all storage access used by the core.
type Repository interface {
	PriceStore
	CandleStore
	AlertEventStore
	Purger
	Stats(ctx context.Context) (Stats, error)
	Close()
}

// Store is the PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// PutPrice persists a snapshot unless a later-or-equal one exists.
func (s *Store) PutPrice(ctx context.Context, snapshot PriceSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertPriceSQL,
		snapshot.Symbol,
		snapshot.Price.String(),
		snapshot.PercentChange24h.String(),
		snapshot.Volume24h.String(),
		snapshot.ObservedAt,
		snapshot.FetchedAt,
	)
	if execErr != nil {
		return fmt.Errorf("put price: %w", execErr)
	}
	return nil
}

// LatestPrice returns the canonical current snapshot for a symbol.
func (s *Store) LatestPrice(ctx context.Context, symbol string) (PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSnapshot{}, err
	}

	rows, queryErr := pool.Query(ctx, latestPriceSQL, symbol)
	if queryErr != nil {
		return PriceSnapshot{}, fmt.Errorf("latest price: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return PriceSnapshot{}, rows.Err()
		}
		return PriceSnapshot{}, ErrNotFound
	}
	return scanPriceSnapshot(rows)
}

// PricesBetween lists a symbol's snapshots within [from, to) ascending.
func (s *Store) PricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pricesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("prices between: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]PriceSnapshot, 0)
	for rows.Next() {
		snapshot, scanErr := scanPriceSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// AgeOf reports how stale a symbol's current snapshot is. The second return
// is false when the symbol has never been observed.
func (s *Store) AgeOf(ctx context.Context, symbol string, now time.Time) (time.Duration, bool, error) {
	latest, err := s.LatestPrice(ctx, symbol)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return now.Sub(latest.ObservedAt), true, nil
}

// PutCandles bulk-upserts candles in a single transaction.
func (s *Store) PutCandles(ctx context.Context, records []CandleRecord) error {
	if len(records) == 0 {
		return nil
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin candle batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, record := range records {
		if _, execErr := tx.Exec(ctx, upsertCandleSQL,
			record.Symbol,
			record.Timeframe,
			record.Open.String(),
			record.High.String(),
			record.Low.String(),
			record.Close.String(),
			record.Volume.String(),
			record.OpenTime,
			record.CloseTime,
		); execErr != nil {
			return fmt.Errorf("upsert candle %s/%s: %w", record.Symbol, record.Timeframe, execErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit candle batch: %w", err)
	}
	return nil
}

// Candles lists candles within [from, to) ascending by open time.
func (s *Store) Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]CandleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, candlesBetweenSQL, symbol, timeframe, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("candles between: %w", queryErr)
	}
	defer rows.Close()

	return collectCandles(rows)
}

// RecentCandles returns the newest candles in chronological order.
func (s *Store) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]CandleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, recentCandlesSQL, symbol, timeframe, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("recent candles: %w", queryErr)
	}
	defer rows.Close()

	candles, err := collectCandles(rows)
	if err != nil {
		return nil, err
	}
	reverseCandles(candles)
	return candles, nil
}

// PurgeOlderThan removes rows past the horizons and reports counts.
func (s *Store) PurgeOlderThan(ctx context.Context, now time.Time, priceHorizon, candleHorizon time.Duration) (PurgeResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return PurgeResult{}, err
	}

	var result PurgeResult

	priceCutoff := now.Add(-priceHorizon)
	tag, execErr := pool.Exec(ctx, purgePricesSQL, priceCutoff)
	if execErr != nil {
		return result, fmt.Errorf("purge prices: %w", execErr)
	}
	result.Prices = tag.RowsAffected()

	candleCutoff := now.Add(-candleHorizon)
	tag, execErr = pool.Exec(ctx, purgeCandlesSQL, candleCutoff)
	if execErr != nil {
		return result, fmt.Errorf("purge candles: %w", execErr)
	}
	result.Candles = tag.RowsAffected()

	tag, execErr = pool.Exec(ctx, purgeAlertEventsSQL, priceCutoff)
	if execErr != nil {
		return result, fmt.Errorf("purge alert events: %w", execErr)
	}
	result.AlertEvents = tag.RowsAffected()

	return result, nil
}

// InsertAlertEvent appends a fired alert to the audit log.
func (s *Store) InsertAlertEvent(ctx context.Context, event AlertEventRecord) (AlertEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEventRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertEventSQL,
		event.RuleID,
		event.Symbol,
		event.Comparator,
		event.Threshold.String(),
		event.Price.String(),
		event.ObservedAt,
		event.FiredAt,
	)

	rec := event
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertEventRecord{}, fmt.Errorf("insert alert event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlertEvents lists the most recently fired alerts.
func (s *Store) ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alert events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEventRecord, 0, limit)
	for rows.Next() {
		var rec AlertEventRecord
		var thresholdStr, priceStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.RuleID,
			&rec.Symbol,
			&rec.Comparator,
			&thresholdStr,
			&priceStr,
			&rec.ObservedAt,
			&rec.FiredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}

		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// Stats counts stored rows.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	pool, err := s.getPool()
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	if scanErr := pool.QueryRow(ctx, countPricesSQL).Scan(&stats.PriceRows); scanErr != nil {
		return Stats{}, fmt.Errorf("count prices: %w", scanErr)
	}
	if scanErr := pool.QueryRow(ctx, countCandlesSQL).Scan(&stats.CandleRows); scanErr != nil {
		return Stats{}, fmt.Errorf("count candles: %w", scanErr)
	}
	return stats, nil
}

func scanPriceSnapshot(rows pgx.Rows) (PriceSnapshot, error) {
	var (
		snapshot  PriceSnapshot
		priceStr  string
		changeStr string
		volumeStr string
	)

	if err := rows.Scan(
		&snapshot.Symbol,
		&priceStr,
		&changeStr,
		&volumeStr,
		&snapshot.ObservedAt,
		&snapshot.FetchedAt,
	); err != nil {
		return PriceSnapshot{}, err
	}

	var err error
	snapshot.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("parse price: %w", err)
	}
	snapshot.PercentChange24h, err = decimal.NewFromString(changeStr)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("parse percent change: %w", err)
	}
	snapshot.Volume24h, err = decimal.NewFromString(volumeStr)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("parse volume: %w", err)
	}

	return snapshot, nil
}

func collectCandles(rows pgx.Rows) ([]CandleRecord, error) {
	candles := make([]CandleRecord, 0)
	for rows.Next() {
		var (
			rec       CandleRecord
			openStr   string
			highStr   string
			lowStr    string
			closeStr  string
			volumeStr string
		)
		if err := rows.Scan(
			&rec.Symbol,
			&rec.Timeframe,
			&openStr,
			&highStr,
			&lowStr,
			&closeStr,
			&volumeStr,
			&rec.OpenTime,
			&rec.CloseTime,
		); err != nil {
			return nil, err
		}

		var err error
		if rec.Open, err = decimal.NewFromString(openStr); err != nil {
			return nil, fmt.Errorf("parse open: %w", err)
		}
		if rec.High, err = decimal.NewFromString(highStr); err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		if rec.Low, err = decimal.NewFromString(lowStr); err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		if rec.Close, err = decimal.NewFromString(closeStr); err != nil {
			return nil, fmt.Errorf("parse close: %w", err)
		}
		if rec.Volume, err = decimal.NewFromString(volumeStr); err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}

		candles = append(candles, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return candles, nil
}

func reverseCandles(candles []CandleRecord) {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
}

var _ Repository = (*Store)(nil)
