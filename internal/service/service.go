// Package service runs the ingestion pipeline: fetch observations, persist
// them, derive connectivity, evaluate alerts, and publish a consistent view
// for the display layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinpeek/internal/alerting"
	"coinpeek/internal/cache"
	"coinpeek/internal/fetcher"
	"coinpeek/internal/freshness"
	"coinpeek/internal/scheduler"
	"coinpeek/internal/storage"
)

// SymbolStatus pairs a symbol's canonical snapshot with its staleness.
type SymbolStatus struct {
	Snapshot storage.PriceSnapshot
	Age      time.Duration
	AgeKnown bool
}

// View is the immutable per-tick read model for the display layer: every
// symbol's latest price and the connectivity state computed in the same
// tick, never a mix of old and new.
type View struct {
	Prices []SymbolStatus
	State  freshness.State
	AsOf   time.Time
}

// Options wire the coordinator's collaborators.
type Options struct {
	Symbols         []string
	RefreshInterval time.Duration
	StartupDelay    time.Duration
	CandleTimeframe string
	CandleLimit     int

	Prices    fetcher.PriceFetcher
	Candles   fetcher.CandleFetcher
	Store     storage.Repository
	Tracker   *freshness.Tracker
	Evaluator *alerting.Evaluator
	Cache     cache.SnapshotCache
}

// Coordinator drives the per-tick pipeline:
// fetch -> persist -> classify -> freshness -> evaluate -> publish.
type Coordinator struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.RWMutex
	view View
}

// New constructs the coordinator.
func New(opts Options, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		opts:   opts,
		logger: logger.With().Str("component", "coordinator").Logger(),
	}
}

// Run seeds the view from cached rows, performs an immediate first tick,
// then polls on the refresh interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.publish(ctx, time.Now().UTC())

	if err := c.Tick(ctx, time.Now().UTC()); err != nil {
		c.logger.Error().Err(err).Msg("initial tick failed")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     c.opts.RefreshInterval,
		StartupDelay: c.opts.StartupDelay,
	}, c.logger)
	return sched.Run(ctx, c.Tick)
}

type fetchResult struct {
	symbol      string
	observation fetcher.PriceObservation
	err         error
}

type evaluation struct {
	prev *storage.PriceSnapshot
	next storage.PriceSnapshot
}

// Tick executes one poll cycle. Per-symbol fetch errors are folded into the
// aggregate outcome and never propagated to callers.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) error {
	if c.opts.Tracker.ManualOffline() {
		c.publish(ctx, now)
		return nil
	}

	results := c.fetchAll(ctx)
	outcome := classifyOutcome(results)

	evaluations := make([]evaluation, 0, len(results))
	for _, result := range results {
		if result.err != nil {
			c.logger.Warn().Err(result.err).Str("symbol", result.symbol).Msg("fetch failed")
			continue
		}

		snapshot := storage.PriceSnapshot{
			Symbol:           result.observation.Symbol,
			Price:            result.observation.Price,
			PercentChange24h: result.observation.PercentChange24h,
			Volume24h:        result.observation.Volume24h,
			ObservedAt:       result.observation.ObservedAt,
			FetchedAt:        now,
		}

		prev := c.previousSnapshot(ctx, result.symbol)

		if err := c.putPriceWithRetry(ctx, snapshot); err != nil {
			// Dropped for this tick; the stale row ages and drives the
			// freshness machine instead.
			c.logger.Error().Err(err).Str("symbol", result.symbol).Msg("persist failed, dropping update")
			continue
		}

		evaluations = append(evaluations, evaluation{prev: prev, next: snapshot})
	}

	maxAge, ageKnown := c.maxAge(ctx, now)
	state := c.opts.Tracker.Apply(outcome, maxAge, ageKnown)

	if state == freshness.Offline {
		c.opts.Evaluator.Suppress()
	} else {
		for _, ev := range evaluations {
			c.opts.Evaluator.Evaluate(ctx, ev.prev, ev.next, state)
		}
	}

	c.publish(ctx, now)

	c.logger.Debug().
		Str("state", state.String()).
		Int("persisted", len(evaluations)).
		Dur("max_age", maxAge).
		Msg("tick complete")
	return nil
}

// fetchAll polls every symbol concurrently so one slow endpoint cannot
// stretch the whole tick.
func (c *Coordinator) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(c.opts.Symbols))

	var wg sync.WaitGroup
	for i, symbol := range c.opts.Symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			observation, err := c.opts.Prices.FetchPrice(ctx, symbol)
			results[i] = fetchResult{symbol: symbol, observation: observation, err: err}
		}(i, symbol)
	}
	wg.Wait()

	return results
}

func classifyOutcome(results []fetchResult) freshness.Outcome {
	outcome := freshness.Success
	for _, result := range results {
		if result.err == nil {
			continue
		}
		if fetcher.IsHard(result.err) {
			return freshness.HardFailure
		}
		outcome = freshness.TransientFailure
	}
	return outcome
}

func (c *Coordinator) previousSnapshot(ctx context.Context, symbol string) *storage.PriceSnapshot {
	prev, err := c.opts.Store.LatestPrice(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to read previous snapshot")
		return nil
	}
	return &prev
}

func (c *Coordinator) putPriceWithRetry(ctx context.Context, snapshot storage.PriceSnapshot) error {
	err := c.opts.Store.PutPrice(ctx, snapshot)
	if err == nil {
		return nil
	}
	c.logger.Warn().Err(err).Str("symbol", snapshot.Symbol).Msg("persist failed, retrying once")
	return c.opts.Store.PutPrice(ctx, snapshot)
}

// maxAge returns the staleness of the most out-of-date tracked symbol.
// A symbol that was never observed, or whose age cannot be read, counts as
// infinitely stale.
func (c *Coordinator) maxAge(ctx context.Context, now time.Time) (time.Duration, bool) {
	var maxAge time.Duration
	for _, symbol := range c.opts.Symbols {
		age, known, err := c.opts.Store.AgeOf(ctx, symbol, now)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to read age")
			return 0, false
		}
		if !known {
			return 0, false
		}
		if age > maxAge {
			maxAge = age
		}
	}
	return maxAge, true
}

// publish rebuilds the read model in one pass and swaps it atomically.
func (c *Coordinator) publish(ctx context.Context, now time.Time) {
	prices := make([]SymbolStatus, 0, len(c.opts.Symbols))
	for _, symbol := range c.opts.Symbols {
		snapshot, err := c.opts.Store.LatestPrice(ctx, symbol)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to read snapshot for view")
			continue
		}
		prices = append(prices, SymbolStatus{
			Snapshot: snapshot,
			Age:      now.Sub(snapshot.ObservedAt),
			AgeKnown: true,
		})
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].Snapshot.Symbol < prices[j].Snapshot.Symbol
	})

	view := View{
		Prices: prices,
		State:  c.opts.Tracker.State(),
		AsOf:   now,
	}

	c.mu.Lock()
	c.view = view
	c.mu.Unlock()

	c.mirror(ctx, view)
}

func (c *Coordinator) mirror(ctx context.Context, view View) {
	if c.opts.Cache == nil {
		return
	}
	for _, status := range view.Prices {
		if err := c.opts.Cache.SetLatest(ctx, status.Snapshot); err != nil {
			c.logger.Warn().Err(err).Str("symbol", status.Snapshot.Symbol).Msg("cache mirror failed")
			return
		}
	}
	if err := c.opts.Cache.SetState(ctx, view.State.String(), view.AsOf); err != nil {
		c.logger.Warn().Err(err).Msg("cache state mirror failed")
	}
}

// View returns the last published read model. The returned value shares no
// mutable state with the coordinator.
func (c *Coordinator) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prices := make([]SymbolStatus, len(c.view.Prices))
	copy(prices, c.view.Prices)
	return View{Prices: prices, State: c.view.State, AsOf: c.view.AsOf}
}

// SetOffline toggles user-forced offline mode and republishes immediately
// so the display never shows a stale connectivity label.
func (c *Coordinator) SetOffline(ctx context.Context, on bool) {
	c.opts.Tracker.SetManualOffline(on)
	c.publish(ctx, time.Now().UTC())
}

// DrainAlerts hands queued alert events to the display layer.
func (c *Coordinator) DrainAlerts() []alerting.Event {
	return c.opts.Evaluator.Drain()
}

// CandlesFor serves candles read-through: stored rows when present,
// otherwise a feed fetch whose result is persisted for next time.
func (c *Coordinator) CandlesFor(ctx context.Context, symbol string) ([]storage.CandleRecord, error) {
	records, err := c.opts.Store.RecentCandles(ctx, symbol, c.opts.CandleTimeframe, c.opts.CandleLimit)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle read failed, falling back to feed")
	}
	if err == nil && len(records) > 0 {
		return records, nil
	}

	if c.opts.Candles == nil {
		return records, nil
	}

	observations, fetchErr := c.opts.Candles.FetchCandles(ctx, symbol, c.opts.CandleTimeframe, c.opts.CandleLimit)
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", symbol, fetchErr)
	}

	records = make([]storage.CandleRecord, 0, len(observations))
	for _, observation := range observations {
		records = append(records, storage.CandleRecord{
			Symbol:    observation.Symbol,
			Timeframe: observation.Timeframe,
			Open:      observation.Open,
			High:      observation.High,
			Low:       observation.Low,
			Close:     observation.Close,
			Volume:    observation.Volume,
			OpenTime:  observation.OpenTime,
			CloseTime: observation.CloseTime,
		})
	}

	if err := c.opts.Store.PutCandles(ctx, records); err != nil {
		c.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist fetched candles")
	}
	return records, nil
}
