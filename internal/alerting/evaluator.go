package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinpeek/internal/freshness"
	"coinpeek/internal/storage"
)

// Comparator selects the side of the threshold the rule watches.
type Comparator int

const (
	Above Comparator = iota
	Below
)

func (c Comparator) String() string {
	if c == Below {
		return "below"
	}
	return "above"
}

// ParseComparator maps config strings to a Comparator.
func ParseComparator(s string) (Comparator, error) {
	switch s {
	case "above":
		return Above, nil
	case "below":
		return Below, nil
	default:
		return Above, fmt.Errorf("unknown comparator %q", s)
	}
}

// Rule is a user-provisioned price threshold. Armed tracks whether the rule
// is on the not-yet-fired side of its threshold; it is owned by the
// Evaluator and mutated only inside the tick pipeline.
type Rule struct {
	ID         string
	Symbol     string
	Comparator Comparator
	Threshold  decimal.Decimal
	Armed      bool
}

func (r Rule) satisfied(price decimal.Decimal) bool {
	if r.Comparator == Below {
		return price.LessThan(r.Threshold)
	}
	return price.GreaterThan(r.Threshold)
}

// Event is a fired alert, queued for the UI to drain.
type Event struct {
	RuleID     string
	Symbol     string
	Comparator Comparator
	Threshold  decimal.Decimal
	Price      decimal.Decimal
	ObservedAt time.Time
	FiredAt    time.Time
}

// Evaluator applies rules to incoming snapshots with edge-triggered firing:
// a rule fires once per threshold crossing and must cross back before it
// can fire again.
type Evaluator struct {
	mu      sync.Mutex
	rules   map[string]*Rule
	pending []Event

	// rebaseline marks rules whose armed state is stale after an offline
	// gap; their next evaluation resets Armed without firing.
	rebaseline map[string]bool

	store    storage.AlertEventStore
	notifier Notifier
	logger   zerolog.Logger
}

// NewEvaluator builds an evaluator. store and notifier may be nil; fired
// events are then only queued in memory.
func NewEvaluator(rules []Rule, store storage.AlertEventStore, notifier Notifier, logger zerolog.Logger) *Evaluator {
	e := &Evaluator{
		rules:      make(map[string]*Rule, len(rules)),
		rebaseline: make(map[string]bool),
		store:      store,
		notifier:   notifier,
		logger:     logger.With().Str("component", "alert_evaluator").Logger(),
	}
	for _, rule := range rules {
		e.addLocked(rule)
	}
	return e
}

// AddRule registers a rule. A rule starts armed; its first matching
// observation baselines it against the live price without firing.
func (e *Evaluator) AddRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addLocked(rule)
}

func (e *Evaluator) addLocked(rule Rule) {
	if rule.ID == "" {
		rule.ID = fmt.Sprintf("%s-%s-%s", rule.Symbol, rule.Comparator, rule.Threshold.String())
	}
	rule.Armed = true
	e.rules[rule.ID] = &rule
}

// RemoveRule deletes a rule by ID.
func (e *Evaluator) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, id)
	delete(e.rebaseline, id)
}

// Rules returns a copy of the current rule set.
func (e *Evaluator) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		result = append(result, *rule)
	}
	return result
}

// Suppress is called for ticks spent Offline: no rule may fire on stale
// replays, and every rule re-baselines on its next evaluation so the
// recovery tick cannot alert on price moves that happened during the gap.
func (e *Evaluator) Suppress() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.rules {
		e.rebaseline[id] = true
	}
}

// Evaluate compares a freshly persisted snapshot against all rules bound to
// its symbol. prev is the previous canonical snapshot read before the
// write, nil when the symbol was unseen. Fired events are queued, persisted,
// and dispatched. The mutex guards only the armed-flag mutation and the
// queue append; persistence and notification happen after release so Drain
// and the rule accessors never wait on network I/O.
func (e *Evaluator) Evaluate(ctx context.Context, prev *storage.PriceSnapshot, next storage.PriceSnapshot, state freshness.State) []Event {
	if state == freshness.Offline {
		e.Suppress()
		return nil
	}

	e.mu.Lock()

	var fired []Event
	for id, rule := range e.rules {
		if rule.Symbol != next.Symbol {
			continue
		}

		satisfied := rule.satisfied(next.Price)

		if e.rebaseline[id] || prev == nil {
			rule.Armed = !satisfied
			delete(e.rebaseline, id)
			continue
		}

		if rule.Armed && satisfied && !rule.satisfied(prev.Price) {
			rule.Armed = false
			event := Event{
				RuleID:     rule.ID,
				Symbol:     rule.Symbol,
				Comparator: rule.Comparator,
				Threshold:  rule.Threshold,
				Price:      next.Price,
				ObservedAt: next.ObservedAt,
				FiredAt:    time.Now().UTC(),
			}
			fired = append(fired, event)
			e.pending = append(e.pending, event)
			continue
		}

		if !satisfied {
			rule.Armed = true
		}
	}

	e.mu.Unlock()

	for _, event := range fired {
		e.record(ctx, event)
	}

	return fired
}

// Drain returns all queued events and clears the queue.
func (e *Evaluator) Drain() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	events := e.pending
	e.pending = nil
	return events
}

func (e *Evaluator) record(ctx context.Context, event Event) {
	e.logger.Info().
		Str("rule", event.RuleID).
		Str("symbol", event.Symbol).
		Str("price", event.Price.String()).
		Str("threshold", event.Threshold.String()).
		Msg("alert fired")

	if e.store != nil {
		record := storage.AlertEventRecord{
			RuleID:     event.RuleID,
			Symbol:     event.Symbol,
			Comparator: event.Comparator.String(),
			Threshold:  event.Threshold,
			Price:      event.Price,
			ObservedAt: event.ObservedAt,
			FiredAt:    event.FiredAt,
		}
		if _, err := e.store.InsertAlertEvent(ctx, record); err != nil {
			e.logger.Error().Err(err).Str("rule", event.RuleID).Msg("failed to persist alert event")
		}
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, event); err != nil {
			e.logger.Error().Err(err).Str("rule", event.RuleID).Msg("failed to dispatch alert")
		}
	}
}
