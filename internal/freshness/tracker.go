// Package freshness derives the dashboard's connectivity state from poll
// outcomes and data age, with hysteresis so a single dropped request does
// not flap the display.
package freshness

import (
	"sync"
	"time"
)

// State is the reported connectivity level.
type State int

const (
	Online State = iota
	Degraded
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Degraded:
		return "degraded"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Outcome is the aggregate result of one poll cycle.
type Outcome int

const (
	Success Outcome = iota
	TransientFailure
	HardFailure
)

// Options tune the hysteresis constants.
type Options struct {
	RefreshInterval time.Duration
	// RecoverAfter is the number of consecutive successes required to
	// return from Degraded to Online.
	RecoverAfter int
	// FailAfter is the number of consecutive failures that push Degraded
	// to Offline.
	FailAfter int
}

// Tracker owns the connectivity state. Only Apply and SetManualOffline
// mutate it; callers never write the state directly.
type Tracker struct {
	mu sync.Mutex

	state         State
	manualOffline bool

	consecSuccesses int
	consecFailures  int

	refresh      time.Duration
	recoverAfter int
	failAfter    int
}

// NewTracker starts Online with zeroed counters.
func NewTracker(opts Options) *Tracker {
	recoverAfter := opts.RecoverAfter
	if recoverAfter < 1 {
		recoverAfter = 2
	}
	failAfter := opts.FailAfter
	if failAfter < 1 {
		failAfter = 3
	}

	return &Tracker{
		state:        Online,
		refresh:      opts.RefreshInterval,
		recoverAfter: recoverAfter,
		failAfter:    failAfter,
	}
}

// State returns the current connectivity state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ManualOffline reports whether the user forced offline mode.
func (t *Tracker) ManualOffline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.manualOffline
}

// SetManualOffline toggles user-forced offline mode. Entering is sticky:
// only toggling off leaves it, landing in Degraded until polling proves
// itself again.
func (t *Tracker) SetManualOffline(on bool) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if on {
		t.manualOffline = true
		t.state = Offline
	} else if t.manualOffline {
		t.manualOffline = false
		t.state = Degraded
		t.consecSuccesses = 0
		t.consecFailures = 0
	}
	return t.state
}

// Apply folds one poll cycle's aggregate outcome and the maximum data age
// across tracked symbols into the state machine. ageKnown is false when no
// symbol has ever been observed, which counts as infinitely stale.
func (t *Tracker) Apply(outcome Outcome, maxAge time.Duration, ageKnown bool) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if outcome == Success {
		t.consecSuccesses++
		t.consecFailures = 0
	} else {
		t.consecFailures++
		t.consecSuccesses = 0
	}

	// A fetch finishing during manual offline is recorded above but never
	// flips the state; only the user can leave manual offline.
	if t.manualOffline {
		return t.state
	}

	if outcome == HardFailure {
		t.state = Offline
		return t.state
	}

	stale := !ageKnown || maxAge > 2*t.refresh
	fresh := ageKnown && maxAge <= t.refresh

	switch t.state {
	case Online:
		if outcome == TransientFailure || stale {
			t.state = Degraded
		}
	case Degraded:
		if outcome == TransientFailure {
			if t.consecFailures >= t.failAfter {
				t.state = Offline
			}
		} else if t.consecSuccesses >= t.recoverAfter && fresh {
			t.state = Online
		}
	case Offline:
		// Failure-driven offline self-heals on the first success.
		if outcome == Success {
			t.state = Degraded
		}
	}

	return t.state
}
