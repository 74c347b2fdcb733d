package cli

import (
	"sync"
	"time"

	"github.com/Paintersrp/kioskd/internal/engine"
)

const defaultHistorySize = 32

// helperStatus captures what the daemon has observed about a helper through
// supervisor events.
type helperStatus struct {
	name      string
	lastEvent time.Time
	state     engine.EventType
	reason    string
	message   string
	failures  int
	history   []HelperTransition
}

// HelperTransition is one recorded lifecycle event.
type HelperTransition struct {
	Timestamp time.Time
	Type      engine.EventType
	Reason    string
	Message   string
}

// HelperSnapshot is a copy of the tracked state of one helper.
type HelperSnapshot struct {
	Name      string
	LastEvent time.Time
	State     engine.EventType
	Reason    string
	Message   string
	Failures  int
}

// statusTracker maintains in-memory helper history built from engine events.
// Close events carry no helper and are recorded under the empty name.
type statusTracker struct {
	mu          sync.RWMutex
	helpers     map[string]*helperStatus
	historySize int
}

func newStatusTracker(historySize int) *statusTracker {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &statusTracker{helpers: make(map[string]*helperStatus), historySize: historySize}
}

// Apply updates the tracker based on the supplied event.
func (t *statusTracker) Apply(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.helpers[evt.Helper]
	if state == nil {
		state = &helperStatus{name: evt.Helper}
		t.helpers[evt.Helper] = state
	}
	if evt.Timestamp.After(state.lastEvent) {
		state.lastEvent = evt.Timestamp
	}
	state.state = evt.Type
	state.reason = evt.Reason

	message := evt.Message
	if evt.Err != nil {
		message = message + ": " + evt.Err.Error()
	}
	state.message = message
	if evt.Type == engine.EventTypeFailed {
		state.failures++
	}

	state.history = append(state.history, HelperTransition{
		Timestamp: evt.Timestamp,
		Type:      evt.Type,
		Reason:    evt.Reason,
		Message:   message,
	})
	if len(state.history) > t.historySize {
		state.history = append([]HelperTransition(nil), state.history[len(state.history)-t.historySize:]...)
	}
}

// Snapshot returns the tracked state of name.
func (t *statusTracker) Snapshot(name string) (HelperSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.helpers[name]
	if !ok {
		return HelperSnapshot{}, false
	}
	return HelperSnapshot{
		Name:      state.name,
		LastEvent: state.lastEvent,
		State:     state.state,
		Reason:    state.reason,
		Message:   state.message,
		Failures:  state.failures,
	}, true
}

// History returns up to limit of the most recent transitions of name, oldest
// first. A non-positive limit returns everything retained.
func (t *statusTracker) History(name string, limit int) []HelperTransition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.helpers[name]
	if !ok {
		return nil
	}
	history := state.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]HelperTransition(nil), history...)
}
