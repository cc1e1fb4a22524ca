// Package netstatus tracks the process-wide backend connectivity status:
// a single value derived from connection lifecycle events and periodic
// liveness probing, with a bounded transition history for diagnostics.
package netstatus

import (
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/logging"
)

// Status is the process-wide connectivity state.
type Status int

const (
	// StatusDisconnected means no live transport and no recent probe success.
	StatusDisconnected Status = iota
	// StatusConnecting means a dispatch or transport is establishing.
	StatusConnecting
	// StatusConnected means the backend answered recently.
	StatusConnected
	// StatusError means the backend is reachable but reported failure.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// HistoryCapacity bounds the diagnostic transition history; pushing past it
// evicts the oldest entry.
const HistoryCapacity = 50

// Transition is one recorded status change.
type Transition struct {
	Status Status
	At     time.Time
}

type subscriberEntry struct {
	id int64
	fn func(Status)
}

// Aggregator holds the current status and its bounded history, and notifies
// subscribers on every change.
type Aggregator struct {
	log logging.Logger

	mu          sync.Mutex
	current     Status
	history     []Transition
	subscribers []subscriberEntry
	nextID      int64
}

// NewAggregator starts disconnected, with that initial state on record.
func NewAggregator(log logging.Logger) *Aggregator {
	if log == nil {
		log = logging.Noop{}
	}
	return &Aggregator{
		log:     log,
		current: StatusDisconnected,
		history: []Transition{{Status: StatusDisconnected, At: time.Now()}},
	}
}

// Current returns the current status.
func (a *Aggregator) Current() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// History returns a copy of the recorded transitions, oldest first.
func (a *Aggregator) History() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transition, len(a.history))
	copy(out, a.history)
	return out
}

// Set records a status change and notifies subscribers in subscription
// order. Setting the current status again is a no-op: no history entry, no
// notification.
func (a *Aggregator) Set(status Status) {
	a.mu.Lock()
	if status == a.current {
		a.mu.Unlock()
		return
	}
	a.current = status
	a.history = append(a.history, Transition{Status: status, At: time.Now()})
	if len(a.history) > HistoryCapacity {
		a.history = a.history[len(a.history)-HistoryCapacity:]
	}
	snapshot := make([]subscriberEntry, len(a.subscribers))
	copy(snapshot, a.subscribers)
	a.mu.Unlock()

	a.log.Debug("network status changed", "status", status.String())
	for _, entry := range snapshot {
		entry.fn(status)
	}
}

// Subscribe registers fn, invokes it immediately with the current status,
// and returns an unsubscribe function.
func (a *Aggregator) Subscribe(fn func(Status)) func() {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.subscribers = append(a.subscribers, subscriberEntry{id: id, fn: fn})
	current := a.current
	a.mu.Unlock()

	fn(current)

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, entry := range a.subscribers {
			if entry.id == id {
				a.subscribers = append(a.subscribers[:i], a.subscribers[i+1:]...)
				return
			}
		}
	}
}
