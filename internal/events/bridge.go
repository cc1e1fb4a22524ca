// Package events fans parsed server frames out to UI-visible sinks: every
// subscriber sees the stream of output, completion, and error events for all
// tabs, in arrival order.
package events

import (
	"encoding/json"
	"sync"

	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/protocol"
)

// Output carries one output frame, content forwarded verbatim.
type Output struct {
	TabID   string
	Content json.RawMessage
}

// Completion is the terminal success/failure event for a logical request.
type Completion struct {
	TabID   string
	Success bool
	Message string // failure detail; empty on success
}

// Error is a backend-reported error event.
type Error struct {
	TabID   string
	Message string
}

// Sink receives bridged events. Implementations must tolerate being called
// from the transport's read goroutine.
type Sink interface {
	OnOutput(Output)
	OnCompletion(Completion)
	OnError(Error)
}

type sinkEntry struct {
	id   int64
	sink Sink
}

// Bridge fans events out to subscribed sinks in subscription order. A
// panicking sink is isolated and does not stop the others.
type Bridge struct {
	log logging.Logger

	mu     sync.Mutex
	sinks  []sinkEntry
	nextID int64
}

// NewBridge creates an empty bridge. A nil logger means no logging.
func NewBridge(log logging.Logger) *Bridge {
	if log == nil {
		log = logging.Noop{}
	}
	return &Bridge{log: log}
}

// Subscribe registers a sink and returns its unsubscribe function.
func (b *Bridge) Subscribe(sink Sink) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.sinks = append(b.sinks, sinkEntry{id: id, sink: sink})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.sinks {
			if entry.id == id {
				b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
				return
			}
		}
	}
}

// PublishFrame converts a server frame into its typed event and fans it out.
// Frames with unknown types are dropped with a log line.
func (b *Bridge) PublishFrame(tabID string, frame protocol.ServerFrame) {
	switch frame.Type {
	case protocol.FrameOutput:
		b.each(func(s Sink) { s.OnOutput(Output{TabID: tabID, Content: frame.Content}) })
	case protocol.FrameCompletion:
		ev := Completion{TabID: tabID, Success: frame.Succeeded()}
		if !ev.Success {
			ev.Message = frame.FailureMessage()
		}
		b.each(func(s Sink) { s.OnCompletion(ev) })
	case protocol.FrameError:
		b.each(func(s Sink) { s.OnError(Error{TabID: tabID, Message: frame.FailureMessage()}) })
	default:
		b.log.Debug("dropping frame with unknown type", "type", frame.Type, "tab_id", tabID)
	}
}

func (b *Bridge) each(fn func(Sink)) {
	b.mu.Lock()
	snapshot := make([]sinkEntry, len(b.sinks))
	copy(snapshot, b.sinks)
	b.mu.Unlock()

	for _, entry := range snapshot {
		b.invoke(entry, fn)
	}
}

func (b *Bridge) invoke(entry sinkEntry, fn func(Sink)) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event sink panicked", "sink_id", entry.id, "panic", r)
		}
	}()
	fn(entry.sink)
}
