package events

import (
	"encoding/json"
	"testing"

	"github.com/tetherlabs/tether/internal/protocol"
)

// recordingSink appends a label per event so ordering across sinks is
// observable.
type recordingSink struct {
	label string
	trace *[]string
}

func (s *recordingSink) OnOutput(Output)         { *s.trace = append(*s.trace, s.label+":output") }
func (s *recordingSink) OnCompletion(Completion) { *s.trace = append(*s.trace, s.label+":completion") }
func (s *recordingSink) OnError(Error)           { *s.trace = append(*s.trace, s.label+":error") }

type panickingSink struct{}

func (panickingSink) OnOutput(Output)         { panic("sink bug") }
func (panickingSink) OnCompletion(Completion) { panic("sink bug") }
func (panickingSink) OnError(Error)           { panic("sink bug") }

type capturingSink struct {
	outputs     []Output
	completions []Completion
	errors      []Error
}

func (s *capturingSink) OnOutput(o Output)         { s.outputs = append(s.outputs, o) }
func (s *capturingSink) OnCompletion(c Completion) { s.completions = append(s.completions, c) }
func (s *capturingSink) OnError(e Error)           { s.errors = append(s.errors, e) }

func TestPublishFrame_TypedConversion(t *testing.T) {
	bridge := NewBridge(nil)
	sink := &capturingSink{}
	bridge.Subscribe(sink)

	bridge.PublishFrame("t1", protocol.ServerFrame{Type: protocol.FrameOutput, Content: json.RawMessage(`"payload"`)})
	bridge.PublishFrame("t1", protocol.ServerFrame{Type: protocol.FrameCompletion, Status: protocol.StatusSuccess})
	bridge.PublishFrame("t1", protocol.ServerFrame{Type: protocol.FrameCompletion, Status: protocol.StatusFailure, Error: "exit status 1"})
	bridge.PublishFrame("t1", protocol.ServerFrame{Type: protocol.FrameError, Message: "binary not found"})
	bridge.PublishFrame("t1", protocol.ServerFrame{Type: "mystery"})

	if len(sink.outputs) != 1 || string(sink.outputs[0].Content) != `"payload"` {
		t.Errorf("outputs = %+v", sink.outputs)
	}
	if len(sink.completions) != 2 {
		t.Fatalf("completions = %+v", sink.completions)
	}
	if !sink.completions[0].Success || sink.completions[0].Message != "" {
		t.Errorf("success completion = %+v", sink.completions[0])
	}
	if sink.completions[1].Success || sink.completions[1].Message != "exit status 1" {
		t.Errorf("failure completion = %+v", sink.completions[1])
	}
	if len(sink.errors) != 1 || sink.errors[0].Message != "binary not found" {
		t.Errorf("errors = %+v", sink.errors)
	}
	if sink.outputs[0].TabID != "t1" {
		t.Errorf("tab id = %q", sink.outputs[0].TabID)
	}
}

func TestSubscribe_OrderAndPanicIsolation(t *testing.T) {
	bridge := NewBridge(nil)
	var trace []string
	bridge.Subscribe(&recordingSink{label: "a", trace: &trace})
	bridge.Subscribe(panickingSink{})
	bridge.Subscribe(&recordingSink{label: "b", trace: &trace})

	bridge.PublishFrame("t1", protocol.ServerFrame{Type: protocol.FrameOutput})

	if len(trace) != 2 || trace[0] != "a:output" || trace[1] != "b:output" {
		t.Errorf("trace = %v", trace)
	}
}

func TestUnsubscribe(t *testing.T) {
	bridge := NewBridge(nil)
	var trace []string
	unsubscribe := bridge.Subscribe(&recordingSink{label: "a", trace: &trace})
	bridge.Subscribe(&recordingSink{label: "b", trace: &trace})

	unsubscribe()
	bridge.PublishFrame("t1", protocol.ServerFrame{Type: protocol.FrameError, Message: "x"})

	if len(trace) != 1 || trace[0] != "b:error" {
		t.Errorf("trace = %v", trace)
	}
	// Unsubscribing twice is harmless.
	unsubscribe()
}
