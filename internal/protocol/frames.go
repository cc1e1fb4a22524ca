// Package protocol defines the JSON wire frames exchanged with the agent
// execution backend over the duplex streaming connection.
package protocol

import (
	"encoding/json"
	"fmt"
)

// CommandKind selects how the backend starts or re-attaches an agent run.
type CommandKind string

const (
	// CommandExecute starts a fresh agent run in the project.
	CommandExecute CommandKind = "execute"
	// CommandContinue continues the most recent conversation in the project.
	CommandContinue CommandKind = "continue"
	// CommandResume re-attaches to a specific backend-side session.
	CommandResume CommandKind = "resume"
)

// Valid reports whether k is a command kind the backend understands.
func (k CommandKind) Valid() bool {
	switch k {
	case CommandExecute, CommandContinue, CommandResume:
		return true
	}
	return false
}

// RequestFrame is one outbound unit of work. Exactly one frame is sent per
// logical dispatch; the uuid field lets the backend deduplicate retries.
type RequestFrame struct {
	UUID        string      `json:"uuid"`
	CommandType CommandKind `json:"command_type"`
	ProjectPath string      `json:"project_path"`
	Prompt      string      `json:"prompt"`
	Model       string      `json:"model"`
	SessionID   string      `json:"session_id"`
	Images      []string    `json:"images"`
}

// Server frame discriminator values.
const (
	FrameOutput     = "output"
	FrameCompletion = "completion"
	FrameError      = "error"
)

// Completion status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ServerFrame is one inbound unit from the backend, discriminated by Type.
// Output frames carry Content (a string or object; when a string, it is
// itself a JSON-encoded payload and is forwarded verbatim). Completion and
// error frames are terminal for the logical request that produced them.
type ServerFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Status  string          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ParseServerFrame decodes a raw text frame from the backend.
func ParseServerFrame(data []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("parse server frame: %w", err)
	}
	if f.Type == "" {
		return ServerFrame{}, fmt.Errorf("parse server frame: missing type field")
	}
	return f, nil
}

// Terminal reports whether no further frames are expected for the logical
// request after this one.
func (f ServerFrame) Terminal() bool {
	return f.Type == FrameCompletion || f.Type == FrameError
}

// Succeeded reports whether this is a completion frame with success status.
func (f ServerFrame) Succeeded() bool {
	return f.Type == FrameCompletion && f.Status == StatusSuccess
}

// FailureMessage returns the backend-supplied message for a failed
// completion or an error frame, with a generic fallback so rejections
// always carry something readable.
func (f ServerFrame) FailureMessage() string {
	switch f.Type {
	case FrameError:
		if f.Message != "" {
			return f.Message
		}
	case FrameCompletion:
		if f.Error != "" {
			return f.Error
		}
	}
	return "backend reported failure"
}

// ContentText returns the content of an output frame when it is a JSON
// string (the common case: a JSON-encoded payload). The second return is
// false when the content is absent or a non-string value.
func (f ServerFrame) ContentText() (string, bool) {
	if len(f.Content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(f.Content, &s); err != nil {
		return "", false
	}
	return s, true
}
