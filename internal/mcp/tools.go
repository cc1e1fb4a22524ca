package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tetherlabs/tether/internal/dispatch"
	"github.com/tetherlabs/tether/internal/events"
	"github.com/tetherlabs/tether/internal/identity"
	"github.com/tetherlabs/tether/internal/protocol"
)

// tabSink buffers output lines for one tab while a tool call is pending.
// It is invoked from the transport read goroutine.
type tabSink struct {
	tabID string

	mu    sync.Mutex
	lines []string
}

func newTabSink(tabID string) *tabSink {
	return &tabSink{tabID: tabID}
}

func (s *tabSink) OnOutput(o events.Output) {
	if o.TabID != s.tabID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, decodeOutputContent(o.Content))
}

func (s *tabSink) OnCompletion(events.Completion) {}
func (s *tabSink) OnError(events.Error)           {}

func (s *tabSink) buffered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// decodeOutputContent unwraps string-typed content (the common case: a
// JSON-encoded payload line) and passes anything else through raw.
func decodeOutputContent(content json.RawMessage) string {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	return string(content)
}

// run dispatches cmd with an output buffer attached and folds the outcome
// into a RunOutput. Backend-reported failures become a failure result;
// everything else is a tool error.
func (s *Server) run(ctx context.Context, cmd dispatch.Command) (RunOutput, error) {
	if cmd.TabID == "" {
		cmd.TabID = identity.DefaultTabID
	}

	sink := newTabSink(cmd.TabID)
	unsubscribe := s.deps.Bridge.Subscribe(sink)
	defer unsubscribe()

	result, err := s.deps.Dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		var backendErr *dispatch.BackendError
		if errors.As(err, &backendErr) {
			out := RunOutput{
				Status: "failure",
				Output: sink.buffered(),
				Error:  backendErr.Message,
			}
			// Best effort: the binding already exists after a dispatch.
			if sessionID, serr := s.deps.Store.GetOrCreate(cmd.TabID); serr == nil {
				out.SessionID = sessionID
			}
			return out, nil
		}
		return RunOutput{}, err
	}

	return RunOutput{
		Status:    "success",
		SessionID: result.SessionID,
		Token:     result.Token,
		Output:    sink.buffered(),
	}, nil
}

// handleRunAgent starts a fresh agent run.
func (s *Server) handleRunAgent(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input RunAgentInput,
) (*gomcp.CallToolResult, RunOutput, error) {
	if input.ProjectPath == "" {
		return nil, RunOutput{}, fmt.Errorf("'project_path' is required")
	}
	if input.Prompt == "" {
		return nil, RunOutput{}, fmt.Errorf("'prompt' is required")
	}

	out, err := s.run(ctx, dispatch.Command{
		Kind:        protocol.CommandExecute,
		TabID:       input.Tab,
		ProjectPath: input.ProjectPath,
		Prompt:      input.Prompt,
		Model:       input.Model,
		Images:      input.Images,
	})
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("run agent: %w", err)
	}
	return nil, out, nil
}

// handleContinueSession continues the most recent conversation in a project.
func (s *Server) handleContinueSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ContinueSessionInput,
) (*gomcp.CallToolResult, RunOutput, error) {
	if input.ProjectPath == "" {
		return nil, RunOutput{}, fmt.Errorf("'project_path' is required")
	}

	out, err := s.run(ctx, dispatch.Command{
		Kind:        protocol.CommandContinue,
		TabID:       input.Tab,
		ProjectPath: input.ProjectPath,
		Prompt:      input.Prompt,
		Model:       input.Model,
	})
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("continue session: %w", err)
	}
	return nil, out, nil
}

// handleResumeSession re-attaches to a specific backend session.
func (s *Server) handleResumeSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ResumeSessionInput,
) (*gomcp.CallToolResult, RunOutput, error) {
	if input.ProjectPath == "" {
		return nil, RunOutput{}, fmt.Errorf("'project_path' is required")
	}
	if input.SessionID == "" {
		return nil, RunOutput{}, fmt.Errorf("'session_id' is required")
	}

	out, err := s.run(ctx, dispatch.Command{
		Kind:        protocol.CommandResume,
		TabID:       input.Tab,
		ProjectPath: input.ProjectPath,
		Prompt:      input.Prompt,
		Model:       input.Model,
		SessionID:   input.SessionID,
	})
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("resume session: %w", err)
	}
	return nil, out, nil
}

// handleSessionStatus reports current connectivity.
func (s *Server) handleSessionStatus(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SessionStatusInput,
) (*gomcp.CallToolResult, SessionStatusOutput, error) {
	healthy := false
	if s.deps.Prober != nil {
		healthy = s.deps.Prober.ProbeOnce(ctx)
	}

	out := SessionStatusOutput{
		Status:      s.deps.Status.Current().String(),
		Healthy:     healthy,
		Connections: s.deps.Registry.Count(),
	}

	if input.History > 0 {
		history := s.deps.Status.History()
		if len(history) > input.History {
			history = history[len(history)-input.History:]
		}
		for _, tr := range history {
			out.History = append(out.History, StatusTransition{
				Status: tr.Status.String(),
				At:     tr.At.UTC().Format(time.RFC3339),
			})
		}
	}
	return nil, out, nil
}

// handleListSessions lists persisted tab bindings.
func (s *Server) handleListSessions(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListSessionsInput,
) (*gomcp.CallToolResult, ListSessionsOutput, error) {
	entries, err := s.deps.Store.List()
	if err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("list sessions: %w", err)
	}

	out := ListSessionsOutput{Sessions: []SessionInfo{}, Count: len(entries)}
	for _, e := range entries {
		out.Sessions = append(out.Sessions, SessionInfo{
			Tab:       e.TabID,
			SessionID: e.SessionID,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}
