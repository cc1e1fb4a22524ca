// Package dispatch turns a user command into exactly one request frame on
// the tab's persistent connection and tracks the call until the backend
// settles it with a completion or error frame.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/events"
	"github.com/tetherlabs/tether/internal/identity"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/netstatus"
	"github.com/tetherlabs/tether/internal/protocol"
	"github.com/tetherlabs/tether/internal/sessionstore"
	"github.com/tetherlabs/tether/internal/transport"
)

// DefaultSendTimeout bounds connection establishment plus the frame write.
// It is disarmed the moment the frame is on the wire; the backend may then
// take as long as it needs.
const DefaultSendTimeout = 5 * time.Second

// Command is one logical request from the user.
type Command struct {
	Kind        protocol.CommandKind
	TabID       string // defaults to identity.DefaultTabID
	ProjectPath string
	Prompt      string
	Model       string
	SessionID   string // resume only: backend session to re-attach to
	Images      []string
}

// Result reports a successfully settled dispatch.
type Result struct {
	Token     string // idempotency token the request carried
	TabID     string
	SessionID string
}

// BackendError is a failure the backend itself reported in a completion or
// error frame. It is terminal for the request; retrying sends a new request.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: %s", e.Message)
}

// Dispatcher owns the command path: session lookup, connection acquisition,
// the single send, and settlement.
type Dispatcher struct {
	registry    *transport.Registry
	store       *sessionstore.Store
	status      *netstatus.Aggregator
	bridge      *events.Bridge
	sendTimeout time.Duration
	log         logging.Logger
}

// NewDispatcher wires the dispatcher to its collaborators. A zero or
// negative sendTimeout falls back to DefaultSendTimeout.
func NewDispatcher(registry *transport.Registry, store *sessionstore.Store, status *netstatus.Aggregator, bridge *events.Bridge, sendTimeout time.Duration, log logging.Logger) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if log == nil {
		log = logging.Noop{}
	}
	return &Dispatcher{
		registry:    registry,
		store:       store,
		status:      status,
		bridge:      bridge,
		sendTimeout: sendTimeout,
		log:         log,
	}
}

// callPhase is the lifecycle of one dispatch. Transitions only move forward:
// idle -> sent -> settled. A timer firing after the frame went out must not
// reject the call, so every transition is checked under the lock.
type callPhase int

const (
	phaseIdle callPhase = iota
	phaseSent
	phaseSettled
)

type settlement struct {
	success bool
	message string
}

// call tracks one in-flight dispatch.
type call struct {
	mu      sync.Mutex
	phase   callPhase
	settled chan settlement
}

func newCall() *call {
	return &call{settled: make(chan settlement, 1)}
}

// markSent moves idle -> sent. Returns false when the call already settled
// (a terminal frame raced the write; the settlement wins).
func (c *call) markSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != phaseIdle {
		return false
	}
	c.phase = phaseSent
	return true
}

// settle records the terminal outcome exactly once. Later terminal frames
// are no-ops.
func (c *call) settle(s settlement) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseSettled {
		return false
	}
	c.phase = phaseSettled
	c.settled <- s
	return true
}

// Dispatch sends one request frame for cmd and blocks until the backend
// settles it, the connection is torn down, or ctx is cancelled. Output
// frames received while the call is pending are forwarded to the event
// bridge as they arrive.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	if !cmd.Kind.Valid() {
		return Result{}, fmt.Errorf("unknown command type %q", cmd.Kind)
	}
	if cmd.ProjectPath == "" {
		return Result{}, fmt.Errorf("project path must not be empty")
	}
	if cmd.Kind == protocol.CommandExecute && cmd.Prompt == "" {
		return Result{}, fmt.Errorf("prompt must not be empty")
	}
	tabID := cmd.TabID
	if tabID == "" {
		tabID = identity.DefaultTabID
	}

	sessionID, err := d.store.GetOrCreate(tabID)
	if err != nil {
		return Result{}, err
	}

	d.status.Set(netstatus.StatusConnecting)

	conn, err := d.registry.GetOrCreate(tabID, sessionID)
	if err != nil {
		return Result{}, err
	}

	frame := protocol.RequestFrame{
		UUID:        identity.NewRequestToken(),
		CommandType: cmd.Kind,
		ProjectPath: cmd.ProjectPath,
		Prompt:      cmd.Prompt,
		Model:       cmd.Model,
		SessionID:   sessionID,
		Images:      cmd.Images,
	}
	if cmd.Kind == protocol.CommandResume && cmd.SessionID != "" {
		frame.SessionID = cmd.SessionID
	}
	if frame.Images == nil {
		frame.Images = []string{}
	}

	pending := newCall()

	// The listener must be in place before the frame can go out so no
	// response is lost to a fast backend.
	unregister := conn.RegisterHandler(func(f protocol.ServerFrame) {
		d.bridge.PublishFrame(tabID, f)
		if !f.Terminal() {
			return
		}
		pending.settle(settlement{success: f.Succeeded(), message: f.FailureMessage()})
	})
	defer unregister()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err = conn.Send(sendCtx, frame)
	cancel()
	if err != nil {
		// A terminal frame may have landed while the write was failing;
		// the settlement wins over the send error.
		select {
		case s := <-pending.settled:
			return d.finish(tabID, sessionID, frame.UUID, s)
		default:
		}
		if errors.Is(err, transport.ErrConnectionClosed) {
			return Result{}, fmt.Errorf("dispatch %s: %w", cmd.Kind, err)
		}
		d.log.Warn("dispatch send failed", "tab_id", tabID, "command", string(cmd.Kind), "error", err)
		return Result{}, fmt.Errorf("dispatch %s: %w", cmd.Kind, err)
	}
	pending.markSent()
	d.log.Debug("request sent", "tab_id", tabID, "token", frame.UUID, "command", string(cmd.Kind))

	select {
	case s := <-pending.settled:
		return d.finish(tabID, sessionID, frame.UUID, s)
	case <-conn.Done():
		return Result{}, fmt.Errorf("dispatch %s: %w", cmd.Kind, transport.ErrConnectionClosed)
	case <-ctx.Done():
		return Result{}, fmt.Errorf("dispatch %s: %w", cmd.Kind, ctx.Err())
	}
}

func (d *Dispatcher) finish(tabID, sessionID, token string, s settlement) (Result, error) {
	if s.success {
		d.status.Set(netstatus.StatusConnected)
		return Result{Token: token, TabID: tabID, SessionID: sessionID}, nil
	}
	d.status.Set(netstatus.StatusError)
	return Result{}, &BackendError{Message: s.message}
}
