// Package transport maintains the persistent duplex streaming connections to
// the agent execution backend: one WebSocket per tab, with lifecycle
// tracking, listener fan-out, and bounded linear-backoff reconnection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/protocol"
)

// State is the lifecycle state of a Connection.
type State int32

const (
	// StateConnecting means the WebSocket dial is in flight.
	StateConnecting State = iota
	// StateOpen means the transport is established and writable.
	StateOpen
	// StateClosing means the connection was explicitly closed and will not
	// be revived.
	StateClosing
	// StateStale means the underlying transport closed; the registry must
	// not hand this connection out again.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateStale:
		return "stale"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrConnectionClosed is returned for operations on an explicitly closed
// connection, and surfaces to dispatches still pending at tab teardown.
var ErrConnectionClosed = errors.New("connection closed")

// Handler receives every parsed server frame delivered on a connection.
type Handler func(protocol.ServerFrame)

type listenerEntry struct {
	id int64
	fn Handler
}

// listenerSet owns the registered frame listeners. The registry hands the
// same set to a replacement connection, so an unregister function returned
// before the replacement keeps working after it.
type listenerSet struct {
	mu      sync.Mutex
	entries []listenerEntry
	nextID  int64
}

func newListenerSet() *listenerSet { return &listenerSet{} }

func (s *listenerSet) add(fn Handler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.entries {
			if entry.id == id {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

func (s *listenerSet) snapshot() []listenerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]listenerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *listenerSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// Options configures connection behavior. Zero values fall back to the
// package defaults below.
type Options struct {
	// MaxReconnectAttempts bounds automatic reconnection after an unexpected
	// close. After the cap the connection stays stale until the registry
	// constructs a replacement on demand.
	MaxReconnectAttempts int
	// ReconnectDelay is the base delay; attempt n waits n times this value
	// (linear backoff, no jitter — observable behavior, keep exact).
	ReconnectDelay time.Duration
	// SendPollInterval is how often Send re-checks a connecting transport.
	SendPollInterval time.Duration
	// OnStateChange, when set, observes lifecycle transitions.
	OnStateChange func(tabID string, state State)
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Logger defaults to the no-op logger.
	Logger logging.Logger
}

const (
	defaultMaxReconnectAttempts = 3
	defaultReconnectDelay       = time.Second
	defaultSendPollInterval     = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.SendPollInterval <= 0 {
		o.SendPollInterval = defaultSendPollInterval
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = logging.Noop{}
	}
	return o
}

// Connection wraps one duplex streaming connection bound to a tab. It owns
// the registered listeners and manages reconnection with linear backoff.
type Connection struct {
	tabID     string
	sessionID string
	endpoint  string
	opts      Options
	log       logging.Logger

	mu             sync.Mutex
	ws             *websocket.Conn
	state          State
	listeners      *listenerSet
	attempts       int
	reconnectTimer *time.Timer

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// EndpointURL derives the WebSocket endpoint from the backend base URL:
// https upgrades to wss, http to ws; the session identifier rides along as a
// routing query parameter.
func EndpointURL(serverURL, wsPath, sessionID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = wsPath
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// newConnection constructs a connection in the connecting state and starts
// the dial in the background. Only the Registry creates connections. A nil
// listeners set starts empty; a replacement inherits its predecessor's set.
func newConnection(tabID, sessionID, endpoint string, opts Options, listeners *listenerSet) *Connection {
	opts = opts.withDefaults()
	if listeners == nil {
		listeners = newListenerSet()
	}
	c := &Connection{
		tabID:     tabID,
		sessionID: sessionID,
		endpoint:  endpoint,
		opts:      opts,
		log:       opts.Logger.With("tab_id", tabID, "session_id", sessionID),
		state:     StateConnecting,
		listeners: listeners,
		done:      make(chan struct{}),
	}
	c.notifyState(StateConnecting)
	go c.dial()
	return c
}

// TabID returns the tab identifier this connection is bound to.
func (c *Connection) TabID() string { return c.tabID }

// SessionID returns the backend session identifier embedded in the endpoint.
func (c *Connection) SessionID() string { return c.sessionID }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stale reports whether the registry must replace this connection before
// handing it out again.
func (c *Connection) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateStale || c.state == StateClosing
}

// ReconnectAttempts returns how many reconnect attempts have been consumed
// since the connection was last open.
func (c *Connection) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Done returns a channel closed when the connection is explicitly closed.
// Dispatches select on it so tab teardown rejects them instead of leaking.
func (c *Connection) Done() <-chan struct{} { return c.done }

// RegisterHandler adds a listener for inbound frames and returns its
// unregister function. Listeners are invoked in registration order. The
// unregister function stays valid even if the registry replaces this
// connection: the replacement shares the same listener set.
func (c *Connection) RegisterHandler(fn Handler) func() {
	c.mu.Lock()
	set := c.listeners
	c.mu.Unlock()
	return set.add(fn)
}

// Send transmits one frame. An open transport is written immediately; a
// connecting transport is polled at short fixed intervals until it opens or
// fails; any other state rejects so the caller re-acquires a connection via
// the registry instead of retrying a dead handle.
func (c *Connection) Send(ctx context.Context, frame protocol.RequestFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal request frame: %w", err)
	}

	ticker := time.NewTicker(c.opts.SendPollInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		state := c.state
		ws := c.ws
		c.mu.Unlock()

		switch state {
		case StateOpen:
			c.writeMu.Lock()
			err := ws.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
			return nil

		case StateConnecting:
			select {
			case <-ctx.Done():
				return fmt.Errorf("connection not open within deadline (state %s): %w", c.State(), ctx.Err())
			case <-c.done:
				return ErrConnectionClosed
			case <-ticker.C:
			}

		case StateClosing:
			return ErrConnectionClosed

		default:
			return fmt.Errorf("connection failed (state %s)", state)
		}
	}
}

// Close shuts the connection down with a normal-closure code, clears the
// listeners, and wakes anything waiting on Done. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	ws := c.ws
	c.ws = nil
	c.listeners.clear()
	c.mu.Unlock()

	c.notifyState(StateClosing)
	c.doneOnce.Do(func() { close(c.done) })

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
		c.writeMu.Unlock()
		return ws.Close()
	}
	return nil
}

// dial establishes the WebSocket and starts the read loop. On failure it
// goes stale and schedules a reconnect like any unexpected close.
func (c *Connection) dial() {
	ws, resp, err := c.opts.Dialer.Dial(c.endpoint, nil) //nolint:bodyclose // gorilla owns resp.Body on success
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		return
	}
	if err != nil {
		c.state = StateStale
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.log.Warn("dial failed", "error", err)
		c.notifyState(StateStale)
		return
	}
	c.ws = ws
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.log.Debug("connection open", "endpoint", c.endpoint)
	c.notifyState(StateOpen)
	go c.readLoop(ws)
}

// readLoop reads frames until the transport closes. Malformed frames are
// logged and dropped; they never terminate the session.
func (c *Connection) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}
		frame, perr := protocol.ParseServerFrame(data)
		if perr != nil {
			c.log.Warn("dropping malformed frame", "error", perr)
			continue
		}
		c.deliver(frame)
	}
}

// deliver invokes every registered listener in registration order. A
// panicking listener is isolated so the others still run.
func (c *Connection) deliver(frame protocol.ServerFrame) {
	c.mu.Lock()
	set := c.listeners
	c.mu.Unlock()

	for _, entry := range set.snapshot() {
		c.invoke(entry, frame)
	}
}

func (c *Connection) invoke(entry listenerEntry, frame protocol.ServerFrame) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("frame listener panicked", "listener_id", entry.id, "panic", r)
		}
	}()
	entry.fn(frame)
}

// handleClose marks the connection stale the moment the transport closes —
// before any replacement can be created — and schedules a reconnect unless
// the close was expected (normal closure or going away) or explicit.
func (c *Connection) handleClose(ws *websocket.Conn, err error) {
	_ = ws.Close()

	c.mu.Lock()
	if c.ws != ws {
		// A newer transport superseded this one while the read loop was
		// draining; nothing to do.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	if c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateStale

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.mu.Unlock()
		c.log.Debug("connection closed normally")
		c.notifyState(StateStale)
		return
	}

	c.scheduleReconnectLocked()
	c.mu.Unlock()
	c.log.Warn("connection closed unexpectedly", "error", err)
	c.notifyState(StateStale)
}

// scheduleReconnectLocked arms the next reconnect attempt. Delay grows
// linearly with the attempt number. Exhaustion is silent: the connection
// stays stale until the next GetOrCreate builds a fresh one.
func (c *Connection) scheduleReconnectLocked() {
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.log.Debug("reconnect attempts exhausted", "attempts", c.attempts)
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := time.Duration(attempt) * c.opts.ReconnectDelay

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.state == StateClosing {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		c.log.Debug("reconnecting", "attempt", attempt, "delay", delay)
		c.notifyState(StateConnecting)
		c.dial()
	})
}

func (c *Connection) notifyState(state State) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(c.tabID, state)
	}
}

// detachListeners hands the listener set to a replacement connection and
// leaves this one with a fresh empty set, so closing the retired connection
// does not wipe the migrated listeners.
func (c *Connection) detachListeners() *listenerSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.listeners
	c.listeners = newListenerSet()
	return set
}
