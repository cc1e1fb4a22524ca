package transport

import (
	"fmt"
	"sync"

	"github.com/tetherlabs/tether/internal/logging"
)

// Registry owns the live connections, keyed by tab identifier. At most one
// non-stale connection exists per tab at any time. The registry is
// constructor-injected from the composition root; nothing else creates
// connections.
type Registry struct {
	serverURL string
	wsPath    string
	opts      Options
	log       logging.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewRegistry creates a registry that derives endpoints from serverURL and
// wsPath and applies opts to every connection it constructs.
func NewRegistry(serverURL, wsPath string, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		serverURL: serverURL,
		wsPath:    wsPath,
		opts:      opts,
		log:       opts.Logger,
		conns:     make(map[string]*Connection),
	}
}

// GetOrCreate returns the live connection for tabID, constructing one if
// none exists or the existing one has gone stale. Listeners registered on a
// replaced connection migrate to its replacement so in-flight subscriptions
// survive reconnects.
func (r *Registry) GetOrCreate(tabID, sessionID string) (*Connection, error) {
	if tabID == "" {
		return nil, fmt.Errorf("tab id must not be empty")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conns[tabID]
	if ok && !existing.Stale() {
		return existing, nil
	}

	endpoint, err := EndpointURL(r.serverURL, r.wsPath, sessionID)
	if err != nil {
		return nil, err
	}

	var conn *Connection
	if existing != nil {
		// The replacement takes over the predecessor's listener set, so
		// unregister functions handed out before the swap keep working.
		conn = newConnection(tabID, sessionID, endpoint, r.opts, existing.detachListeners())
		// Retire the stale entry fully: stop any pending reconnect so a
		// zombie transport cannot revive behind the replacement.
		_ = existing.Close()
	} else {
		conn = newConnection(tabID, sessionID, endpoint, r.opts, nil)
	}
	r.conns[tabID] = conn
	r.log.Debug("connection created", "tab_id", tabID, "session_id", sessionID)
	return conn, nil
}

// Get returns the connection for tabID if one is registered, stale or not.
func (r *Registry) Get(tabID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[tabID]
	return conn, ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close tears down the connection for tabID: normal-closure code, listeners
// cleared, entry removed. Pending dispatches on it reject via Done.
func (r *Registry) Close(tabID string) error {
	r.mu.Lock()
	conn, ok := r.conns[tabID]
	delete(r.conns, tabID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return conn.Close()
}

// CloseAll closes every registered connection. Used on full teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
