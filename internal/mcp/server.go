// Package mcp exposes the agent dispatch path as MCP tools over stdio, so
// an MCP client can run, continue, and resume backend agent sessions.
package mcp

import (
	"context"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tetherlabs/tether/internal/dispatch"
	"github.com/tetherlabs/tether/internal/events"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/netstatus"
	"github.com/tetherlabs/tether/internal/sessionstore"
	"github.com/tetherlabs/tether/internal/transport"
)

// Deps are the collaborators the tools operate on; the composition root
// owns and wires them.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *transport.Registry
	Store      *sessionstore.Store
	Status     *netstatus.Aggregator
	Prober     *netstatus.Prober
	Bridge     *events.Bridge
	Logger     logging.Logger
}

// Server is the tether MCP server.
type Server struct {
	deps    Deps
	version string
	server  *gomcp.Server
	log     logging.Logger
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates the MCP server and registers its tools.
func NewServer(deps Deps, opts ...Option) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Noop{}
	}
	s := &Server{
		deps:    deps,
		version: "dev",
		log:     deps.Logger.With("component", "mcp"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "tether",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run probes the backend once, then serves MCP on stdin/stdout until the
// client disconnects or ctx is cancelled. An unhealthy backend is logged,
// not fatal: the prober keeps watching and tools report transport errors
// per call.
func (s *Server) Run(ctx context.Context) error {
	if s.deps.Prober != nil {
		if !s.deps.Prober.ProbeOnce(ctx) {
			s.log.Warn("backend not reachable at startup", "status", s.deps.Status.Current().String())
		}
		s.deps.Prober.Start()
		defer s.deps.Prober.Stop()
	}
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// registerTools registers all MCP tool handlers with the server.
func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "run_agent",
		Description: "Start a fresh agent run in a project and stream its output until it completes",
	}, s.handleRunAgent)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "continue_session",
		Description: "Continue the most recent agent conversation in a project",
	}, s.handleContinueSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "resume_session",
		Description: "Re-attach to a specific backend agent session by its session_id",
	}, s.handleResumeSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "session_status",
		Description: "Report backend connectivity: current network status, liveness, and recent transitions",
	}, s.handleSessionStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List persisted tab-to-session bindings",
	}, s.handleListSessions)
}
