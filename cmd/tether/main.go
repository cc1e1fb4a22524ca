package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	goruntime "runtime"
	"time"

	"golang.org/x/term"

	"github.com/spf13/cobra"

	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/dispatch"
	"github.com/tetherlabs/tether/internal/events"
	"github.com/tetherlabs/tether/internal/identity"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/netstatus"
	"github.com/tetherlabs/tether/internal/paths"
	"github.com/tetherlabs/tether/internal/protocol"
	"github.com/tetherlabs/tether/internal/sessionstore"
	"github.com/tetherlabs/tether/internal/transport"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagServer  string
	flagTab     string
	flagJSON    bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tether",
		Short: "Persistent sessions for the agent execution backend",
		Long: `Tether keeps persistent streaming connections to an agent execution
backend: it dispatches run/continue/resume commands, streams their
output, and re-attaches to the same backend session across restarts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Backend base URL (or TETHER_SERVER_URL env var)")
	rootCmd.PersistentFlags().StringVar(&flagTab, "tab", "", "Tab identifier (default: "+identity.DefaultTabID+")")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("tether v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(continueCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the assembled stack behind every command.
type app struct {
	cfg        config.Config
	log        logging.Logger
	registry   *transport.Registry
	store      *sessionstore.Store
	status     *netstatus.Aggregator
	bridge     *events.Bridge
	dispatcher *dispatch.Dispatcher
	prober     *netstatus.Prober
}

// newApp is the composition root: config, logging, and the transport stack,
// wired once per command invocation.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	level := cfg.LogLevel
	if flagVerbose {
		level = "debug"
	}
	log := logging.InitGlobal(level)

	status := netstatus.NewAggregator(log)

	registry := transport.NewRegistry(cfg.ServerURL, cfg.WSPath, transport.Options{
		MaxReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		OnStateChange: func(tabID string, state transport.State) {
			switch state {
			case transport.StateConnecting:
				status.Set(netstatus.StatusConnecting)
			case transport.StateOpen:
				status.Set(netstatus.StatusConnected)
			case transport.StateStale:
				status.Set(netstatus.StatusDisconnected)
			}
		},
		Logger: log,
	})

	dbPath, err := paths.SessionDBPath()
	if err != nil {
		return nil, err
	}
	store, err := sessionstore.Open(dbPath)
	if err != nil {
		return nil, err
	}

	bridge := events.NewBridge(log)
	return &app{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		store:      store,
		status:     status,
		bridge:     bridge,
		dispatcher: dispatch.NewDispatcher(registry, store, status, bridge, cfg.SendTimeout, log),
		prober:     netstatus.NewProber(status, cfg.HealthURL(), cfg.ProbeInterval, log),
	}, nil
}

func (a *app) close() {
	a.registry.CloseAll()
	_ = a.store.Close()
}

// stdoutSink streams bridged output events to stdout as they arrive: pretty
// lines on a terminal, raw JSON lines when piped.
type stdoutSink struct {
	tabID  string
	pretty bool
}

func (s *stdoutSink) OnOutput(o events.Output) {
	if o.TabID != s.tabID {
		return
	}
	if !s.pretty {
		// Raw mode: one JSON value per line for downstream tooling.
		fmt.Println(string(o.Content))
		return
	}
	var line string
	if err := json.Unmarshal(o.Content, &line); err != nil {
		line = string(o.Content)
	}
	fmt.Println(line)
}

func (s *stdoutSink) OnCompletion(c events.Completion) {
	if c.TabID != s.tabID || !s.pretty {
		return
	}
	if c.Success {
		fmt.Fprintln(os.Stderr, "✓ Completed")
	}
}

func (s *stdoutSink) OnError(events.Error) {}

// dispatchAndStream runs one command with output streaming to stdout and
// maps the outcome to an exit-worthy error.
func dispatchAndStream(cmd dispatch.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.prober.Start()
	defer a.prober.Stop()

	if cmd.TabID == "" {
		cmd.TabID = identity.DefaultTabID
	}

	sink := &stdoutSink{
		tabID:  cmd.TabID,
		pretty: term.IsTerminal(int(os.Stdout.Fd())) && !flagJSON,
	}
	unsubscribe := a.bridge.Subscribe(sink)
	defer unsubscribe()

	result, err := a.dispatcher.Dispatch(context.Background(), cmd)
	if err != nil {
		var backendErr *dispatch.BackendError
		if errors.As(err, &backendErr) {
			return fmt.Errorf("agent run failed: %s", backendErr.Message)
		}
		return err
	}

	if flagJSON {
		output, _ := json.MarshalIndent(map[string]string{
			"status":     "success",
			"tab":        result.TabID,
			"session_id": result.SessionID,
			"token":      result.Token,
		}, "", "  ")
		fmt.Println(string(output))
	}
	return nil
}

func runCmd() *cobra.Command {
	var model string
	var images []string

	cmd := &cobra.Command{
		Use:   "run PROJECT_PATH PROMPT",
		Short: "Start a fresh agent run in a project",
		Long: `Start a fresh agent run in the given project and stream its output
until the backend reports completion. Exits nonzero when the run fails.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchAndStream(dispatch.Command{
				Kind:        protocol.CommandExecute,
				TabID:       flagTab,
				ProjectPath: args[0],
				Prompt:      args[1],
				Model:       model,
				Images:      images,
			})
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model to run with (backend default when empty)")
	cmd.Flags().StringSliceVar(&images, "image", nil, "Base64-encoded image to attach (repeatable)")
	return cmd
}

func continueCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "continue PROJECT_PATH [PROMPT]",
		Short: "Continue the most recent conversation in a project",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) == 2 {
				prompt = args[1]
			}
			return dispatchAndStream(dispatch.Command{
				Kind:        protocol.CommandContinue,
				TabID:       flagTab,
				ProjectPath: args[0],
				Prompt:      prompt,
				Model:       model,
			})
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model to run with (backend default when empty)")
	return cmd
}

func resumeCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "resume PROJECT_PATH SESSION_ID [PROMPT]",
		Short: "Re-attach to a specific backend session",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) == 3 {
				prompt = args[2]
			}
			return dispatchAndStream(dispatch.Command{
				Kind:        protocol.CommandResume,
				TabID:       flagTab,
				ProjectPath: args[0],
				SessionID:   args[1],
				Prompt:      prompt,
				Model:       model,
			})
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model to run with (backend default when empty)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the backend and report connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			healthy := a.prober.ProbeOnce(cmd.Context())
			current := a.status.Current()

			if flagJSON {
				output, _ := json.MarshalIndent(map[string]any{
					"server":  a.cfg.ServerURL,
					"healthy": healthy,
					"status":  current.String(),
				}, "", "  ")
				fmt.Println(string(output))
			} else {
				mark := "✗"
				if healthy {
					mark = "✓"
				}
				fmt.Printf("%s %s (%s)\n", mark, a.cfg.ServerURL, current)
			}

			if !healthy {
				// Returned (not os.Exit) so the deferred close still runs
				// and the session store is released cleanly.
				return fmt.Errorf("backend unhealthy: %s", a.cfg.ServerURL)
			}
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted tab sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsResetCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted tab-to-session bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.store.List()
			if err != nil {
				return err
			}

			if flagJSON {
				type row struct {
					Tab       string `json:"tab"`
					SessionID string `json:"session_id"`
					CreatedAt string `json:"created_at"`
					UpdatedAt string `json:"updated_at"`
				}
				rows := make([]row, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, row{
						Tab:       e.TabID,
						SessionID: e.SessionID,
						CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
						UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
					})
				}
				output, _ := json.MarshalIndent(rows, "", "  ")
				fmt.Println(string(output))
				return nil
			}

			if len(entries) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%-16s %s (updated %s)\n", e.TabID, e.SessionID, e.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func sessionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [TAB]",
		Short: "Discard a tab's session so the next run starts fresh",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			tabID := flagTab
			if len(args) == 1 {
				tabID = args[0]
			}
			if tabID == "" {
				tabID = identity.DefaultTabID
			}

			sessionID, err := a.store.Reset(tabID)
			if err != nil {
				return err
			}

			if flagJSON {
				output, _ := json.MarshalIndent(map[string]string{
					"tab":        tabID,
					"session_id": sessionID,
				}, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Printf("✓ Session reset: %s → %s\n", tabID, sessionID)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show tether version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagJSON {
				output, _ := json.MarshalIndent(map[string]string{
					"version":    Version,
					"build":      Build,
					"go_version": goruntime.Version(),
				}, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Printf("tether v%s (build: %s, %s)\n", Version, Build, goruntime.Version())
			}
			return nil
		},
	}
}
