package mcp

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/strandhq/strand/internal/engine"
	"github.com/strandhq/strand/internal/store"
	"github.com/strandhq/strand/internal/streaming"
	"github.com/strandhq/strand/internal/validation"
)

// JobScheduler registers cron-triggered runs. Satisfied by
// *scheduler.Scheduler; kept as an interface so the server can run
// without scheduling enabled.
type JobScheduler interface {
	Register(ctx context.Context, job *store.ScheduledJob) (bool, error)
}

// StrandServerDeps holds the dependencies for creating a StrandServer.
type StrandServerDeps struct {
	Coordinator engine.Coordinator
	Store       store.Store
	Validator   validation.Validator
	Scheduler   JobScheduler
	Hub         streaming.EventHub
	// Notifier overrides the default MCP push notifier; nil uses
	// MCPNotifier over the server's own sessions.
	Notifier ClientNotifier
	Logger   *slog.Logger
}

// StrandServer wraps an MCP server with strand-specific tool handlers.
type StrandServer struct {
	coordinator engine.Coordinator
	store       store.Store
	validator   validation.Validator
	scheduler   JobScheduler
	hub         streaming.EventHub
	notifier    ClientNotifier
	logger      *slog.Logger
	sessions    *SessionRegistry
	mcpServer   *server.MCPServer

	// runsMu guards runClients: run IDs mapped to the client that asked
	// for push notifications about them.
	runsMu     sync.Mutex
	runClients map[string]string
}

// NewStrandServer creates a new StrandServer with all 5 tools registered.
func NewStrandServer(deps StrandServerDeps) *StrandServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &StrandServer{
		coordinator: deps.Coordinator,
		store:       deps.Store,
		validator:   deps.Validator,
		scheduler:   deps.Scheduler,
		hub:         deps.Hub,
		notifier:    deps.Notifier,
		logger:      logger,
		sessions:    NewSessionRegistry(),
		runClients:  make(map[string]string),
	}

	mcpSrv := server.NewMCPServer(
		"strand",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Strand is a workflow automation execution engine. Use strand.run to execute a workflow definition (or schedule it with a cron expression), strand.status to check progress, strand.signal to deliver events to waiting runs, strand.cancel to terminate runs, and strand.query to list runs/events/jobs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	if s.notifier == nil {
		s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *StrandServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.startEventBridge(ctx); err != nil {
		return err
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *StrandServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *StrandServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: signalTool(), Handler: s.handleSignal},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("strand.run",
		mcp.WithDescription("Execute a workflow definition, or register it as a scheduled job when a cron expression is given"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object (nodes, edges, execution_order)")),
		mcp.WithString("name", mcp.Description("Human-readable run name")),
		mcp.WithObject("trigger", mcp.Description("Trigger payload passed to the run")),
		mcp.WithObject("record_data", mcp.Description("Record context exposed to condition and branch evaluation")),
		mcp.WithString("cron", mcp.Description("Cron expression; when set, the workflow is scheduled instead of executed immediately")),
		mcp.WithString("client_id", mcp.Description("ID of the calling client, used for push notifications")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("strand.status",
		mcp.WithDescription("Get run execution status"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func signalTool() mcp.Tool {
	return mcp.NewTool("strand.signal",
		mcp.WithDescription("Deliver an external event to a run waiting on it"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the target run")),
		mcp.WithString("event_type", mcp.Required(), mcp.Description("Event type the run is waiting for")),
		mcp.WithObject("payload", mcp.Description("Event payload, recorded as the wait node's output")),
		mcp.WithString("source", mcp.Description("Origin of the event")),
		mcp.WithString("resume", mcp.Description("Set to 'true' to resume the run after the signal is applied (for runs suspended across restarts)")),
		mcp.WithString("client_id", mcp.Description("ID of the calling client, used for push notifications")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("strand.cancel",
		mcp.WithDescription("Cancel a run; pending and waiting nodes are marked skipped"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
		mcp.WithString("reason", mcp.Description("Cancellation reason recorded on the run")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("strand.query",
		mcp.WithDescription("Query runs, events, or scheduled jobs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events", "jobs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, name, since, limit, run_id, node_id, event_type, enabled)")),
	)
}
