package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/sfnsim/internal/engine"
	"github.com/rendis/sfnsim/internal/store"
	"github.com/rendis/sfnsim/internal/validation"
	"github.com/rendis/sfnsim/pkg/schema"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Archive   store.Archive // optional; trace and executions need it
	Validator *validation.DefinitionValidator
	Resources map[string]engine.TaskHandler
	Options   schema.RuntimeOptions
	Hub       engine.Publisher
	Logger    *slog.Logger
	Version   string
}

// Server wraps an MCP server with the sfnsim tool handlers.
type Server struct {
	archive   store.Archive
	validator *validation.DefinitionValidator
	resources map[string]engine.TaskHandler
	options   schema.RuntimeOptions
	hub       engine.Publisher
	logger    *slog.Logger
	notifier  *TransitionNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		archive:   deps.Archive,
		validator: deps.Validator,
		resources: deps.Resources,
		options:   deps.Options.WithDefaults(),
		hub:       deps.Hub,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"sfnsim",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("sfnsim runs Amazon States Language state machines locally. Use sfnsim.validate to check a definition, sfnsim.run to execute it, sfnsim.trace to read an archived execution's transitions, sfnsim.executions to list archived executions, and sfnsim.diagram to draw a definition or a finished run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewTransitionNotifier(mcpSrv, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sse := server.NewSSEServer(s.mcpServer)
	errCh := make(chan error, 1)
	go func() { errCh <- sse.Start(addr) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: traceTool(), Handler: s.handleTrace},
		{Tool: executionsTool(), Handler: s.handleExecutions},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func definitionOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithObject("definition", mcp.Description("State machine definition as an object")),
		mcp.WithString("definition_text", mcp.Description("State machine definition as JSON or YAML text (used when definition is absent)")),
	}
}

func validateTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Validate an Amazon States Language definition"),
	}, definitionOptions()...)
	return mcp.NewTool("sfnsim.validate", opts...)
}

func runTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Execute a state machine locally and return its result and trace"),
		mcp.WithString("name", mcp.Description("State machine name (default: StartAt)")),
		mcp.WithObject("input", mcp.Description("Execution input (default: {})")),
		mcp.WithNumber("max_wait_seconds", mcp.Description("Ceiling for Wait states")),
		mcp.WithNumber("max_concurrency", mcp.Description("Worker pool size for Map and Parallel")),
		mcp.WithBoolean("respect_wait_ceiling", mcp.Description("Cap long waits instead of timing out")),
		mcp.WithBoolean("include_trace", mcp.Description("Include the transition trace (default: true)")),
		mcp.WithBoolean("archive", mcp.Description("Archive the execution when an archive is configured (default: true)")),
	}, definitionOptions()...)
	return mcp.NewTool("sfnsim.run", opts...)
}

func traceTool() mcp.Tool {
	return mcp.NewTool("sfnsim.trace",
		mcp.WithDescription("Read the archived transitions of an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the archived execution")),
		mcp.WithString("state_name", mcp.Description("Only transitions of this state")),
		mcp.WithString("labels", mcp.Description("Comma-separated transition labels to keep")),
		mcp.WithNumber("since", mcp.Description("Only transitions with a greater sequence")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of transitions")),
		mcp.WithBoolean("summary", mcp.Description("Include the per-state summary (default: true)")),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("sfnsim.executions",
		mcp.WithDescription("List archived executions"),
		mcp.WithString("state_machine", mcp.Description("Filter by state machine name")),
		mcp.WithString("status", mcp.Enum(
			string(schema.ExecutionStatusRunning),
			string(schema.ExecutionStatusSucceeded),
			string(schema.ExecutionStatusFailed),
			string(schema.ExecutionStatusTimedOut),
			string(schema.ExecutionStatusAborted),
		), mcp.Description("Filter by status")),
		mcp.WithString("since", mcp.Description("Only executions started at or after this RFC3339 time")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of executions (default: 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of executions to skip")),
	)
}

func diagramTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Generate a diagram of a state machine. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("execution_id", mcp.Description("Archived execution to diagram (includes its status overlay by default)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
		mcp.WithBoolean("include_status", mcp.Description("Overlay state status from the execution (default: true)")),
	}, definitionOptions()...)
	return mcp.NewTool("sfnsim.diagram", opts...)
}
