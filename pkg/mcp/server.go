// Package mcp exposes registered workflows to agents over the Model Context
// Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/internal/runner"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner  *runner.Runner
	Logger  *slog.Logger
	Version string
}

// Server wraps an MCP server with workflow tool handlers.
type Server struct {
	runner    *runner.Runner
	sessions  *SessionRegistry
	notifier  RunNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		runner:   deps.Runner,
		sessions: NewSessionRegistry(),
		logger:   logging.OrNop(deps.Logger),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.DropSession(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"agentflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("agentflow runs registered LLM workflows. Use agentflow.list to discover workflows, agentflow.run to execute one, agentflow.status to inspect a past run, and agentflow.diagram to see a workflow graph."),
	)
	mcpSrv.AddTools(s.tools()...)

	s.mcpServer = mcpSrv
	s.notifier = NewSessionNotifier(mcpSrv, s.sessions, s.logger)
	return s
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for tests or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

func listTool() mcp.Tool {
	return mcp.NewTool("agentflow.list",
		mcp.WithDescription("List registered workflows and recent runs"),
		mcp.WithString("workflow", mcp.Description("Only show runs of this workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of recent runs (default: 20)")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("agentflow.run",
		mcp.WithDescription("Run a registered workflow and return its final shared state"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow to run")),
		mcp.WithObject("input", mcp.Description("Initial shared state for the run")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent; it is notified when the run finishes")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("agentflow.status",
		mcp.WithDescription("Get the outcome and trace of a recorded run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID returned by agentflow.run")),
		mcp.WithBoolean("include_events", mcp.Description("Include every event the run published")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("agentflow.diagram",
		mcp.WithDescription("Render a workflow graph. Returns Mermaid flowchart syntax, ASCII art, or a base64-encoded PNG image"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow")),
		mcp.WithString("format",
			mcp.Enum("mermaid", "ascii", "png"),
			mcp.Description("Output format (default: mermaid)"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay node statuses from this run")),
	)
}
