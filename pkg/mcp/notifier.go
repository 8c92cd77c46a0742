package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/agentflow/internal/logging"
	"github.com/rendis/agentflow/internal/runner"
)

// RunFinishedMethod is the notification method sent when a run ends.
const RunFinishedMethod = "notifications/agentflow/run_finished"

// RunNotifier tells an agent that a run it started has finished.
type RunNotifier interface {
	RunFinished(ctx context.Context, agentID string, run *runner.Run) error
}

// SessionNotifier delivers run notifications over the agent's bound MCP
// session.
type SessionNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	logger    *slog.Logger
}

func NewSessionNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, logger *slog.Logger) *SessionNotifier {
	return &SessionNotifier{mcpServer: mcpServer, sessions: sessions, logger: logging.OrNop(logger)}
}

// RunFinished is best effort. Agents without a binding are skipped and a
// session the server no longer knows is dropped from the registry.
func (n *SessionNotifier) RunFinished(ctx context.Context, agentID string, run *runner.Run) error {
	sessionID, ok := n.sessions.Lookup(agentID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, RunFinishedMethod, map[string]any{
		"agent_id": agentID,
		"run":      summarize(run),
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		dropped := n.sessions.DropSession(sessionID)
		logging.LogWith(ctx, n.logger).Debug("dropped stale session",
			slog.String("session_id", sessionID), slog.Int("agents", dropped))
		return nil
	}
	return err
}
