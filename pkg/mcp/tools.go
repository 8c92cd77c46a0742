package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/agentflow/internal/runner"
)

const defaultListLimit = 20

type workflowInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Start       string          `json:"start"`
	Nodes       []string        `json:"nodes"`
}

type runSummary struct {
	ID         string           `json:"id"`
	Workflow   string           `json:"workflow"`
	Status     runner.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func summarize(run *runner.Run) runSummary {
	return runSummary{
		ID:         run.ID,
		Workflow:   run.Workflow,
		Status:     run.Status,
		Error:      run.Error,
		DurationMs: run.Duration().Milliseconds(),
	}
}

// handleList returns the registered workflows and the most recent runs.
func (s *Server) handleList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows := s.runner.Registry().List()
	infos := make([]workflowInfo, 0, len(workflows))
	for _, w := range workflows {
		topo := w.Build().Topology()
		infos = append(infos, workflowInfo{
			Name:        w.Name,
			Description: w.Description,
			InputSchema: w.InputSchema,
			Start:       topo.Start,
			Nodes:       topo.Nodes,
		})
	}

	limit := req.GetInt("limit", defaultListLimit)
	runs := s.runner.History().List(req.GetString("workflow", ""), limit)
	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, summarize(run))
	}

	return marshalResult(map[string]any{
		"workflows": infos,
		"runs":      summaries,
	})
}

// handleRun executes a workflow synchronously. Failed runs are reported as
// tool errors that still carry the run ID for agentflow.status.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	agentID := req.GetString("agent_id", "")
	if agentID != "" {
		s.captureSession(ctx, agentID)
	}

	run, runErr := s.runner.Run(ctx, name, input)
	if run == nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}

	if agentID != "" {
		if err := s.notifier.RunFinished(ctx, agentID, run); err != nil {
			s.logger.Warn("notify agent failed", "agent_id", agentID, "error", err)
		}
	}

	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %s failed: %v", run.ID, runErr)), nil
	}
	return marshalResult(map[string]any{
		"run_id": run.ID,
		"status": run.Status,
		"output": run.Output,
		"trace":  run.Trace,
	})
}

// handleStatus returns a recorded run.
func (s *Server) handleStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	run, ok := s.runner.History().Get(runID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("run %s not found", runID)), nil
	}

	result := map[string]any{
		"run":    summarize(run),
		"input":  run.Input,
		"output": run.Output,
		"trace":  run.Trace,
	}
	if req.GetBool("include_events", false) {
		result["events"] = run.Events
	}
	return marshalResult(result)
}

// handleDiagram renders a workflow graph, optionally overlaid with a run.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	format := runner.Format(req.GetString("format", string(runner.FormatMermaid)))

	out, err := s.runner.Diagram(ctx, name, req.GetString("run_id", ""), format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram failed: %v", err)), nil
	}
	if format == runner.FormatPNG {
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Bind(agentID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
