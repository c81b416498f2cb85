package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strange-Jackle/meeting-monitor/internal/session"
)

// mcpTools exposes the control surface as MCP tools
type mcpTools struct {
	control Controller
	history History
	logger  *slog.Logger
}

// NewMCPServer registers the session tools on a new MCP server
func NewMCPServer(control Controller, history History, logger *slog.Logger) *mcpserver.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &mcpTools{
		control: control,
		history: history,
		logger:  logger.With(slog.String("component", "mcp")),
	}

	s := mcpserver.NewMCPServer(serviceName, serviceVersion,
		mcpserver.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a live meeting session. Returns the session id."),
		mcp.WithBoolean("simulation", mcp.Description("Run the scripted demo session instead of live capture")),
		mcp.WithString("title", mcp.Description("Optional session title")),
	), t.startSession)

	s.AddTool(mcp.NewTool("stop_session",
		mcp.WithDescription("Stop the current session, draining in-flight work and writing the summary."),
	), t.stopSession)

	s.AddTool(mcp.NewTool("reset_session",
		mcp.WithDescription("Discard the current session and return to idle."),
	), t.resetSession)

	s.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Current session state, live hints and counters."),
	), t.sessionStatus)

	s.AddTool(mcp.NewTool("star_hint",
		mcp.WithDescription("Save a hint to the session's starred list."),
		mcp.WithString("hint_id", mcp.Description("Id of a live hint")),
		mcp.WithString("text", mcp.Description("Free text hint when no id is given")),
		mcp.WithString("session_id", mcp.Description("Session to star in, defaults to the current one")),
	), t.starHint)

	s.AddTool(mcp.NewTool("set_hint_status",
		mcp.WithDescription("Record the export status of a starred hint."),
		mcp.WithString("hint_id", mcp.Required(), mcp.Description("Starred hint id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("pending, exported or failed")),
	), t.setHintStatus)

	s.AddTool(mcp.NewTool("request_battlecard",
		mcp.WithDescription("Generate a battlecard for a competitor now."),
		mcp.WithString("competitor", mcp.Required(), mcp.Description("Competitor name or alias")),
	), t.requestBattlecard)

	s.AddTool(mcp.NewTool("recent_sessions",
		mcp.WithDescription("List recently finished sessions."),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions to return")),
	), t.recentSessions)

	s.AddTool(mcp.NewTool("session_history",
		mcp.WithDescription("Stored transcript, battlecards, starred hints and summary of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), t.sessionHistory)

	return s
}

// NewMCPHandler serves the session tools over streamable HTTP
func NewMCPHandler(control Controller, history History, logger *slog.Logger) http.Handler {
	return mcpserver.NewStreamableHTTPServer(NewMCPServer(control, history, logger))
}

// jsonResult renders v as the tool's text content
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError reports err to the calling model rather than failing the call
func (t *mcpTools) toolError(tool string, err error) (*mcp.CallToolResult, error) {
	t.logger.Debug("Tool call failed", slog.String("tool", tool), slog.String("error", err.Error()))
	return mcp.NewToolResultError(err.Error()), nil
}

func (t *mcpTools) startSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := t.control.Start(ctx, session.StartOptions{
		Simulation: req.GetBool("simulation", false),
		Title:      req.GetString("title", ""),
	})
	if err != nil {
		return t.toolError("start_session", err)
	}
	return jsonResult(map[string]string{"session_id": id})
}

func (t *mcpTools) stopSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := t.control.Stop(ctx)
	if err != nil {
		return t.toolError("stop_session", err)
	}
	return jsonResult(map[string]string{"session_id": id})
}

func (t *mcpTools) resetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := t.control.Reset(ctx)
	if err != nil {
		return t.toolError("reset_session", err)
	}
	return jsonResult(map[string]string{"session_id": id})
}

func (t *mcpTools) sessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.control.Status(ctx)
	if err != nil {
		return t.toolError("session_status", err)
	}
	return jsonResult(st)
}

func (t *mcpTools) starHint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	star := session.StarRequest{
		SessionID: req.GetString("session_id", ""),
		InsightID: req.GetString("hint_id", ""),
		Text:      req.GetString("text", ""),
	}
	if star.InsightID == "" && star.Text == "" {
		return t.toolError("star_hint", errors.New("hint_id or text is required"))
	}

	hint, err := t.control.StarHint(ctx, star)
	if err != nil {
		return t.toolError("star_hint", err)
	}
	return jsonResult(hint)
}

func (t *mcpTools) setHintStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("hint_id")
	if err != nil {
		return t.toolError("set_hint_status", err)
	}
	status, err := req.RequireString("status")
	if err != nil {
		return t.toolError("set_hint_status", err)
	}
	if err := t.history.SetHintStatus(ctx, id, status); err != nil {
		return t.toolError("set_hint_status", err)
	}
	return jsonResult(map[string]string{"hint_id": id, "status": status})
}

func (t *mcpTools) requestBattlecard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	competitor, err := req.RequireString("competitor")
	if err != nil {
		return t.toolError("request_battlecard", err)
	}
	if err := t.control.RequestBattlecard(ctx, competitor); err != nil {
		return t.toolError("request_battlecard", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("battlecard requested for %s", competitor)), nil
}

func (t *mcpTools) recentSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultSessionsLimit)
	if limit < 1 {
		limit = defaultSessionsLimit
	}
	sessions, err := t.history.RecentSessions(ctx, min(limit, maxSessionsLimit))
	if err != nil {
		return t.toolError("recent_sessions", err)
	}
	return jsonResult(sessions)
}

func (t *mcpTools) sessionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return t.toolError("session_history", err)
	}
	history, err := t.history.SessionHistory(ctx, id)
	if err != nil {
		return t.toolError("session_history", err)
	}
	return jsonResult(history)
}
