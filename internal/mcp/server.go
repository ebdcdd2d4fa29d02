// ABOUTME: MCP tool server that lets external agents execute actions and render content.
// ABOUTME: Serves the Streamable HTTP transport through mcp-go; calls run as the authenticated principal.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/orchestrator"
	"github.com/2389/wrap-gateway/internal/render"
	"github.com/2389/wrap-gateway/internal/store"
)

// Tool names exposed to agents.
const (
	ToolExecuteAction = "execute_action"
	ToolRenderContent = "render_content"
	ToolGetAction     = "get_action"
	ToolListReceipts  = "list_receipts"
)

// Executor runs the execute flow for one Action Record.
type Executor interface {
	Execute(ctx context.Context, actionID, triggeredBy string) (*orchestrator.Result, error)
}

// Renderer runs one content-render request.
type Renderer interface {
	Render(ctx context.Context, req render.RenderRequest) (*render.Response, error)
}

// Reader loads actions and receipts.
type Reader interface {
	GetAction(ctx context.Context, id string) (*store.Action, error)
	ListReceipts(ctx context.Context, f store.ListFilter) ([]*store.Receipt, error)
}

// Config holds configuration for the MCP server.
type Config struct {
	Executor Executor
	Renderer Renderer
	Reader   Reader
	Version  string
	Logger   *slog.Logger
}

// Server exposes gateway tools over MCP.
type Server struct {
	executor Executor
	renderer Renderer
	reader   Reader
	logger   *slog.Logger
	mcp      *server.MCPServer
	http     *server.StreamableHTTPServer
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if cfg.Reader == nil {
		return nil, errors.New("reader is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		executor: cfg.Executor,
		renderer: cfg.Renderer,
		reader:   cfg.Reader,
		logger:   logger.With("component", "mcp"),
	}

	s.mcp = server.NewMCPServer(
		"wrap-gateway",
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("wrap-gateway executes proposed outbound actions through the operating-mode and conversation policy gate."),
		server.WithRecovery(),
	)
	s.registerTools()

	s.http = server.NewStreamableHTTPServer(s.mcp,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if a := auth.FromContext(r.Context()); a != nil {
				return auth.WithAuth(ctx, a)
			}
			return ctx
		}),
	)
	return s, nil
}

// ServeHTTP serves the Streamable HTTP transport.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcpgo.NewTool(ToolExecuteAction,
			mcpgo.WithDescription("Execute an approved or pending action. Returns either {blocked, reason} or the dispatch attempt."),
			mcpgo.WithString("action_id", mcpgo.Description("ID of the action record"), mcpgo.Required()),
		),
		s.executeAction,
	)

	s.mcp.AddTool(
		mcpgo.NewTool(ToolRenderContent,
			mcpgo.WithDescription("Parse a key: value content brief and preview it, queue it for approval, or render it."),
			mcpgo.WithString("create_content_text", mcpgo.Description("The brief, one key: value pair per line"), mcpgo.Required()),
			mcpgo.WithString("mode", mcpgo.Description("preview or execute"), mcpgo.Required(), mcpgo.Enum(render.ModePreview, render.ModeExecute)),
			mcpgo.WithString("conversation_id", mcpgo.Description("Conversation the content belongs to")),
			mcpgo.WithString("organization_id", mcpgo.Description("Owning organization")),
			mcpgo.WithString("agent", mcpgo.Description("Name of the requesting agent")),
		),
		s.renderContent,
	)

	s.mcp.AddTool(
		mcpgo.NewTool(ToolGetAction,
			mcpgo.WithDescription("Read an action record and its current status."),
			mcpgo.WithString("action_id", mcpgo.Description("ID of the action record"), mcpgo.Required()),
		),
		s.getAction,
	)

	s.mcp.AddTool(
		mcpgo.NewTool(ToolListReceipts,
			mcpgo.WithDescription("List execution receipts for an action record, newest first."),
			mcpgo.WithString("action_id", mcpgo.Description("ID of the action record"), mcpgo.Required()),
			mcpgo.WithNumber("limit", mcpgo.Description("Maximum number of receipts (default 10)")),
		),
		s.listReceipts,
	)
}

func (s *Server) executeAction(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, err := req.RequireString("action_id")
	if err != nil || id == "" {
		return mcpgo.NewToolResultError("action_id is required"), nil
	}

	res, err := s.executor.Execute(ctx, id, auth.Actor(ctx))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return mcpgo.NewToolResultError("action not found"), nil
	case action.IsValidation(err), errors.Is(err, orchestrator.ErrInProgress):
		return mcpgo.NewToolResultError(err.Error()), nil
	case err != nil:
		s.logger.Error("executing action", "action_id", id, "error", err)
		return mcpgo.NewToolResultError(fmt.Sprintf("execute failed: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) renderContent(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	text, err := req.RequireString("create_content_text")
	if err != nil {
		return mcpgo.NewToolResultError("create_content_text is required"), nil
	}

	resp, err := s.renderer.Render(ctx, render.RenderRequest{
		ConversationID: req.GetString("conversation_id", ""),
		OrganizationID: req.GetString("organization_id", ""),
		RequestedBy:    auth.Actor(ctx),
		Agent:          req.GetString("agent", ""),
		Text:           text,
		Mode:           req.GetString("mode", ""),
	})
	if action.IsValidation(err) {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		s.logger.Error("rendering content", "error", err)
		return mcpgo.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
	}
	return jsonResult(resp)
}

type actionView struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	ActionType     action.Type     `json:"action_type"`
	Channel        action.Channel  `json:"channel"`
	Status         action.Status   `json:"status"`
	Payload        json.RawMessage `json:"action_payload"`
	ExecutedAt     string          `json:"executed_at,omitempty"`
}

func (s *Server) getAction(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, err := req.RequireString("action_id")
	if err != nil || id == "" {
		return mcpgo.NewToolResultError("action_id is required"), nil
	}

	a, err := s.reader.GetAction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcpgo.NewToolResultError("action not found"), nil
	}
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("loading action: %v", err)), nil
	}

	view := actionView{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		ActionType:     a.ActionType,
		Channel:        a.Channel,
		Status:         a.Status,
		Payload:        json.RawMessage(a.Payload),
	}
	if !json.Valid(a.Payload) {
		raw, _ := json.Marshal(string(a.Payload))
		view.Payload = raw
	}
	if a.ExecutedAt != nil {
		view.ExecutedAt = a.ExecutedAt.UTC().Format(time.RFC3339Nano)
	}
	return jsonResult(view)
}

type receiptView struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Provider          string  `json:"provider"`
	ProviderReceiptID *string `json:"provider_receipt_id"`
	Error             *string `json:"error"`
	TriggeredBy       string  `json:"triggered_by,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func (s *Server) listReceipts(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, err := req.RequireString("action_id")
	if err != nil || id == "" {
		return mcpgo.NewToolResultError("action_id is required"), nil
	}
	limit := req.GetInt("limit", 10)
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	receipts, err := s.reader.ListReceipts(ctx, store.ListFilter{SourceID: id, Limit: limit})
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("listing receipts: %v", err)), nil
	}

	out := make([]receiptView, len(receipts))
	for i, r := range receipts {
		out[i] = receiptView{
			ID:                r.ID,
			Status:            string(r.Status),
			Provider:          r.Provider,
			ProviderReceiptID: r.ProviderReceiptID,
			Error:             r.Error,
			TriggeredBy:       r.TriggeredBy,
			CreatedAt:         r.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}
