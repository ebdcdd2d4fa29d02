// ABOUTME: HTTP API for producers, operators and dashboards on a chi router
// ABOUTME: Wires execute, content render, action CRUD, receipts, policy, mode, credentials and audit routes

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/orchestrator"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/render"
	"github.com/2389/wrap-gateway/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Config holds the collaborators of a Server.
type Config struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Render       *render.Service
	// DefaultMode is reported when no operating mode is stored.
	DefaultMode policy.Mode
	// Auth authenticates /v1 and the MCP endpoint. Nil disables authentication.
	Auth func(http.Handler) http.Handler
	// MCP is mounted at MCPPath when set.
	MCP     http.Handler
	MCPPath string
	Logger  *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	render       *render.Service
	defaultMode  policy.Mode
	authenticate func(http.Handler) http.Handler
	mcp          http.Handler
	mcpPath      string
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authn := cfg.Auth
	if authn == nil {
		authn = auth.DisabledMiddleware()
	}
	mode := cfg.DefaultMode
	if mode == "" {
		mode = policy.ModeManual
	}
	mcpPath := cfg.MCPPath
	if mcpPath == "" {
		mcpPath = "/mcp"
	}
	return &Server{
		store:        cfg.Store,
		orchestrator: cfg.Orchestrator,
		render:       cfg.Render,
		defaultMode:  mode,
		authenticate: authn,
		mcp:          cfg.MCP,
		mcpPath:      mcpPath,
		logger:       logger.With("component", "api"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)

	operator := auth.RequireRole(auth.RoleOperator)
	producer := auth.RequireRole(auth.RoleProducer)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Group(func(r chi.Router) {
			r.Use(producer)
			r.Post("/actions/execute", s.handleExecute)
			r.Post("/actions", s.handleCreateAction)
			r.Get("/actions", s.handleListActions)
			r.Get("/actions/{id}", s.handleGetAction)
			r.Get("/receipts", s.handleListReceipts)
			r.Get("/messages", s.handleListMessages)
			r.Post("/content/render", s.handleRender)
			r.Get("/content/jobs", s.handleListContentJobs)
			r.Get("/content/jobs/{id}", s.handleGetContentJob)
			r.Get("/policies/{conversation_id}", s.handleGetPolicy)
			r.Get("/mode", s.handleGetMode)
		})

		r.Group(func(r chi.Router) {
			r.Use(operator)
			r.Post("/actions/{id}/approve", s.handleApprove)
			r.Put("/policies/{conversation_id}", s.handlePutPolicy)
			r.Put("/mode", s.handlePutMode)
			r.Put("/credentials/{channel}/{name}", s.handlePutCredential)
			r.Delete("/credentials/{channel}/{name}", s.handleDeleteCredential)
			r.Get("/audit", s.handleListAudit)
		})
	})

	if s.mcp != nil {
		r.With(s.authenticate, auth.RequireRole(auth.RoleProducer)).Mount(s.mcpPath, s.mcp)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// audit appends an operator write to the audit log. Failures are logged.
func (s *Server) audit(ctx context.Context, act store.AuditAction, targetType, targetID string, detail map[string]any) {
	err := s.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      auth.Actor(ctx),
		Action:     act,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Error("writing audit entry", "action", act, "target_id", targetID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// listFilter reads the shared list query parameters.
func listFilter(r *http.Request) store.ListFilter {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	return store.ListFilter{
		ConversationID: q.Get("conversation_id"),
		OrganizationID: q.Get("organization_id"),
		Status:         q.Get("status"),
		SourceID:       q.Get("source_id"),
		ActionID:       q.Get("action_id"),
		Limit:          limit,
	}
}

// rawJSON returns b as embedded JSON when it is valid, otherwise as a string.
func rawJSON(b []byte) any {
	if len(b) > 0 && json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
