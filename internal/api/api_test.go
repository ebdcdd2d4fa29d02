// ABOUTME: Tests for the HTTP API over the in-memory store and a real orchestrator
// ABOUTME: Covers routing, role gates, error mapping and the audit trail of operator writes

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/dedupe"
	"github.com/2389/wrap-gateway/internal/dispatch"
	"github.com/2389/wrap-gateway/internal/orchestrator"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/render"
	"github.com/2389/wrap-gateway/internal/store"
)

const testSecret = "wrap-gateway-test-secret-32bytes"

type testEnv struct {
	st       *store.MockStore
	inflight *dedupe.InFlight
	handler  http.Handler
	verifier *auth.JWTVerifier
}

// newTestEnv builds a Server whose operating mode lives in the store and
// defaults to MANUAL. With secured set, /v1 requires a bearer token.
func newTestEnv(t *testing.T, secured bool) *testEnv {
	t.Helper()
	st := store.NewMockStore()
	modes := policy.WithDefault{Source: st, Default: policy.ModeManual}
	inflight := dedupe.New(time.Minute, 100)
	t.Cleanup(inflight.Close)

	orch, err := orchestrator.New(orchestrator.Config{
		Store:       st,
		Modes:       modes,
		Dispatchers: dispatch.Registry{action.TypeWebsiteReply: dispatch.Website{}},
		InFlight:    inflight,
		Timeout:     time.Second,
	})
	require.NoError(t, err)

	env := &testEnv{st: st, inflight: inflight}
	cfg := Config{
		Store:        st,
		Orchestrator: orch,
		Render:       render.NewService(render.ServiceConfig{Store: st, Modes: modes}),
		DefaultMode:  policy.ModeManual,
	}
	if secured {
		v, err := auth.NewJWTVerifier([]byte(testSecret), "")
		require.NoError(t, err)
		env.verifier = v
		cfg.Auth = auth.HTTPAuthMiddleware(v)
	}
	env.handler = New(cfg).Handler()
	return env
}

func (e *testEnv) token(t *testing.T, principal string, roles ...string) string {
	t.Helper()
	tok, err := e.verifier.Generate(principal, roles, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) createWebsiteAction(t *testing.T, status action.Status, payload string) string {
	t.Helper()
	a := &store.Action{
		ConversationID: "conv-1",
		OrganizationID: "org-1",
		ActionType:     action.TypeWebsiteReply,
		Status:         status,
		Payload:        []byte(payload),
	}
	require.NoError(t, e.st.CreateAction(context.Background(), a))
	return a.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.st.Fail("Ping", errors.New("database is locked"))
	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestExecute_ApprovedWebsiteReply(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.createWebsiteAction(t, action.StatusApproved, `{"message":"We open at 9","visitor_id":"v-1"}`)

	rec := env.do(t, http.MethodPost, "/v1/actions/execute", "", ExecuteRequest{ActionID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"ok": true,
		"sent": true,
		"channel": "website",
		"action_type": "website_reply",
		"provider": "website",
		"provider_receipt_id": null,
		"error": null
	}`, rec.Body.String())

	// A second call replays the recorded outcome.
	rec = env.do(t, http.MethodPost, "/v1/actions/execute", "", ExecuteRequest{ActionID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])

	rec = env.do(t, http.MethodGet, "/v1/receipts?source_id="+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var receipts struct {
		Receipts []ReceiptResponse `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipts))
	require.Len(t, receipts.Receipts, 1)
	assert.Equal(t, "sent", receipts.Receipts[0].Status)
	assert.Equal(t, auth.LocalPrincipal, receipts.Receipts[0].TriggeredBy)

	rec = env.do(t, http.MethodGet, "/v1/messages?action_id="+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["messages"], 1)
}

func TestExecute_ManualThenApprove(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.createWebsiteAction(t, action.StatusPending, `{"message":"hello"}`)

	rec := env.do(t, http.MethodPost, "/v1/actions/execute", "", ExecuteRequest{ActionID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"blocked":true,"reason":"manual_requires_approval"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/actions/"+id+"/approve", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode(t, rec)["status"])

	rec = env.do(t, http.MethodPost, "/v1/actions/"+id+"/approve", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/actions/execute", "", ExecuteRequest{ActionID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["sent"])

	rec = env.do(t, http.MethodGet, "/v1/actions/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "sent", got["status"])
	assert.NotNil(t, got["executed_at"])
}

func TestExecute_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, false)
	invalid := env.createWebsiteAction(t, action.StatusApproved, `{"message":"   "}`)
	held := env.createWebsiteAction(t, action.StatusApproved, `{"message":"hi"}`)
	require.True(t, env.inflight.TryAcquire(held))

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"missing id", ExecuteRequest{}, http.StatusBadRequest},
		{"unknown action", ExecuteRequest{ActionID: "nope"}, http.StatusNotFound},
		{"invalid payload", ExecuteRequest{ActionID: invalid}, http.StatusBadRequest},
		{"already executing", ExecuteRequest{ActionID: held}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/actions/execute", "", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}

	t.Run("store failure", func(t *testing.T) {
		env.st.Fail("GetAction", errors.New("connection reset"))
		defer env.st.Fail("GetAction", nil)
		rec := env.do(t, http.MethodPost, "/v1/actions/execute", "", ExecuteRequest{ActionID: invalid})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection reset")
	})
}

func TestCreateAction(t *testing.T) {
	env := newTestEnv(t, true)
	producer := env.token(t, "agent-7", auth.RoleProducer)
	operator := env.token(t, "ops-dana", auth.RoleOperator)

	rec := env.do(t, http.MethodPost, "/v1/actions", producer, CreateActionRequest{
		ConversationID: "conv-1",
		ActionType:     action.TypeDMSend,
		Payload:        json.RawMessage(`{"recipient_id":"u-1","message":"hi"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, "social_dm", created["channel"])
	assert.Equal(t, "agent-7", created["created_by"])

	rec = env.do(t, http.MethodPost, "/v1/actions", producer, CreateActionRequest{
		ActionType: action.TypeDMSend,
		Status:     action.StatusApproved,
		Payload:    json.RawMessage(`{}`),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/actions", operator, CreateActionRequest{
		ActionType: action.TypeWebsiteReply,
		Status:     action.StatusApproved,
		Payload:    json.RawMessage(`{"message":"hi"}`),
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	bad := []struct {
		name string
		body string
	}{
		{"unknown type", `{"action_type":"fax_send","action_payload":{}}`},
		{"missing payload", `{"action_type":"dm_send"}`},
		{"terminal status", `{"action_type":"dm_send","status":"sent","action_payload":{}}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/actions", producer, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec = env.do(t, http.MethodGet, "/v1/actions?conversation_id=conv-1", producer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["actions"], 1)
}

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t, true)
	producer := env.token(t, "agent-7", auth.RoleProducer)
	operator := env.token(t, "ops-dana", auth.RoleOperator)

	rec := env.do(t, http.MethodGet, "/v1/mode", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/mode", producer, ModeRequest{Mode: "LIVE"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/audit", producer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Operators do not automatically hold the producer role.
	rec = env.do(t, http.MethodPost, "/v1/actions/execute", operator, ExecuteRequest{ActionID: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/mode", operator, ModeRequest{Mode: "LIVE"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMode(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/v1/mode", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"MANUAL","source":"default"}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/v1/mode", "", ModeRequest{Mode: "live"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"LIVE","source":"stored"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/mode", "", nil)
	assert.JSONEq(t, `{"mode":"LIVE","source":"stored"}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/v1/mode", "", ModeRequest{Mode: "turbo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	act := store.AuditSetMode
	entries, err := env.st.ListAuditLog(context.Background(), store.AuditFilter{Action: &act})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "LIVE", entries[0].TargetID)
	assert.Equal(t, auth.LocalPrincipal, entries[0].Actor)
}

func TestModeChangeAffectsExecution(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.createWebsiteAction(t, action.StatusApproved, `{"message":"hi"}`)

	rec := env.do(t, http.MethodPut, "/v1/mode", "", ModeRequest{Mode: "OFF"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/actions/execute", "", ExecuteRequest{ActionID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"blocked":true,"reason":"mode_off"}`, rec.Body.String())
}

func TestPolicy(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/v1/policies/conv-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, false, got["stored"])
	assert.Equal(t, true, got["approval_required"])

	rec = env.do(t, http.MethodPut, "/v1/policies/conv-1", "", `{"ai_paused":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode(t, rec)
	assert.Equal(t, true, got["ai_paused"])
	assert.Equal(t, true, got["approval_required"])
	assert.Equal(t, false, got["autopilot_allowed"])
	assert.Equal(t, auth.LocalPrincipal, got["updated_by"])

	p, err := env.st.GetConversationPolicy(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.True(t, p.AIPaused)

	// A paused conversation blocks even approved records.
	id := env.createWebsiteAction(t, action.StatusApproved, `{"message":"hi"}`)
	rec = env.do(t, http.MethodPost, "/v1/actions/execute", "", ExecuteRequest{ActionID: id})
	assert.JSONEq(t, `{"blocked":true,"reason":"conversation_paused"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/audit?action=set_policy", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "conv-1", entries[0].(map[string]any)["target_id"])
}

func TestCredentials(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	rec := env.do(t, http.MethodPut, "/v1/credentials/social_dm/access_token", "",
		PutCredentialRequest{Value: "EAAB-secret", OrganizationID: "org-1"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	c, err := env.st.GetCredential(ctx, action.ChannelSocialDM, "access_token", "org-1")
	require.NoError(t, err)
	assert.Equal(t, "EAAB-secret", c.Value)
	assert.Equal(t, auth.LocalPrincipal, c.CreatedBy)

	rec = env.do(t, http.MethodPut, "/v1/credentials/fax/access_token", "", PutCredentialRequest{Value: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/credentials/email/access_token", "", PutCredentialRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/credentials/social_dm/access_token", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/credentials/social_dm/access_token?organization_id=org-1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = env.st.GetCredential(ctx, action.ChannelSocialDM, "access_token", "org-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	entries, err := env.st.ListAuditLog(ctx, store.AuditFilter{TargetType: "credential"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotContains(t, e.Detail, "value")
	}
}

func TestRender(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/content/render", "", render.RenderRequest{
		ConversationID: "conv-1",
		Agent:          "copywriter",
		Text:           "Headline: Spring wraps\nTone: upbeat",
		Mode:           render.ModePreview,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, true, got["preview"])
	jobID, _ := got["job_id"].(string)
	require.NotEmpty(t, jobID)

	rec = env.do(t, http.MethodGet, "/v1/content/jobs/"+jobID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode(t, rec)
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, auth.LocalPrincipal, job["requested_by"])
	assert.Nil(t, job["used_fn"])

	rec = env.do(t, http.MethodGet, "/v1/content/jobs?conversation_id=conv-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["jobs"], 1)

	rec = env.do(t, http.MethodGet, "/v1/content/jobs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/content/render", "", render.RenderRequest{Text: "Headline: x", Mode: "publish"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRender_ExecuteQueuesForApprovalInManual(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/content/render", "", render.RenderRequest{
		ConversationID: "conv-1",
		Text:           "Headline: Spring wraps",
		Mode:           render.ModeExecute,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, true, got["queued_for_approval"])
	actionID, _ := got["ai_action_id"].(string)
	require.NotEmpty(t, actionID)

	rec = env.do(t, http.MethodGet, "/v1/actions/"+actionID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "content_render", decode(t, rec)["action_type"])
}
