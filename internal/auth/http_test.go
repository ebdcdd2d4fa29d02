// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, disabled auth and the role gate

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// serve runs a request through mw and returns what the inner handler saw.
func serve(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()
	var got *AuthContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/actions/execute", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret, "")
	token, _ := v.Generate("content-pipeline", []string{RoleProducer}, time.Hour)

	rec, got := serve(t, HTTPAuthMiddleware(v), "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.PrincipalID != "content-pipeline" {
		t.Fatalf("auth context = %+v", got)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret, "")
	expired, _ := v.Generate("agent-7", nil, -time.Minute)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty token", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, got := serve(t, HTTPAuthMiddleware(v), tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if got != nil {
				t.Errorf("handler must not run")
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantMsg)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestDisabledMiddleware(t *testing.T) {
	rec, got := serve(t, DisabledMiddleware(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.PrincipalID != LocalPrincipal || !got.HasRole(RoleOperator) {
		t.Errorf("auth context = %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	gate := RequireRole(RoleOperator)(ok)

	tests := []struct {
		name string
		auth *AuthContext
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"producer", &AuthContext{PrincipalID: "p", Roles: []string{RoleProducer}}, http.StatusForbidden},
		{"operator", &AuthContext{PrincipalID: "o", Roles: []string{RoleOperator}}, http.StatusOK},
		{"admin", &AuthContext{PrincipalID: "a", Roles: []string{RoleAdmin}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/mode", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec := httptest.NewRecorder()
			gate.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestActor(t *testing.T) {
	if got := Actor(context.Background()); got != "anonymous" {
		t.Errorf("Actor() = %q, want anonymous", got)
	}
	ctx := WithAuth(context.Background(), &AuthContext{PrincipalID: "ops-dana"})
	if got := Actor(ctx); got != "ops-dana" {
		t.Errorf("Actor() = %q, want ops-dana", got)
	}
}
