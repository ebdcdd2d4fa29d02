// ABOUTME: Tests for the gateway command helpers: generated config, token minting and logging
// ABOUTME: Generated configs are loaded back through the config package to prove they validate

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/config"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/store"
)

const testSecret = "wrap-gateway-test-secret-32bytes"

func TestRenderConfig_LoadsBack(t *testing.T) {
	dir := t.TempDir()
	key, err := randomKey()
	if err != nil {
		t.Fatalf("randomKey: %v", err)
	}

	path := filepath.Join(dir, "gateway.yaml")
	content := renderConfig(configAnswers{
		HTTPAddr:      "localhost:9090",
		GRPCAddr:      "localhost:50051",
		DBPath:        filepath.Join(dir, "gateway.db"),
		DefaultMode:   "LIVE",
		JWTSecret:     testSecret,
		EncryptionKey: key,
		Website:       true,
		MCP:           true,
		LogLevel:      "debug",
		LogFormat:     "json",
	}, "test")
	if err := writeConfig(path, content, 0o600); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v\n%s", err, content)
	}
	if cfg.Server.HTTPAddr != "localhost:9090" || cfg.Server.GRPCAddr != "localhost:50051" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Mode() != policy.ModeLive {
		t.Errorf("mode = %s, want LIVE", cfg.Mode())
	}
	if cfg.Auth.JWTSecret != testSecret || cfg.Credentials.EncryptionKey != key {
		t.Error("secrets were not written")
	}
	if !cfg.Channels.Website.Enabled || cfg.Channels.Email.Enabled || !cfg.MCP.Enabled {
		t.Errorf("channels = %+v, mcp = %+v", cfg.Channels, cfg.MCP)
	}
	if cfg.Gateway.DispatchTimeout != 30*time.Second {
		t.Errorf("dispatch timeout = %v", cfg.Gateway.DispatchTimeout)
	}
}

func TestRenderConfig_NoAuth(t *testing.T) {
	content := renderConfig(configAnswers{
		HTTPAddr:    "localhost:8080",
		DBPath:      "/tmp/wrap.db",
		DefaultMode: "MANUAL",
		LogLevel:    "info",
		LogFormat:   "text",
	}, "init")
	if strings.Contains(content, "jwt_secret") || strings.Contains(content, "encryption_key") {
		t.Errorf("unexpected secrets in config:\n%s", content)
	}
	if strings.Contains(content, "grpc_addr") {
		t.Errorf("grpc_addr should be omitted when empty:\n%s", content)
	}
}

func TestParseRoles(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "producer", want: "producer"},
		{in: " Producer , operator ", want: "producer,operator"},
		{in: "admin,", want: "admin"},
		{in: "", wantErr: true},
		{in: "producer,root", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseRoles(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRoles(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRoles(%q): %v", tt.in, err)
			continue
		}
		if strings.Join(got, ",") != tt.want {
			t.Errorf("parseRoles(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMintToken_RecordsAudit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: store.DriverSQLite, Path: dbPath},
		Auth:     config.AuthConfig{JWTSecret: testSecret, Issuer: "wrap-test"},
	}
	ctx := context.Background()

	token, expiresAt, err := mintToken(ctx, cfg, "ops-lead", []string{auth.RoleOperator}, time.Hour)
	if err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiresAt = %v, want future", expiresAt)
	}

	verifier, err := auth.NewJWTVerifier([]byte(testSecret), "wrap-test")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	ac, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ac.PrincipalID != "ops-lead" || !ac.HasRole(auth.RoleOperator) {
		t.Errorf("auth context = %+v", ac)
	}

	st, err := store.Open(store.Options{Driver: store.DriverSQLite, Path: dbPath})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	entries, err := st.ListAuditLog(ctx, store.AuditFilter{TargetID: "ops-lead"})
	if err != nil {
		t.Fatalf("ListAuditLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Action != store.AuditCreateToken || entries[0].Actor != cliActor {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestMintToken_RequiresSecret(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: store.DriverSQLite, Path: ":memory:"}}
	if _, _, err := mintToken(context.Background(), cfg, "x", []string{auth.RoleAdmin}, time.Hour); err == nil {
		t.Fatal("expected error without a JWT secret")
	}
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.With("component", "orchestrator").Info("dispatched", "action_id", "a-1")
	logger.Debug("hidden")
	logger.WithGroup("job").Warn("render failed", "id", "j-9", "error", "timeout")

	out := buf.String()
	if !strings.Contains(out, "INF [orchestrator] dispatched action_id=a-1") {
		t.Errorf("info line missing:\n%s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered:\n%s", out)
	}
	if !strings.Contains(out, "WRN render failed job.id=j-9 job.error=timeout") {
		t.Errorf("group line missing:\n%s", out)
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Debug("ping", "component", "store")
	if !strings.Contains(buf.String(), `"component":"store"`) {
		t.Errorf("json output = %s", buf.String())
	}
}
