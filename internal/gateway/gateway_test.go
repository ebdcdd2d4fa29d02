// ABOUTME: Tests for gateway assembly from config and the server lifecycle
// ABOUTME: Runs real TCP listeners and an in-memory SQLite store end to end

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/config"
	"github.com/2389/wrap-gateway/internal/dispatch"
	"github.com/2389/wrap-gateway/internal/render"
	"github.com/2389/wrap-gateway/internal/store"
)

// freeAddr returns a loopback address with a currently unused port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			HTTPAddr: freeAddr(t),
		},
		Database: config.DatabaseConfig{
			Driver: store.DriverSQLite,
			Path:   ":memory:",
		},
		Gateway: config.GatewayConfig{
			DefaultMode:     "LIVE",
			DispatchTimeout: 5 * time.Second,
			DedupeTTL:       time.Minute,
			DedupeMaxSize:   100,
		},
		Channels: config.ChannelsConfig{
			Website: config.WebsiteConfig{Enabled: true},
		},
		MCP: config.MCPConfig{Path: "/mcp"},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil || gw.orchestrator == nil || gw.render == nil {
		t.Error("store, orchestrator and render service must be set")
	}
	if gw.grpcServer != nil {
		t.Error("gRPC server should not be created without grpc_addr")
	}
}

func TestGatewayNew_BadEncryptionKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.EncryptionKey = "not-base64!"

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected error for an invalid encryption key")
	}
}

func TestBuildRegistry(t *testing.T) {
	tests := []struct {
		name     string
		channels config.ChannelsConfig
		want     map[action.Type]string
	}{
		{
			name:     "content only",
			channels: config.ChannelsConfig{},
			want:     map[action.Type]string{action.TypeContentRender: render.ProviderRender},
		},
		{
			name: "graph and email",
			channels: config.ChannelsConfig{
				SocialDM: config.SocialDMConfig{Enabled: true, Provider: "graph"},
				Email:    config.EmailConfig{Enabled: true},
			},
			want: map[action.Type]string{
				action.TypeDMSend:        dispatch.ProviderGraph,
				action.TypeEmailSend:     dispatch.ProviderResend,
				action.TypeContentRender: render.ProviderRender,
			},
		},
		{
			name: "matrix and website",
			channels: config.ChannelsConfig{
				SocialDM: config.SocialDMConfig{Enabled: true, Provider: "matrix", Homeserver: "https://matrix.example.org"},
				Website:  config.WebsiteConfig{Enabled: true},
			},
			want: map[action.Type]string{
				action.TypeDMSend:        dispatch.ProviderMatrix,
				action.TypeWebsiteReply:  dispatch.ProviderWebsite,
				action.TypeContentRender: render.ProviderRender,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Channels: tt.channels}
			reg := buildRegistry(cfg, buildRenderChain(cfg))
			if len(reg) != len(tt.want) {
				t.Fatalf("registry has %d dispatchers, want %d", len(reg), len(tt.want))
			}
			for typ, provider := range tt.want {
				d, err := reg.For(typ)
				if err != nil {
					t.Fatalf("For(%s): %v", typ, err)
				}
				if d.Provider() != provider {
					t.Errorf("%s provider = %q, want %q", typ, d.Provider(), provider)
				}
			}
		})
	}
}

func TestBuildRenderChain(t *testing.T) {
	cfg := &config.Config{Render: config.RenderConfig{
		Pipeline:   config.PipelineConfig{URL: "http://render.internal/run"},
		Completion: config.CompletionConfig{BaseURL: "https://llm.example.com/v1", Model: "m"},
	}}
	got := buildRenderChain(cfg).Names()
	want := []string{render.StrategyPipeline, render.StrategyCompletion}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("chain = %v, want %v", got, want)
	}
}

func TestCredentialFallbacks(t *testing.T) {
	cfg := &config.Config{Channels: config.ChannelsConfig{
		SocialDM: config.SocialDMConfig{AccessToken: "page-token", UserID: "page-1"},
		Email:    config.EmailConfig{APIKey: "re_key"},
	}}
	fb := credentialFallbacks(cfg)
	if fb[action.ChannelSocialDM].AccessToken != "page-token" || fb[action.ChannelSocialDM].UserID != "page-1" {
		t.Errorf("social_dm fallback = %+v", fb[action.ChannelSocialDM])
	}
	if fb[action.ChannelEmail].AccessToken != "re_key" {
		t.Errorf("email fallback = %+v", fb[action.ChannelEmail])
	}
}

func TestGatewayHandler_ExecutesThroughSQLStore(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	a := &store.Action{
		ConversationID: "conv-1",
		ActionType:     action.TypeWebsiteReply,
		Status:         action.StatusApproved,
		Payload:        []byte(`{"message":"We open at 9"}`),
	}
	if err := gw.Store().CreateAction(context.Background(), a); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"action_id": a.ID})
	req := httptest.NewRequest(http.MethodPost, "/v1/actions/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out["sent"] != true || out["provider"] != dispatch.ProviderWebsite {
		t.Errorf("response = %v", out)
	}

	got, err := gw.Store().GetAction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	if got.Status != action.StatusSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCAddr = freeAddr(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	healthURL := "http://" + cfg.Server.HTTPAddr + "/health"
	var up bool
	for i := 0; i < 50; i++ {
		resp, err := http.Get(healthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				up = true
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !up {
		cancel()
		t.Fatal("HTTP server did not come up")
	}

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		cancel()
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{}, grpc.WaitForReady(true))
	if err != nil {
		cancel()
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health status = %v, want SERVING", resp.GetStatus())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	if _, err := resolveTailscaleAuthKey(""); err == nil {
		t.Error("expected error without any auth key")
	}

	t.Setenv("TS_AUTHKEY", "tskey-env")
	if got, _ := resolveTailscaleAuthKey(""); got != "tskey-env" {
		t.Errorf("auth key = %q, want tskey-env", got)
	}
	if got, _ := resolveTailscaleAuthKey("tskey-config"); got != "tskey-config" {
		t.Errorf("auth key = %q, want tskey-config", got)
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	if got, _ := resolveTailscaleStateDir("/var/lib/wrap"); got != "/var/lib/wrap" {
		t.Errorf("state dir = %q", got)
	}
	t.Setenv("HOME", "/home/wrap")
	got, err := resolveTailscaleStateDir("")
	if err != nil {
		t.Fatalf("resolveTailscaleStateDir: %v", err)
	}
	if !strings.HasSuffix(got, "wrap-gateway/tailscale") {
		t.Errorf("state dir = %q", got)
	}
}
