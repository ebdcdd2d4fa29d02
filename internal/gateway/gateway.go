// ABOUTME: Gateway assembly that wires store, dispatchers, renderers and the HTTP/gRPC servers from config
// ABOUTME: Manages listeners (TCP or tailnet) and the graceful shutdown of every component

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/wrap-gateway/internal/action"
	"github.com/2389/wrap-gateway/internal/api"
	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/config"
	"github.com/2389/wrap-gateway/internal/dedupe"
	"github.com/2389/wrap-gateway/internal/dispatch"
	"github.com/2389/wrap-gateway/internal/events"
	"github.com/2389/wrap-gateway/internal/mcp"
	"github.com/2389/wrap-gateway/internal/orchestrator"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/render"
	"github.com/2389/wrap-gateway/internal/store"
)

// Version is reported by the MCP server and the health service.
var Version = "dev"

// shutdownTimeout bounds graceful shutdown once the run context is canceled.
const shutdownTimeout = 10 * time.Second

// Gateway owns every long-lived component of a running wrap-gateway.
type Gateway struct {
	config       *config.Config
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	render       *render.Service
	inflight     *dedupe.InFlight
	publisher    events.Publisher
	amqp         *events.AMQPPublisher
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// New builds a Gateway from configuration. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:    cfg,
		store:     st,
		inflight:  dedupe.New(cfg.Gateway.DedupeTTL, cfg.Gateway.DedupeMaxSize),
		publisher: events.Nop{},
		logger:    logger.With("component", "gateway"),
	}

	if cfg.Events.AMQPURL != "" {
		pub, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			g.closeComponents()
			return nil, fmt.Errorf("connecting receipt events: %w", err)
		}
		g.amqp = pub
		g.publisher = pub
	}

	modes := policy.WithDefault{Source: st, Default: cfg.Mode()}
	chain := buildRenderChain(cfg)
	registry := buildRegistry(cfg, chain)
	for _, t := range []action.Type{action.TypeDMSend, action.TypeEmailSend, action.TypeWebsiteReply, action.TypeContentRender} {
		if d, err := registry.For(t); err == nil {
			g.logger.Info("dispatcher registered", "action_type", t, "provider", d.Provider())
		}
	}

	g.orchestrator, err = orchestrator.New(orchestrator.Config{
		Store:       st,
		Modes:       modes,
		Dispatchers: registry,
		Credentials: orchestrator.StoreCredentials{Store: st, Fallback: credentialFallbacks(cfg)},
		Publisher:   g.publisher,
		InFlight:    g.inflight,
		Timeout:     cfg.Gateway.DispatchTimeout,
		Logger:      logger,
	})
	if err != nil {
		g.closeComponents()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	g.render = render.NewService(render.ServiceConfig{
		Store:     st,
		Modes:     modes,
		Chain:     chain,
		Publisher: g.publisher,
		Timeout:   cfg.Render.Timeout,
		Logger:    logger,
	})

	handler, err := g.buildHandler(logger)
	if err != nil {
		g.closeComponents()
		return nil, err
	}
	g.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		g.grpcServer, g.health = newHealthServer()
	}

	return g, nil
}

// initStore opens the configured database, sealing credentials when a key is set.
func initStore(cfg *config.Config) (*store.SQLStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WRAP_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	st, err := store.Open(store.Options{Driver: cfg.Database.Driver, Path: dbPath, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	if cfg.Credentials.EncryptionKey != "" {
		sb, err := store.NewSecretBox(cfg.Credentials.EncryptionKey)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("credentials.encryption_key: %w", err)
		}
		st.WithCredentialSealer(sb)
	}
	return st, nil
}

// buildRenderChain assembles the renderers in fallback order.
func buildRenderChain(cfg *config.Config) *render.Chain {
	var strategies []render.Strategy
	if p := cfg.Render.Pipeline; p.URL != "" {
		strategies = append(strategies, render.NewPipeline(p.URL, p.Token, render.WithRetry(p.MaxRetries, 500*time.Millisecond)))
	}
	if c := cfg.Render.Completion; c.BaseURL != "" {
		strategies = append(strategies, render.NewCompletion(c.BaseURL, c.APIKey, c.Model, nil))
	}
	return render.FirstSuccess(strategies...)
}

// buildRegistry maps each enabled action type to its dispatcher. Content
// renders always dispatch through the render chain.
func buildRegistry(cfg *config.Config, chain *render.Chain) dispatch.Registry {
	reg := dispatch.Registry{action.TypeContentRender: render.NewDispatcher(chain)}

	if dm := cfg.Channels.SocialDM; dm.Enabled {
		if dm.Provider == "matrix" {
			reg[action.TypeDMSend] = dispatch.NewMatrixDM(dm.Homeserver)
		} else {
			reg[action.TypeDMSend] = dispatch.NewGraphDM(dm.BaseURL, nil)
		}
	}
	if em := cfg.Channels.Email; em.Enabled {
		reg[action.TypeEmailSend] = dispatch.NewEmail(em.BaseURL, em.Sender, nil)
	}
	if cfg.Channels.Website.Enabled {
		reg[action.TypeWebsiteReply] = dispatch.Website{}
	}
	return reg
}

// credentialFallbacks returns the configured credentials used when the
// credential store has no row for a channel.
func credentialFallbacks(cfg *config.Config) map[action.Channel]dispatch.Credentials {
	return map[action.Channel]dispatch.Credentials{
		action.ChannelSocialDM: {
			AccessToken: cfg.Channels.SocialDM.AccessToken,
			UserID:      cfg.Channels.SocialDM.UserID,
		},
		action.ChannelEmail: {
			AccessToken: cfg.Channels.Email.APIKey,
		},
	}
}

// buildHandler creates the HTTP API, with authentication and the MCP
// endpoint when configured.
func (g *Gateway) buildHandler(logger *slog.Logger) (http.Handler, error) {
	apiCfg := api.Config{
		Store:        g.store,
		Orchestrator: g.orchestrator,
		Render:       g.render,
		DefaultMode:  g.config.Mode(),
		MCPPath:      g.config.MCP.Path,
		Logger:       logger,
	}

	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret), g.config.Auth.Issuer)
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		apiCfg.Auth = auth.HTTPAuthMiddleware(verifier)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured; every caller acts as the local admin")
	}

	if g.config.MCP.Enabled {
		srv, err := mcp.NewServer(mcp.Config{
			Executor: g.orchestrator,
			Renderer: g.render,
			Reader:   g.store,
			Version:  Version,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
		apiCfg.MCP = srv
		g.logger.Info("MCP endpoint enabled", "path", g.config.MCP.Path)
	}

	return api.New(apiCfg).Handler(), nil
}

// newHealthServer creates a gRPC server carrying only the standard health service.
func newHealthServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// Handler returns the HTTP handler the gateway serves.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Store returns the gateway's store.
func (g *Gateway) Store() store.Store {
	return g.store
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		g.closeComponents()
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
// grpcLn is nil when no gRPC server is configured.
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
				"grpc_addr", g.config.Server.GRPCAddr,
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wrap-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens for gRPC on :50051
// and HTTP on :80 or :443.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		g.tsnetServer = nil
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases everything except the servers.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.inflight != nil {
		g.inflight.Close()
	}
	if g.amqp != nil {
		errs = appendCloseError(errs, "events close", g.amqp.Close())
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// In-flight executions finish recording before the store closes.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)
	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
