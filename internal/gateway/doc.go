// Package gateway assembles and runs a wrap-gateway process.
//
// # Overview
//
// New turns a *config.Config into running components:
//
//   - the store (sqlite, sqlite3 or postgres), sealing credentials when
//     credentials.encryption_key is set
//   - the dispatcher registry: one dispatcher per enabled channel, plus the
//     render chain for content_render
//   - the orchestrator and the content-render service, sharing the operating
//     mode source (stored mode, falling back to gateway.default_mode)
//   - the receipt event publisher (AMQP when events.amqp_url is set)
//   - the HTTP API with optional JWT auth and the MCP endpoint
//   - a gRPC server carrying the standard health service
//
// # Listeners
//
// Without Tailscale the HTTP API listens on server.http_addr and the gRPC
// health service on server.grpc_addr (omitted when empty). With Tailscale
// the gateway joins the tailnet through tsnet and listens on :80 (or :443
// with tailscale.https or tailscale.funnel) and :50051.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts everything down when ctx is canceled or a server fails. HTTP
// shutdown waits for in-flight requests, so an execution that already
// dispatched still writes its receipt before the store closes.
package gateway
