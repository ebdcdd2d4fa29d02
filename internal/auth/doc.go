// ABOUTME: Package documentation for caller authentication
// ABOUTME: Describes JWT tokens, roles and the HTTP middleware chain

// Package auth authenticates the services and agents that call wrap-gateway.
//
// # Tokens
//
// Callers present an HS256 JWT in the Authorization header. The "sub" claim
// names the caller and is recorded on receipts and audit entries. The
// "roles" claim lists what the caller may do:
//
//   - producer: create actions, execute them, request content renders
//   - operator: approve actions, change policy, mode and credentials
//   - admin: everything
//
// Tokens are minted with `wrap-gateway bootstrap` or JWTVerifier.Generate.
//
// # Middleware
//
//	r.Use(auth.HTTPAuthMiddleware(verifier))
//	r.With(auth.RequireRole(auth.RoleOperator)).Post("/v1/actions/{id}/approve", ...)
//
// When no secret is configured the gateway installs DisabledMiddleware,
// which treats every request as the local admin.
package auth
