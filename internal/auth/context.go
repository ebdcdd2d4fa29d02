// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the caller via context

package auth

import (
	"context"
	"slices"
)

// Roles a caller token can carry.
const (
	// RoleProducer may create actions, execute them and request renders.
	RoleProducer = "producer"
	// RoleOperator may approve actions and change policy, mode and credentials.
	RoleOperator = "operator"
	// RoleAdmin may do everything.
	RoleAdmin = "admin"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	PrincipalID string
	Roles       []string
}

// HasRole reports whether the caller holds role. Admins hold every role.
func (a *AuthContext) HasRole(role string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, role) || slices.Contains(a.Roles, RoleAdmin)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// Actor names the caller for receipts and the audit log.
func Actor(ctx context.Context) string {
	if a := FromContext(ctx); a != nil && a.PrincipalID != "" {
		return a.PrincipalID
	}
	return "anonymous"
}
