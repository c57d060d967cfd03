package auth

import "context"

// claimsKey is the key type for storing Claims in context.Context.
type claimsKey struct{}

// WithClaims returns a new context carrying the authenticated claims.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// FromContext retrieves the claims added by RequireAuth.
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// IsAdmin reports whether the claims carry the admin role.
func (c Claims) IsAdmin() bool {
	return c.Role == "admin"
}
