package gate

import (
	"context"

	"github.com/dropDatabas3/storefront/internal/auth/token"
)

type claimsKey struct{}

// WithClaims stores verified claims for downstream handlers.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims the gate attached, or nil when the
// request never passed the gate.
func ClaimsFrom(ctx context.Context) *token.Claims {
	if v := ctx.Value(claimsKey{}); v != nil {
		if c, ok := v.(*token.Claims); ok {
			return c
		}
	}
	return nil
}
