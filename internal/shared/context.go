package shared

import "context"

type principalContextKey struct{}

// Principal is the authenticated actor behind a request.
type Principal struct {
	UserID    int64  `json:"user_id"`
	Role      string `json:"role"`
	SessionID string `json:"-"`
}

// HasRole reports whether the principal holds one of the roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if r == p.Role {
			return true
		}
	}
	return false
}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
