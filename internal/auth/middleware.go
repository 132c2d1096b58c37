package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atelier-ops/atelier/internal/shared"
)

// PrincipalLookup resolves session tokens.
type PrincipalLookup interface {
	Lookup(ctx context.Context, token string) (shared.Principal, error)
}

// Middleware attaches the request principal, when one can be resolved, to the
// request context. Enforcement is left to rbac so public routes keep working.
func Middleware(lookup PrincipalLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := lookup.Lookup(r.Context(), token)
			if err != nil {
				if !errors.Is(err, shared.ErrSessionNotFound) && logger != nil {
					logger.Error("resolve session", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
