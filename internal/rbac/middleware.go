package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/plantops/plantops/internal/platform/httpx"
	"github.com/plantops/plantops/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
}

type evalFunc func(ctx context.Context, p shared.Principal, grants ...Grant) (bool, error)

// Require ensures the current user holds resource/action.
func (m Middleware) Require(resource, action string) func(http.Handler) http.Handler {
	return m.RequireAll(G(resource, action))
}

// RequireAny ensures the current user holds at least one of the grants.
func (m Middleware) RequireAny(grants ...Grant) func(http.Handler) http.Handler {
	return m.guard("rbac require any", grants, m.Authorizer.CanAny)
}

// RequireAll ensures the current user holds every grant.
func (m Middleware) RequireAll(grants ...Grant) func(http.Handler) http.Handler {
	return m.guard("rbac require all", grants, m.Authorizer.CanAll)
}

func (m Middleware) guard(op string, grants []Grant, eval evalFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			allowed, err := eval(r.Context(), principal, grants...)
			if err != nil {
				m.logger().Error(op, slog.Int64("user_id", principal.UserID), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				m.logger().Warn("rbac denied",
					slog.Int64("user_id", principal.UserID),
					slog.String("level", principal.Level),
					slog.String("path", r.URL.Path))
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "acesso negado")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
