package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/plantops/plantops/internal/platform/httpx"
	"github.com/plantops/plantops/internal/shared"
)

// PrincipalMiddleware resolves the session user into a shared.Principal.
// Requests without a logged-in user pass through anonymously; a session whose
// account was disabled is logged out.
func PrincipalMiddleware(service *Service, sessions *shared.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.UserID() <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := service.Principal(r.Context(), sess.UserID())
			if err != nil {
				if errors.Is(err, shared.ErrUnauthenticated) {
					sessions.Destroy(sess)
					next.ServeHTTP(w, r)
					return
				}
				logger.Error("resolve principal", slog.Any("error", err), slog.Int64("user_id", sess.UserID()))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
