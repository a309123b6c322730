package audithttp

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/shared"
)

const defaultRateLimit = 30

// MountRoutes registers the audit listing on a router mounted at
// /api/permissions.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.Require(permissions.ResourcePermissions, permissions.ActionView))
		gr.Use(shared.RateLimiter(h.rateLimit, time.Minute))
		gr.Get("/audit", h.handleList)
	})
}
