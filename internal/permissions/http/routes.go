package permissionshttp

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/shared"
)

const (
	defaultWriteLimit = 20
	maxIdempotencyKey = 128
)

// MountRoutes registers the matrix endpoints on a router mounted at
// /api/permissions.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/check", h.handleCheck)
	r.With(h.rbac.Require(permissions.ResourcePermissions, permissions.ActionView)).Get("/", h.handleSnapshot)
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.Require(permissions.ResourcePermissions, permissions.ActionEdit))
		gr.Use(shared.RateLimiter(h.rateLimit, time.Minute))
		gr.Put("/", h.handleApply)
		gr.Post("/cache/refresh", h.handleRefresh)
	})
}
