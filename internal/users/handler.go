package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/platform/httpx"
	"github.com/plantops/plantops/internal/rbac"
	"github.com/plantops/plantops/internal/shared"
)

// Resource and action slugs guarding the user directory.
const (
	ResourceUsers = "usuarios"
	ActionView    = "visualizar"
)

// Lister is the read contract the handler depends on.
type Lister interface {
	ListUsers(ctx context.Context, filters ListFilters) ([]User, error)
	Get(ctx context.Context, id int64) (*User, error)
}

// Handler exposes the user directory over JSON.
type Handler struct {
	logger  *slog.Logger
	service Lister
	rbac    rbac.Middleware
}

// NewHandler creates a new users handler.
func NewHandler(logger *slog.Logger, service Lister, rbacMiddleware rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbacMiddleware}
}

// MountRoutes registers routes on a router mounted at /api/users.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(ResourceUsers, ActionView))
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var filters ListFilters
	filters.Level = strings.TrimSpace(r.URL.Query().Get("level"))
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.ValidationProblem(w, http.StatusBadRequest, "filtro inválido", map[string]string{"active": "deve ser true ou false"})
			return
		}
		filters.Active = &active
	}
	list, err := h.service.ListUsers(r.Context(), filters)
	if err != nil {
		if errors.Is(err, permissions.ErrUnknownLevel) {
			httpx.ValidationProblem(w, http.StatusBadRequest, "filtro inválido", map[string]string{"level": "nível desconhecido"})
			return
		}
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id inválido")
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.WithDetail(httpx.ErrNotFound, "usuário não encontrado"))
			return
		}
		h.logger.Error("get user", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}
