package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/plantops/plantops/internal/audit"
	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/platform/httpx"
	"github.com/plantops/plantops/internal/rbac"
	"github.com/plantops/plantops/internal/shared"
)

// QueryService defines the business contract for audit listings.
type QueryService interface {
	Query(ctx context.Context, filters audit.Filters, page, pageSize int) (audit.Result, error)
}

// Handler serves the permission audit trail.
type Handler struct {
	logger    *slog.Logger
	service   QueryService
	rbac      rbac.Middleware
	rateLimit int
}

// NewHandler builds the audit handler. rateLimit is requests per minute per
// user; zero keeps the default.
func NewHandler(logger *slog.Logger, service QueryService, rbacMiddleware rbac.Middleware, rateLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      rbacMiddleware,
		rateLimit: rateLimit,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r)
	if err != nil {
		var v validationError
		if errors.As(err, &v) {
			httpx.ValidationProblem(w, http.StatusBadRequest, "filtro inválido", map[string]string{v.field: v.reason})
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	result, err := h.service.Query(r.Context(), query.filters, query.page, query.pageSize)
	if err != nil {
		h.logger.Error("query permission audit", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type listQuery struct {
	filters  audit.Filters
	page     int
	pageSize int
}

func parseQuery(r *http.Request) (listQuery, error) {
	values := r.URL.Query()
	q := listQuery{page: 1, pageSize: shared.DefaultPageSize}

	if raw := strings.TrimSpace(values.Get("level")); raw != "" {
		level, err := permissions.ParseAccessLevel(raw)
		if err != nil {
			return listQuery{}, validationError{field: "level", reason: "nível desconhecido"}
		}
		q.filters.Level = level.String()
	}
	q.filters.Resource = strings.TrimSpace(firstNonEmpty(values.Get("resource"), values.Get("resource_slug")))
	q.filters.Action = strings.TrimSpace(firstNonEmpty(values.Get("action"), values.Get("action_slug")))

	if raw := strings.TrimSpace(values.Get("actor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return listQuery{}, validationError{field: "actor_id", reason: "deve ser um inteiro positivo"}
		}
		q.filters.ActorID = id
	}
	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page <= 0 {
			return listQuery{}, validationError{field: "page", reason: "deve ser um inteiro positivo"}
		}
		q.page = page
	}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return listQuery{}, validationError{field: "page_size", reason: "deve ser um inteiro positivo"}
		}
		if size > shared.MaxPageSize {
			size = shared.MaxPageSize
		}
		q.pageSize = size
	}
	return q, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type validationError struct {
	field  string
	reason string
}

func (e validationError) Error() string {
	return "audit: invalid " + e.field
}
