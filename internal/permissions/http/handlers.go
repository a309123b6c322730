package permissionshttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/platform/httpx"
	"github.com/plantops/plantops/internal/rbac"
	"github.com/plantops/plantops/internal/shared"
)

// Service is the permission backend used by the handlers.
type Service interface {
	Snapshot(ctx context.Context) (permissions.Snapshot, error)
	Apply(ctx context.Context, actor permissions.Actor, ip string, changes []permissions.Change) (permissions.ApplyResult, error)
	RefreshCache(ctx context.Context) error
	Allowed(ctx context.Context, level permissions.AccessLevel, resource, action string) (bool, error)
}

// IdempotencyStore remembers batch writes by client key so a retried PUT
// replays the first response instead of writing twice.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, module string, response []byte) error
	Lookup(ctx context.Context, key, module string) ([]byte, bool, error)
	Delete(ctx context.Context, key, module string) error
}

// Handler serves the permission matrix API.
type Handler struct {
	logger      *slog.Logger
	service     Service
	rbac        rbac.Middleware
	validator   *validator.Validate
	rateLimit   int
	idempotency IdempotencyStore
}

// NewHandler creates a permissions API handler. rateLimit caps writes per
// user per minute; zero keeps the default.
func NewHandler(logger *slog.Logger, service Service, rbacMiddleware rbac.Middleware, rateLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if rateLimit <= 0 {
		rateLimit = defaultWriteLimit
	}
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      rbacMiddleware,
		validator: validator.New(),
		rateLimit: rateLimit,
	}
}

// WithIdempotency enables Idempotency-Key handling on batch writes.
func (h *Handler) WithIdempotency(store IdempotencyStore) *Handler {
	h.idempotency = store
	return h
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("load permission snapshot", slog.Any("error", err))
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrUnavailable, "não foi possível carregar as permissões"))
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrUnauthorized, "authentication required"))
		return
	}
	var req applyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, http.StatusUnprocessableEntity, "payload inválido", fieldErrors(err))
		return
	}
	changes := make([]permissions.Change, 0, len(req.Changes))
	for i, dto := range req.Changes {
		change, err := dto.toChange()
		if err != nil {
			httpx.ValidationProblem(w, http.StatusUnprocessableEntity, err.Error(),
				map[string]string{fmt.Sprintf("changes[%d].level", i): err.Error()})
			return
		}
		changes = append(changes, change)
	}

	key := strings.TrimSpace(r.Header.Get(shared.IdempotencyHeader))
	if len(key) > maxIdempotencyKey {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", shared.IdempotencyHeader+" longo demais")
		return
	}
	// Keys are scoped per user.
	module := "permissions:" + strconv.FormatInt(principal.UserID, 10)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				h.replay(w, r, key, module)
				return
			}
			h.logger.Error("reserve idempotency key", slog.Any("error", err))
			httpx.RespondError(w, httpx.WithDetail(httpx.ErrUnavailable, ""))
			return
		}
	} else {
		key = ""
	}

	actor := permissions.Actor{
		ID:    principal.UserID,
		Name:  principal.Name,
		Level: permissions.AccessLevel(principal.Level),
	}
	result, err := h.service.Apply(r.Context(), actor, clientIP(r), changes)
	if err != nil {
		if key != "" {
			if derr := h.idempotency.Delete(r.Context(), key, module); derr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		h.respondApplyError(w, err)
		return
	}
	resp := applyResponse{
		Applied: result.Applied,
		Changed: result.Changed,
		BatchID: result.BatchID,
		Message: permissions.CommitSummary(result.Applied),
	}
	if key != "" {
		data, err := json.Marshal(resp)
		if err == nil {
			err = h.idempotency.Complete(r.Context(), key, module, data)
		}
		if err != nil {
			h.logger.Warn("store idempotent response", slog.Any("error", err))
			// Release the key so a retry is not stuck on 409.
			if derr := h.idempotency.Delete(r.Context(), key, module); derr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, key, module string) {
	data, done, err := h.idempotency.Lookup(r.Context(), key, module)
	if err != nil {
		h.logger.Error("lookup idempotency key", slog.Any("error", err))
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrUnavailable, ""))
		return
	}
	if !done {
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrConflict, "lote em processamento"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshCache(r.Context()); err != nil {
		h.logger.Warn("refresh permission cache", slog.Any("error", err))
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrUnavailable, "falha ao atualizar o cache de permissões"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrUnauthorized, "authentication required"))
		return
	}
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	action := strings.TrimSpace(r.URL.Query().Get("action"))
	if resource == "" || action == "" {
		httpx.ValidationProblem(w, http.StatusBadRequest, "resource e action são obrigatórios", nil)
		return
	}
	allowed, err := h.service.Allowed(r.Context(), permissions.AccessLevel(principal.Level), resource, action)
	if err != nil {
		h.logger.Error("check permission", slog.Any("error", err))
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrUnavailable, ""))
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{
		Level:    principal.Level,
		Resource: resource,
		Action:   action,
		Allowed:  allowed,
	})
}

func (h *Handler) respondApplyError(w http.ResponseWriter, err error) {
	var verr *permissions.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.ValidationProblem(w, http.StatusUnprocessableEntity, verr.Error(),
			map[string]string{verr.Key.String(): verr.Err.Error()})
	case errors.Is(err, permissions.ErrNothingToCommit):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "nenhuma alteração pendente")
	case errors.Is(err, permissions.ErrForbidden):
		httpx.RespondError(w, httpx.WithDetail(httpx.ErrForbidden, "sem permissão para alterar permissões"))
	default:
		h.logger.Error("apply permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func fieldErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Namespace()] = fe.Tag()
		}
		return out
	}
	out["payload"] = err.Error()
	return out
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
