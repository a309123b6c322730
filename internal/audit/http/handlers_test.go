package audithttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantops/plantops/internal/audit"
	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/rbac"
	"github.com/plantops/plantops/internal/shared"
)

type stubChecker struct{ allow bool }

func (s stubChecker) Allowed(ctx context.Context, level permissions.AccessLevel, resource, action string) (bool, error) {
	return s.allow, nil
}

type failingService struct{}

func (failingService) Query(ctx context.Context, filters audit.Filters, page, pageSize int) (audit.Result, error) {
	return audit.Result{}, errors.New("db down")
}

func seededStore(t *testing.T) *audit.MemoryStore {
	t.Helper()
	store := audit.NewMemoryStore()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		{ActorID: 1, Level: "admin", ResourceSlug: "equipamentos", ActionSlug: "criar", NewValue: true, At: base},
		{ActorID: 1, Level: "usuario", ResourceSlug: "equipamentos", ActionSlug: "editar", NewValue: true, At: base.Add(time.Minute)},
		{ActorID: 2, Level: "admin", ResourceSlug: "relatorios", ActionSlug: "criar", NewValue: true, At: base.Add(2 * time.Minute)},
		{ActorID: 2, Level: "visitante", ResourceSlug: "relatorios", ActionSlug: "editar", NewValue: false, OldValue: true, At: base.Add(3 * time.Minute)},
		{ActorID: 1, Level: "admin", ResourceSlug: "relatorios", ActionSlug: "editar", NewValue: true, At: base.Add(4 * time.Minute)},
	}
	require.NoError(t, store.Append(context.Background(), entries))
	return store
}

func newRouter(service QueryService, principal *shared.Principal, allow bool) http.Handler {
	handler := NewHandler(nil, service, rbac.Middleware{Authorizer: rbac.NewAuthorizer(stubChecker{allow: allow})}, 0)
	r := chi.NewRouter()
	r.Route("/api/permissions", func(r chi.Router) {
		if principal != nil {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					next.ServeHTTP(w, req.WithContext(shared.ContextWithPrincipal(req.Context(), *principal)))
				})
			})
		}
		handler.MountRoutes(r)
	})
	return r
}

func get(t *testing.T, h http.Handler, url string) (*httptest.ResponseRecorder, audit.Result) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	var result audit.Result
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	}
	return rr, result
}

var viewer = &shared.Principal{UserID: 5, Level: "admin"}

func TestAuditListNewestFirst(t *testing.T) {
	h := newRouter(audit.NewService(seededStore(t)), viewer, true)
	rr, result := get(t, h, "/api/permissions/audit")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, result.Entries, 5)
	assert.Equal(t, "relatorios", result.Entries[0].ResourceSlug)
	assert.Equal(t, "editar", result.Entries[0].ActionSlug)
	assert.Equal(t, "admin", result.Entries[0].Level)
	assert.Equal(t, 1, result.Pagination.Pages)
}

func TestAuditFiltersCombine(t *testing.T) {
	h := newRouter(audit.NewService(seededStore(t)), viewer, true)
	_, result := get(t, h, "/api/permissions/audit?level=ADMIN&resource=relatorios&actor_id=1")
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "editar", result.Entries[0].ActionSlug)
	assert.Equal(t, 1, result.Pagination.Total)
}

func TestAuditPaging(t *testing.T) {
	h := newRouter(audit.NewService(seededStore(t)), viewer, true)
	_, result := get(t, h, "/api/permissions/audit?page=2&page_size=2")
	assert.Len(t, result.Entries, 2)
	assert.Equal(t, 3, result.Pagination.Pages)
	assert.Equal(t, 5, result.Pagination.Total)

	rr, result := get(t, h, "/api/permissions/audit?page=999")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, result.Entries)
	assert.Equal(t, 1, result.Pagination.Pages)
	assert.Contains(t, rr.Body.String(), `"entries":[]`)
}

func TestAuditRejectsBadQuery(t *testing.T) {
	h := newRouter(audit.NewService(seededStore(t)), viewer, true)
	for _, url := range []string{
		"/api/permissions/audit?level=root",
		"/api/permissions/audit?actor_id=abc",
		"/api/permissions/audit?page=0",
		"/api/permissions/audit?page_size=-4",
	} {
		rr, _ := get(t, h, url)
		assert.Equal(t, http.StatusBadRequest, rr.Code, url)
	}
}

func TestAuditRequiresPermission(t *testing.T) {
	store := seededStore(t)
	rr, _ := get(t, newRouter(audit.NewService(store), &shared.Principal{UserID: 9, Level: "visitante"}, false), "/api/permissions/audit")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = get(t, newRouter(audit.NewService(store), nil, true), "/api/permissions/audit")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuditServiceError(t *testing.T) {
	rr, _ := get(t, newRouter(failingService{}, viewer, true), "/api/permissions/audit")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
