package perf

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/plantops/plantops/internal/permissions"
	permissionshttp "github.com/plantops/plantops/internal/permissions/http"
	"github.com/plantops/plantops/internal/rbac"
	"github.com/plantops/plantops/internal/shared"
)

// plantCatalog builds a catalog close to production size: 12 resources x 6
// actions.
func plantCatalog() ([]permissions.Resource, []permissions.Action, permissions.Grants) {
	resources := make([]permissions.Resource, 0, 12)
	for i := 1; i <= 12; i++ {
		resources = append(resources, permissions.Resource{ID: int64(i), Name: fmt.Sprintf("Recurso %d", i), Slug: fmt.Sprintf("recurso_%02d", i), Active: true, Order: i})
	}
	resources = append(resources, permissions.Resource{ID: 13, Name: "Permissões", Slug: permissions.ResourcePermissions, Active: true, Order: 13})
	slugs := []string{"visualizar", "criar", "editar", "excluir", "exportar", "aprovar"}
	actions := make([]permissions.Action, 0, len(slugs))
	for i, slug := range slugs {
		actions = append(actions, permissions.Action{ID: int64(i + 1), Name: slug, Slug: slug, Active: true, Order: i + 1})
	}
	grants := permissions.Grants{permissions.Admin: {}, permissions.Usuario: {}}
	for _, r := range resources {
		grants[permissions.Admin][r.Slug] = map[string]bool{"visualizar": true, "criar": true, "editar": true}
		grants[permissions.Usuario][r.Slug] = map[string]bool{"visualizar": true}
	}
	return resources, actions, grants
}

func newPlantService(t testing.TB) *permissions.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	resources, actions, grants := plantCatalog()
	repo := permissions.NewMemoryRepository(resources, actions, grants, nil)
	return permissions.NewService(repo, permissions.ServiceConfig{
		Cache:    permissions.NewCache(rdb, time.Minute, nil),
		Metrics:  permissions.NewMetrics(prometheus.NewRegistry()),
		LocalTTL: time.Minute,
	})
}

func TestPermissionCheckLatencyTargets(t *testing.T) {
	ctx := context.Background()
	service := newPlantService(t)

	cold := make([]time.Duration, 0, 20)
	for i := 0; i < 20; i++ {
		if err := service.RefreshCache(ctx); err != nil {
			t.Fatalf("refresh cache: %v", err)
		}
		start := time.Now()
		if _, err := service.Allowed(ctx, permissions.Usuario, "recurso_05", "visualizar"); err != nil {
			t.Fatalf("allowed: %v", err)
		}
		cold = append(cold, time.Since(start))
	}

	cached := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		start := time.Now()
		allowed, err := service.Allowed(ctx, permissions.Usuario, "recurso_05", "visualizar")
		if err != nil || !allowed {
			t.Fatalf("allowed: %v %v", allowed, err)
		}
		cached = append(cached, time.Since(start))
	}

	scenarios := []struct {
		name      string
		samples   []time.Duration
		threshold time.Duration
	}{
		{name: "cached", samples: cached, threshold: 5 * time.Millisecond},
		{name: "cold", samples: cold, threshold: 250 * time.Millisecond},
	}
	for _, scenario := range scenarios {
		p95 := percentile95(scenario.samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func BenchmarkPermissionCheckEndpoint(b *testing.B) {
	service := newPlantService(b)
	handler := permissionshttp.NewHandler(nil, service, rbac.Middleware{Authorizer: rbac.NewAuthorizer(service)}, 0)
	principal := shared.Principal{UserID: 2, Level: "usuario"}
	r := chi.NewRouter()
	r.Route("/api/permissions", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(shared.ContextWithPrincipal(req.Context(), principal)))
			})
		})
		handler.MountRoutes(r)
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/permissions/check?resource=recurso_03&action=editar", nil))
		if rr.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rr.Code)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
