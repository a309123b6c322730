package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/shared"
)

type stubChecker struct {
	grants map[permissions.AccessLevel]map[string]bool
	err    error
	calls  int
}

func (s *stubChecker) Allowed(ctx context.Context, level permissions.AccessLevel, resource, action string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.grants[level][resource+":"+action], nil
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, p *shared.Principal) int {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/permissions", nil)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr.Code
}

func TestRequire(t *testing.T) {
	checker := &stubChecker{grants: map[permissions.AccessLevel]map[string]bool{
		permissions.Admin:   {"permissoes:editar": true, "permissoes:visualizar": true},
		permissions.Usuario: {"permissoes:visualizar": true},
	}}
	m := Middleware{Authorizer: NewAuthorizer(checker)}

	cases := []struct {
		name      string
		principal *shared.Principal
		want      int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"admin", &shared.Principal{UserID: 1, Level: "admin"}, http.StatusNoContent},
		{"usuario", &shared.Principal{UserID: 2, Level: "usuario"}, http.StatusForbidden},
		{"visitante", &shared.Principal{UserID: 3, Level: "visitante"}, http.StatusForbidden},
		{"unknown level", &shared.Principal{UserID: 4, Level: "root"}, http.StatusForbidden},
		{"sentinel", &shared.Principal{UserID: 5, Level: "admin_master"}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, serve(t, m.Require("permissoes", "editar"), tc.principal))
		})
	}
}

func TestRequireAnyAndAll(t *testing.T) {
	checker := &stubChecker{grants: map[permissions.AccessLevel]map[string]bool{
		permissions.Usuario: {"permissoes:visualizar": true},
	}}
	m := Middleware{Authorizer: NewAuthorizer(checker)}
	p := &shared.Principal{UserID: 2, Level: "usuario"}

	assert.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(G("permissoes", "editar"), G("permissoes", "visualizar")), p))
	assert.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(G("permissoes", "editar"), G("permissoes", "visualizar")), p))
}

func TestRequireCheckerError(t *testing.T) {
	m := Middleware{Authorizer: NewAuthorizer(&stubChecker{err: errors.New("redis down")})}
	code := serve(t, m.Require("permissoes", "editar"), &shared.Principal{UserID: 1, Level: "admin"})
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestSentinelSkipsChecker(t *testing.T) {
	checker := &stubChecker{err: errors.New("must not be called")}
	ok, err := NewAuthorizer(checker).Can(context.Background(), shared.Principal{UserID: 1, Level: "admin_master"}, G("x", "y"))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, checker.calls)
}
