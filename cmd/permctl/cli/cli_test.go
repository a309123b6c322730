package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantops/plantops/internal/audit"
	"github.com/plantops/plantops/internal/permissions"
	permissionsclient "github.com/plantops/plantops/internal/permissions/client"
	"github.com/plantops/plantops/internal/shared"
)

type stubAPI struct {
	snapshot   permissions.Snapshot
	writeErr   error
	refreshErr error
	written    [][]permissions.Change
	refreshes  int
	auditQuery permissionsclient.AuditQuery
	auditRes   audit.Result
	auditErr   error
}

func (s *stubAPI) FetchSnapshot(ctx context.Context) (permissions.Snapshot, error) {
	return s.snapshot, nil
}

func (s *stubAPI) WriteBatch(ctx context.Context, changes []permissions.Change) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written = append(s.written, changes)
	return len(changes), nil
}

func (s *stubAPI) RefreshCache(ctx context.Context) error {
	s.refreshes++
	return s.refreshErr
}

func (s *stubAPI) Audit(ctx context.Context, q permissionsclient.AuditQuery) (audit.Result, error) {
	s.auditQuery = q
	return s.auditRes, s.auditErr
}

func newStub() *stubAPI {
	return &stubAPI{snapshot: permissions.Snapshot{
		Resources: []permissions.Resource{
			{ID: 1, Name: "Equipamentos", Slug: "equipamentos", Active: true, Order: 1},
			{ID: 2, Name: "Relatórios", Slug: "relatorios", Active: true, Order: 2},
		},
		Actions: []permissions.Action{
			{ID: 1, Name: "Criar", Slug: "criar", Active: true, Order: 1},
			{ID: 2, Name: "Editar", Slug: "editar", Active: true, Order: 2},
		},
		Permissions: permissions.Grants{
			permissions.Admin: {"relatorios": {"editar": true}},
		},
	}}
}

func run(api API, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr, func(Connection, *slog.Logger) (API, error) {
		return api, nil
	})
	return code, stdout.String(), stderr.String()
}

func TestParseAssignment(t *testing.T) {
	key, value, err := ParseAssignment(" Admin:equipamentos:criar=true ")
	require.NoError(t, err)
	assert.Equal(t, permissions.NewKey(permissions.Admin, "equipamentos", "criar"), key)
	assert.True(t, value)

	for _, raw := range []string{
		"admin:equipamentos:criar",
		"admin:equipamentos=true",
		"root:equipamentos:criar=true",
		"admin:equipamentos:criar=talvez",
		"admin::criar=false",
	} {
		_, _, err := ParseAssignment(raw)
		assert.Error(t, err, raw)
	}
}

func TestApplyCommitsBatch(t *testing.T) {
	api := newStub()
	code, stdout, stderr := run(api, "apply",
		"--set", "admin:equipamentos:criar=true",
		"--set", "usuario:relatorios:editar=true")
	require.Equal(t, ExitOK, code, stderr)
	require.Len(t, api.written, 1)
	assert.Len(t, api.written[0], 2)
	assert.Equal(t, 1, api.refreshes)
	assert.Contains(t, stdout, "admin:equipamentos:criar: false -> true")
	assert.Contains(t, stdout, "usuario:relatorios:editar: false -> true")
	assert.Contains(t, stdout, "2 permissões atualizadas")
}

func TestApplyDryRun(t *testing.T) {
	api := newStub()
	code, stdout, _ := run(api, "apply", "--dry-run", "--set", "admin:relatorios:editar=false")
	require.Equal(t, ExitOK, code)
	assert.Empty(t, api.written)
	assert.Zero(t, api.refreshes)
	assert.Contains(t, stdout, "admin:relatorios:editar: true -> false")
	assert.Contains(t, stdout, "dry run")
}

func TestApplyRejected(t *testing.T) {
	api := newStub()
	api.writeErr = &permissions.CommitRejectedError{Status: 422, Reason: "usuario:equipamentos:criar: recurso inativo"}
	code, stdout, stderr := run(api, "apply", "--set", "usuario:equipamentos:criar=true")
	assert.Equal(t, ExitRejected, code)
	assert.Contains(t, stderr, "rejeitado (422)")
	assert.Contains(t, stderr, "recurso inativo")
	assert.NotContains(t, stdout, "atualizada")
	assert.Zero(t, api.refreshes)
}

func TestApplyCacheRefreshWarning(t *testing.T) {
	api := newStub()
	api.refreshErr = errors.New("redis unavailable")
	code, stdout, stderr := run(api, "apply", "--set", "visitante:equipamentos:criar=true")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stderr, "aviso")
	assert.Contains(t, stderr, "redis unavailable")
	assert.Contains(t, stdout, "1 permissão atualizada")
	require.Len(t, api.written, 1)
}

func TestApplyUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"no sets":        {"apply"},
		"sentinel level": {"apply", "--set", "admin_master:equipamentos:criar=false"},
		"bad value":      {"apply", "--set", "admin:equipamentos:criar=sim"},
		"unknown slug":   {"apply", "--set", "admin:caldeiras:criar=true"},
		"stray argument": {"apply", "--set", "admin:equipamentos:criar=true", "extra"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			api := newStub()
			code, _, stderr := run(api, args...)
			assert.Equal(t, ExitUsage, code)
			assert.NotEmpty(t, stderr)
			assert.Empty(t, api.written)
		})
	}
}

func TestShowTable(t *testing.T) {
	code, stdout, _ := run(newStub(), "show", "--level", "admin")
	require.Equal(t, ExitOK, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[admin]", lines[0])
	assert.Equal(t, []string{"RECURSO", "criar", "editar"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"equipamentos", "-", "-"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"relatorios", "-", "x"}, strings.Fields(lines[3]))
}

func TestShowJSONIncludesSentinel(t *testing.T) {
	code, stdout, _ := run(newStub(), "show", "--json")
	require.Equal(t, ExitOK, code)
	var out map[string]map[string]map[string]bool
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Len(t, out, 4)
	assert.True(t, out["admin_master"]["equipamentos"]["criar"])
	assert.True(t, out["admin"]["relatorios"]["editar"])
	assert.False(t, out["visitante"]["relatorios"]["editar"])
}

func TestAuditTable(t *testing.T) {
	api := newStub()
	api.auditRes = audit.Result{
		Entries: []audit.Entry{{
			ActorID: 7, ActorName: "Ana", Level: "admin", ResourceSlug: "equipamentos", ActionSlug: "criar",
			OldValue: false, NewValue: true, At: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		}},
		Pagination: shared.Pagination{Page: 2, PageSize: 1, Total: 3, Pages: 3},
	}
	code, stdout, _ := run(api, "audit", "--level", "ADMIN", "--resource", "equipamentos", "--page", "2", "--page-size", "1")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "admin", api.auditQuery.Filters.Level)
	assert.Equal(t, "equipamentos", api.auditQuery.Filters.Resource)
	assert.Equal(t, 2, api.auditQuery.Page)
	assert.Equal(t, 1, api.auditQuery.PageSize)
	assert.Contains(t, stdout, "Ana")
	assert.Contains(t, stdout, "página 2 de 3 (3 registros)")
}

func TestAuditJSONAndErrors(t *testing.T) {
	api := newStub()
	api.auditRes = audit.Result{Entries: []audit.Entry{}, Pagination: shared.Pagination{Page: 1, PageSize: 20, Pages: 1}}
	code, stdout, _ := run(api, "audit", "--json")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, `"entries":[]`)

	code, _, _ = run(api, "audit", "--level", "root")
	assert.Equal(t, ExitUsage, code)

	api.auditErr = errors.New("connection refused")
	code, _, stderr := run(api, "audit")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "connection refused")
}

func TestRefresh(t *testing.T) {
	api := newStub()
	code, stdout, _ := run(api, "refresh")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, 1, api.refreshes)
	assert.Contains(t, stdout, "cache de permissões atualizado")

	api.refreshErr = errors.New("boom")
	code, _, _ = run(api, "refresh")
	assert.Equal(t, ExitFailure, code)
}

func TestRunUsage(t *testing.T) {
	code, _, stderr := run(newStub())
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, "usage: permctl")

	code, _, stderr = run(newStub(), "grant")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, `unknown command "grant"`)

	code, _, _ = run(newStub(), "help")
	assert.Equal(t, ExitOK, code)
}
