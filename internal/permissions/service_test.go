package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantops/plantops/internal/audit"
)

func serviceCatalog() ([]Resource, []Action) {
	resources := []Resource{
		{ID: 1, Name: "Equipamentos", Slug: "equipamentos", Active: true, Order: 1},
		{ID: 2, Name: "Relatórios", Slug: "relatorios", Active: true, Order: 2},
		{ID: 3, Name: "Permissões", Slug: ResourcePermissions, Active: true, Order: 3},
		{ID: 4, Name: "Legado", Slug: "legado", Active: false, Order: 4},
	}
	actions := []Action{
		{ID: 1, Name: "Criar", Slug: "criar", Active: true, Order: 1},
		{ID: 2, Name: "Editar", Slug: ActionEdit, Active: true, Order: 2},
		{ID: 3, Name: "Visualizar", Slug: ActionView, Active: true, Order: 3},
	}
	return resources, actions
}

type countingRepo struct {
	*MemoryRepository
	loads int
	fail  error
}

func (c *countingRepo) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	c.loads++
	if c.fail != nil {
		return Snapshot{}, c.fail
	}
	return c.MemoryRepository.LoadSnapshot(ctx)
}

func newTestService(t *testing.T, withRedis bool) (*Service, *countingRepo, *audit.MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	resources, actions := serviceCatalog()
	log := audit.NewMemoryStore()
	grants := Grants{
		Admin:   {ResourcePermissions: {ActionEdit: true, ActionView: true}},
		Usuario: {"equipamentos": {"criar": true}},
	}
	repo := &countingRepo{MemoryRepository: NewMemoryRepository(resources, actions, grants, log)}
	var cache *Cache
	var mr *miniredis.Miniredis
	if withRedis {
		mr = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		cache = NewCache(client, time.Minute, nil)
	}
	svc := NewService(repo, ServiceConfig{
		Cache:   cache,
		Metrics: NewMetrics(prometheus.NewRegistry()),
	})
	svc.newBatchID = func() string { return "batch-1" }
	return svc, repo, log, mr
}

var adminActor = Actor{ID: 7, Name: "Ana", Level: Admin}

func TestServiceSnapshotExpandsMatrix(t *testing.T) {
	svc, _, _, _ := newTestService(t, false)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Resources, 3)
	assert.True(t, snap.Permissions[AdminMaster]["relatorios"]["criar"])
	assert.True(t, snap.Permissions[Usuario]["equipamentos"]["criar"])
	assert.False(t, snap.Permissions[Visitante]["equipamentos"]["criar"])
	_, present := snap.Permissions[Visitante]["relatorios"]["editar"]
	assert.True(t, present)
	_, legacy := snap.Permissions[Admin]["legado"]
	assert.False(t, legacy)
}

func TestServiceSnapshotUsesLocalMemo(t *testing.T) {
	svc, repo, _, _ := newTestService(t, false)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	_, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.loads)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loads)
}

func TestServiceAllowed(t *testing.T) {
	svc, _, _, _ := newTestService(t, false)
	ctx := context.Background()

	ok, err := svc.Allowed(ctx, AdminMaster, "anything", "at-all")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Allowed(ctx, Usuario, "equipamentos", "criar")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Allowed(ctx, Visitante, "equipamentos", "criar")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Allowed(ctx, AccessLevel("root"), "equipamentos", "criar")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceApplyWritesAuditForChangedValues(t *testing.T) {
	svc, _, log, _ := newTestService(t, false)
	ctx := context.Background()

	result, err := svc.Apply(ctx, adminActor, "10.0.0.9", []Change{
		{Key: NewKey(Admin, "equipamentos", "criar"), Allowed: true},
		{Key: NewKey(Usuario, "equipamentos", "criar"), Allowed: true},
		{Key: NewKey(Visitante, "relatorios", "editar"), Allowed: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Applied)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, "batch-1", result.BatchID)

	page, err := audit.NewService(log).Query(ctx, audit.Filters{}, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	entry := page.Entries[0]
	assert.Equal(t, "admin", entry.Level)
	assert.Equal(t, "Equipamentos", entry.ResourceName)
	assert.False(t, entry.OldValue)
	assert.True(t, entry.NewValue)
	assert.Equal(t, int64(7), entry.ActorID)
	assert.Equal(t, "10.0.0.9", entry.IPAddress)
	assert.Equal(t, "batch-1", entry.BatchID)
}

func TestServiceApplyCollapsesRepeatedTriples(t *testing.T) {
	svc, repo, _, _ := newTestService(t, false)
	ctx := context.Background()

	result, err := svc.Apply(ctx, adminActor, "", []Change{
		{Key: NewKey(Admin, "relatorios", "criar"), Allowed: true},
		{Key: NewKey(Admin, "relatorios", "criar"), Allowed: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 0, result.Changed)

	snap, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Permissions[Admin]["relatorios"]["criar"])
}

func TestServiceApplyValidation(t *testing.T) {
	svc, _, log, _ := newTestService(t, false)
	ctx := context.Background()

	cases := []struct {
		name string
		key  Key
		want error
	}{
		{"sentinel", NewKey(AdminMaster, "equipamentos", "criar"), ErrImmutableLevel},
		{"unknown level", NewKey(AccessLevel("root"), "equipamentos", "criar"), ErrUnknownLevel},
		{"unknown resource", NewKey(Admin, "caldeiras", "criar"), ErrUnknownResource},
		{"inactive resource", NewKey(Admin, "legado", "criar"), ErrUnknownResource},
		{"unknown action", NewKey(Admin, "equipamentos", "excluir"), ErrUnknownAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Apply(ctx, adminActor, "", []Change{
				{Key: NewKey(Admin, "equipamentos", "criar"), Allowed: true},
				{Key: tc.key, Allowed: true},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.key, verr.Key)
		})
	}

	total, err := log.CountEntries(ctx, audit.Filters{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestServiceApplyAuthorization(t *testing.T) {
	svc, _, _, _ := newTestService(t, false)
	ctx := context.Background()
	change := []Change{{Key: NewKey(Visitante, "equipamentos", "criar"), Allowed: true}}

	_, err := svc.Apply(ctx, Actor{ID: 9, Level: Usuario}, "", change)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Apply(ctx, Actor{Level: Admin}, "", change)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Apply(ctx, Actor{ID: 1, Level: AdminMaster}, "", change)
	assert.NoError(t, err)
}

func TestServiceApplyEmpty(t *testing.T) {
	svc, _, _, _ := newTestService(t, false)
	_, err := svc.Apply(context.Background(), adminActor, "", nil)
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestServiceApplyStorageError(t *testing.T) {
	svc, repo, _, _ := newTestService(t, false)
	ctx := context.Background()
	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	repo.fail = errors.New("connection reset")
	_, err = svc.Apply(ctx, adminActor, "", []Change{{Key: NewKey(Admin, "equipamentos", "criar"), Allowed: true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestServiceRedisCacheAndRefresh(t *testing.T) {
	svc, repo, _, mr := newTestService(t, true)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("permissions:snapshot:1"))

	// A second process sharing Redis reads without touching storage.
	other := NewService(repo, ServiceConfig{Cache: svc.cache, Metrics: NewMetrics(prometheus.NewRegistry())})
	_, err = other.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.loads)

	_, err = svc.Apply(ctx, adminActor, "", []Change{{Key: NewKey(Visitante, "equipamentos", "criar"), Allowed: true}})
	require.NoError(t, err)

	// Until refreshed the cached snapshot is still served.
	ok, err := other.Allowed(ctx, Visitante, "equipamentos", "criar")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.RefreshCache(ctx))
	ver, err := mr.Get("permissions:version")
	require.NoError(t, err)
	assert.Equal(t, "2", ver)

	ok, err = svc.Allowed(ctx, Visitante, "equipamentos", "criar")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServiceRefreshCacheFailure(t *testing.T) {
	svc, _, _, mr := newTestService(t, true)
	mr.Close()
	err := svc.RefreshCache(context.Background())
	require.Error(t, err)
}
