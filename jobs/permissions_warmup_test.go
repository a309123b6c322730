package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/plantops/plantops/internal/jobs"
	"github.com/plantops/plantops/internal/permissions"
)

type stubWarmer struct {
	snap       permissions.Snapshot
	warmErr    error
	refreshErr error
	warms      int
	refreshes  int
}

func (s *stubWarmer) Warm(ctx context.Context) (permissions.Snapshot, error) {
	s.warms++
	return s.snap, s.warmErr
}

func (s *stubWarmer) RefreshCache(ctx context.Context) error {
	s.refreshes++
	return s.refreshErr
}

func warmupTask(t *testing.T, payload PermissionsWarmupPayload) *asynq.Task {
	t.Helper()
	task, err := NewPermissionsWarmupTask(payload)
	require.NoError(t, err)
	return task
}

func TestNewPermissionsWarmupTaskDefaultsReason(t *testing.T) {
	task := warmupTask(t, PermissionsWarmupPayload{Reason: "  "})
	assert.Equal(t, TaskPermissionsWarmup, task.Type())
	var payload PermissionsWarmupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "schedule", payload.Reason)
}

func TestPermissionsWarmupJobWarmsSnapshot(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	warmer := &stubWarmer{snap: permissions.Snapshot{
		Permissions: permissions.Grants{
			permissions.AdminMaster: {"equipamentos": {"criar": true, "editar": true}},
			permissions.Visitante:   {"equipamentos": {"criar": false, "editar": true}},
		},
	}}
	job := NewPermissionsWarmupJob(warmer, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), warmupTask(t, PermissionsWarmupPayload{})))
	assert.Equal(t, 1, warmer.warms)
	assert.Zero(t, warmer.refreshes)

	count, err := testutil.GatherAndCount(registry, "plantops_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	families, err := registry.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "plantops_permissions_snapshot_granted_cells" {
			found = true
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestPermissionsWarmupJobBumpsFirst(t *testing.T) {
	warmer := &stubWarmer{}
	job := NewPermissionsWarmupJob(warmer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), warmupTask(t, PermissionsWarmupPayload{Reason: "manual", Bump: true})))
	assert.Equal(t, 1, warmer.refreshes)
	assert.Equal(t, 1, warmer.warms)

	warmer.refreshErr = errors.New("redis down")
	err := job.Handle(context.Background(), warmupTask(t, PermissionsWarmupPayload{Bump: true}))
	assert.Error(t, err)
	assert.Equal(t, 1, warmer.warms)
}

func TestPermissionsWarmupJobErrors(t *testing.T) {
	job := NewPermissionsWarmupJob(&stubWarmer{warmErr: errors.New("db down")}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	assert.EqualError(t, job.Handle(context.Background(), warmupTask(t, PermissionsWarmupPayload{})), "db down")

	bad := asynq.NewTask(TaskPermissionsWarmup, []byte("{"))
	assert.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	var nilJob *PermissionsWarmupJob
	assert.Error(t, nilJob.Handle(context.Background(), bad))
}
