package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/plantops/plantops/internal/jobs"
	"github.com/plantops/plantops/internal/permissions"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SnapshotWarmer rebuilds the cached permission snapshot.
type SnapshotWarmer interface {
	Warm(ctx context.Context) (permissions.Snapshot, error)
	RefreshCache(ctx context.Context) error
}

// PermissionsWarmupJob keeps the shared permission snapshot hot so request
// paths rarely fall through to Postgres.
type PermissionsWarmupJob struct {
	Permissions SnapshotWarmer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Timeout     time.Duration
	clock       func() time.Time
}

// NewPermissionsWarmupJob wires dependencies for the warmup handler.
func NewPermissionsWarmupJob(warmer SnapshotWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsWarmupJob {
	return &PermissionsWarmupJob{
		Permissions: warmer,
		Logger:      logger,
		Metrics:     metrics,
		Timeout:     30 * time.Second,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes permission warmup tasks.
func (j *PermissionsWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Permissions == nil {
		return errors.New("permissions warmup: handler not configured")
	}
	var payload PermissionsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPermissionsWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	if payload.RequestedBy > 0 {
		logger = logger.With(slog.Int64("requested_by", payload.RequestedBy))
	}
	start := j.now()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	if payload.Bump {
		if err := j.Permissions.RefreshCache(ctx); err != nil {
			logger.Error("bump permission cache", slog.Any("error", err))
			return err
		}
	}
	snap, err := j.Permissions.Warm(ctx)
	if err != nil {
		logger.Error("warm permission snapshot", slog.Any("error", err))
		return err
	}

	granted := countGranted(snap)
	j.metrics().ObserveSnapshot(granted)
	logger.Info("permission snapshot warmed",
		slog.Int("resources", len(snap.Resources)),
		slog.Int("actions", len(snap.Actions)),
		slog.Int("granted", granted),
		slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func countGranted(snap permissions.Snapshot) int {
	total := 0
	for level, resources := range snap.Permissions {
		if level.IsSentinel() {
			continue
		}
		for _, actions := range resources {
			for _, allowed := range actions {
				if allowed {
					total++
				}
			}
		}
	}
	return total
}

func (j *PermissionsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsWarmup))
}

func (j *PermissionsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermissionsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
