package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsWarmup rebuilds the cached permission snapshot.
	TaskPermissionsWarmup = "permissions:warmup"
)

// PermissionsWarmupPayload describes why a warmup was requested.
type PermissionsWarmupPayload struct {
	Reason      string `json:"reason"`
	RequestedBy int64  `json:"requested_by,omitempty"`
	// Bump invalidates the shared cache before rebuilding it.
	Bump bool `json:"bump,omitempty"`
}

// NewPermissionsWarmupTask constructs an Asynq task.
func NewPermissionsWarmupTask(payload PermissionsWarmupPayload) (*asynq.Task, error) {
	payload.Reason = strings.TrimSpace(payload.Reason)
	if payload.Reason == "" {
		payload.Reason = "schedule"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsWarmup, data, asynq.Queue(QueueDefault)), nil
}
