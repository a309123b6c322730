package audit

import (
	"time"

	"github.com/plantops/plantops/internal/shared"
)

// Entry is one immutable record of an applied permission change.
type Entry struct {
	ID           int64     `json:"id"`
	BatchID      string    `json:"batch_id"`
	ActorID      int64     `json:"actor_id"`
	ActorName    string    `json:"actor_name"`
	Level        string    `json:"level"`
	ResourceName string    `json:"resource_name"`
	ResourceSlug string    `json:"resource_slug"`
	ActionName   string    `json:"action_name"`
	ActionSlug   string    `json:"action_slug"`
	OldValue     bool      `json:"old_value"`
	NewValue     bool      `json:"new_value"`
	IPAddress    string    `json:"ip_address"`
	At           time.Time `json:"timestamp"`
}

// Filters are conjunctive; zero values mean "any".
type Filters struct {
	Level    string
	Resource string
	Action   string
	ActorID  int64
}

// Result is one page of audit entries.
type Result struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}
