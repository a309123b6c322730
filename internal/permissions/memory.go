package permissions

import (
	"context"
	"sync"

	"github.com/plantops/plantops/internal/audit"
)

// AuditAppender receives the audit entries of an applied batch.
type AuditAppender interface {
	Append(ctx context.Context, entries []audit.Entry) error
}

// MemoryRepository is an in-process Repository used by tests and local runs.
// A batch is all-or-nothing: audit entries are appended before grants change.
type MemoryRepository struct {
	mu        sync.Mutex
	resources []Resource
	actions   []Action
	grants    map[Key]bool
	audit     AuditAppender
}

// NewMemoryRepository seeds the store. Grants for admin_master are ignored.
func NewMemoryRepository(resources []Resource, actions []Action, grants Grants, log AuditAppender) *MemoryRepository {
	r := &MemoryRepository{
		resources: append([]Resource(nil), resources...),
		actions:   append([]Action(nil), actions...),
		grants:    make(map[Key]bool),
		audit:     log,
	}
	for level, byResource := range grants {
		if level.IsSentinel() || !level.Valid() {
			continue
		}
		for resource, byAction := range byResource {
			for action, allowed := range byAction {
				r.grants[NewKey(level, resource, action)] = allowed
			}
		}
	}
	return r
}

// LoadSnapshot returns the active catalog and stored grants.
func (r *MemoryRepository) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	catalog := NewCatalog(r.resources, r.actions)
	grants := make(Grants)
	for key, allowed := range r.grants {
		if _, ok := catalog.Resource(key.Resource); !ok {
			continue
		}
		if _, ok := catalog.Action(key.Action); !ok {
			continue
		}
		if grants[key.Level] == nil {
			grants[key.Level] = make(map[string]map[string]bool)
		}
		if grants[key.Level][key.Resource] == nil {
			grants[key.Level][key.Resource] = make(map[string]bool)
		}
		grants[key.Level][key.Resource][key.Action] = allowed
	}
	return Snapshot{Resources: catalog.Resources(), Actions: catalog.Actions(), Permissions: grants}, nil
}

// ApplyChanges mirrors PGRepository.ApplyChanges.
func (r *MemoryRepository) ApplyChanges(ctx context.Context, req ApplyRequest) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	catalog := NewCatalog(r.resources, r.actions)
	entries := make([]audit.Entry, 0, len(req.Changes))
	for _, c := range req.Changes {
		if err := validateChange(catalog, c.Key); err != nil {
			return 0, &ValidationError{Key: c.Key, Err: err}
		}
		old := r.grants[c.Key]
		if old == c.Allowed {
			continue
		}
		res, _ := catalog.Resource(c.Key.Resource)
		act, _ := catalog.Action(c.Key.Action)
		entries = append(entries, audit.Entry{
			BatchID:      req.BatchID,
			ActorID:      req.Actor.ID,
			ActorName:    req.Actor.Name,
			Level:        string(c.Key.Level),
			ResourceName: res.Name,
			ResourceSlug: res.Slug,
			ActionName:   act.Name,
			ActionSlug:   act.Slug,
			OldValue:     old,
			NewValue:     c.Allowed,
			IPAddress:    req.IPAddress,
		})
	}
	if r.audit != nil && len(entries) > 0 {
		if err := r.audit.Append(ctx, entries); err != nil {
			return 0, err
		}
	}
	for _, c := range req.Changes {
		r.grants[c.Key] = c.Allowed
	}
	return len(entries), nil
}

var _ Repository = (*MemoryRepository)(nil)
