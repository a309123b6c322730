package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process audit log with the same ordering and filter
// semantics as PGRepository.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Append stores entries, assigning ids and missing timestamps.
func (m *MemoryStore) Append(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Level == "" || e.ResourceSlug == "" || e.ActionSlug == "" {
			return errors.New("audit: entry requires level/resource/action")
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.nextID++
		e.ID = m.nextID
		if e.At.IsZero() {
			e.At = m.now().UTC()
		}
		m.entries = append(m.entries, e)
	}
	return nil
}

// CountEntries counts entries matching every filter.
func (m *MemoryStore) CountEntries(ctx context.Context, filters Filters) (int, error) {
	return len(m.matching(filters)), nil
}

// ListEntries returns one window of matching entries, newest first.
func (m *MemoryStore) ListEntries(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	rows := m.matching(filters)
	if offset >= len(rows) {
		return []Entry{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (m *MemoryStore) matching(f Filters) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Resource != "" && e.ResourceSlug != f.Resource {
			continue
		}
		if f.Action != "" && e.ActionSlug != f.Action {
			continue
		}
		if f.ActorID > 0 && e.ActorID != f.ActorID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID > out[j].ID
		}
		return out[i].At.After(out[j].At)
	})
	return out
}

var _ Repository = (*MemoryStore)(nil)
