package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Gateway is the remote surface an EditSession talks to.
type Gateway interface {
	// FetchSnapshot returns the catalog and the authoritative grants.
	FetchSnapshot(ctx context.Context) (Snapshot, error)
	// WriteBatch submits every change in one request and returns the applied
	// count. A refusal is reported as *CommitRejectedError.
	WriteBatch(ctx context.Context, changes []Change) (int, error)
	// RefreshCache asks the server to invalidate its permission cache.
	RefreshCache(ctx context.Context) error
}

// State is the commit protocol state of an EditSession.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// CommitResult reports a successful batched write.
type CommitResult struct {
	Applied int
	Message string
}

// EditSession owns one matrix and its ledger for the lifetime of an editing
// screen. Staging echoes into the matrix immediately so readers see intent
// before the network round trip; Discard reverts every echo.
//
// While a commit is outstanding the ledger is frozen: Stage, Discard, Load
// and a second Commit fail with ErrCommitInProgress. While a snapshot load is
// outstanding the same calls fail with ErrLoadInProgress.
type EditSession struct {
	mu            sync.Mutex
	gateway       Gateway
	logger        *slog.Logger
	matrix        *Matrix
	ledger        *Ledger
	authoritative Snapshot
	state         State
}

// NewEditSession builds an unloaded session. Call Load before editing.
func NewEditSession(gateway Gateway, logger *slog.Logger) *EditSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &EditSession{
		gateway: gateway,
		logger:  logger.With(slog.String("component", "permissions.session")),
		matrix:  NewMatrix(),
		ledger:  NewLedger(),
	}
}

// Load fetches the authoritative snapshot and replaces the matrix. Pending
// changes are dropped. On failure the session stays blocked until a later
// Load succeeds.
func (s *EditSession) Load(ctx context.Context) error {
	s.mu.Lock()
	if err := s.busy(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StateLoading
	s.mu.Unlock()

	snapshot, err := s.gateway.FetchSnapshot(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.ledger.Clear()
	if err != nil {
		s.matrix = NewMatrix()
		s.authoritative = Snapshot{}
		s.logger.Error("load permission snapshot", slog.Any("error", err))
		return &SnapshotLoadError{Err: err}
	}
	s.authoritative = snapshot
	s.matrix = NewMatrix()
	s.matrix.LoadSnapshot(snapshot)
	s.logger.Debug("permission snapshot loaded",
		slog.Int("resources", len(s.matrix.catalog.resources)),
		slog.Int("actions", len(s.matrix.catalog.actions)))
	return nil
}

// Loaded reports whether the matrix reflects a successful load.
func (s *EditSession) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matrix.Loaded()
}

// Get reads the current (optimistic) value of a triple.
func (s *EditSession) Get(level AccessLevel, resource, action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matrix.Get(level, resource, action)
}

// Catalog returns the active resources and actions of the loaded snapshot.
func (s *EditSession) Catalog() Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matrix.Catalog()
}

// Stage records the intent for a triple and echoes it into the matrix.
func (s *EditSession) Stage(level AccessLevel, resource, action string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busy(); err != nil {
		return err
	}
	if !s.matrix.Loaded() {
		return ErrNotLoaded
	}
	if level.IsSentinel() {
		return ErrImmutableLevel
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	if _, ok := s.matrix.catalog.Resource(resource); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
	if _, ok := s.matrix.catalog.Action(action); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err := s.matrix.Set(level, resource, action, allowed); err != nil {
		return err
	}
	s.ledger.Stage(NewKey(level, resource, action), allowed)
	s.logger.Debug("permission staged",
		slog.String("key", NewKey(level, resource, action).String()),
		slog.Bool("allowed", allowed),
		slog.Int("pending", s.ledger.Size()))
	return nil
}

// Toggle stages the inverse of the current value and returns it.
func (s *EditSession) Toggle(level AccessLevel, resource, action string) (bool, error) {
	next := !s.Get(level, resource, action)
	if err := s.Stage(level, resource, action, next); err != nil {
		return false, err
	}
	return next, nil
}

// Size is the number of distinct staged triples.
func (s *EditSession) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Size()
}

// Pending returns the staged value of a triple, if any.
func (s *EditSession) Pending(level AccessLevel, resource, action string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Get(NewKey(level, resource, action))
}

// Changes returns the staged changes in first-staging order.
func (s *EditSession) Changes() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Changes()
}

// Diff pairs every staged change with its authoritative value.
func (s *EditSession) Diff() []DiffEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := NewMatrix()
	base.LoadSnapshot(s.authoritative)
	changes := s.ledger.Changes()
	out := make([]DiffEntry, 0, len(changes))
	for _, c := range changes {
		out = append(out, DiffEntry{
			Key: c.Key,
			Old: base.Get(c.Key.Level, c.Key.Resource, c.Key.Action),
			New: c.Allowed,
		})
	}
	return out
}

// State returns the commit protocol state.
func (s *EditSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Discard empties the ledger and reloads the matrix from the last
// authoritative snapshot.
func (s *EditSession) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busy(); err != nil {
		return err
	}
	if !s.matrix.Loaded() {
		return ErrNotLoaded
	}
	dropped := s.ledger.Size()
	s.ledger.Clear()
	s.matrix = NewMatrix()
	s.matrix.LoadSnapshot(s.authoritative)
	s.logger.Debug("pending permission changes discarded", slog.Int("dropped", dropped))
	return nil
}

// Commit sends the whole ledger as one batch, then asks the server to refresh
// its cache. A rejected write keeps the ledger and the optimistic matrix
// untouched. A failed refresh is returned as *CacheRefreshFailedError next to a
// valid result; the write is not rolled back.
func (s *EditSession) Commit(ctx context.Context) (CommitResult, error) {
	s.mu.Lock()
	if err := s.busy(); err != nil {
		s.mu.Unlock()
		return CommitResult{}, err
	}
	if !s.matrix.Loaded() {
		s.mu.Unlock()
		return CommitResult{}, ErrNotLoaded
	}
	if s.ledger.Size() == 0 {
		s.mu.Unlock()
		return CommitResult{}, ErrNothingToCommit
	}
	s.state = StateCommitting
	changes := s.ledger.Changes()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	s.logger.Info("committing permission changes", slog.Int("changes", len(changes)))
	applied, err := s.gateway.WriteBatch(ctx, changes)
	if err != nil {
		var rejected *CommitRejectedError
		if errors.As(err, &rejected) {
			s.logger.Warn("permission commit rejected", slog.String("reason", rejected.Reason))
			return CommitResult{}, rejected
		}
		s.logger.Error("permission commit failed", slog.Any("error", err))
		return CommitResult{}, fmt.Errorf("permissions: write batch: %w", err)
	}

	s.mu.Lock()
	s.ledger.Clear()
	s.authoritative = s.matrix.Snapshot()
	s.mu.Unlock()

	result := CommitResult{Applied: applied, Message: CommitSummary(applied)}
	if err := s.gateway.RefreshCache(ctx); err != nil {
		s.logger.Warn("permission cache refresh failed", slog.Int("applied", applied), slog.Any("error", err))
		return result, &CacheRefreshFailedError{Applied: applied, Err: err}
	}
	s.logger.Info("permission changes committed", slog.Int("applied", applied))
	return result, nil
}

// busy reports the in-flight operation, if any. Callers hold mu.
func (s *EditSession) busy() error {
	switch s.state {
	case StateLoading:
		return ErrLoadInProgress
	case StateCommitting:
		return ErrCommitInProgress
	}
	return nil
}
