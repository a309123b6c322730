package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Resource and action slugs guarding the permission screens themselves.
const (
	ResourcePermissions = "permissoes"
	ActionView          = "visualizar"
	ActionEdit          = "editar"
)

// Actor is the authenticated user behind a write.
type Actor struct {
	ID    int64
	Name  string
	Level AccessLevel
}

// ApplyRequest is one validated, de-duplicated batch handed to storage.
type ApplyRequest struct {
	BatchID   string
	Actor     Actor
	IPAddress string
	Changes   []Change
}

// ApplyResult summarises a stored batch.
type ApplyResult struct {
	Applied int    `json:"applied"`
	Changed int    `json:"changed"`
	BatchID string `json:"batch_id"`
}

// Repository is the authoritative permission store.
type Repository interface {
	// LoadSnapshot returns the active catalog and the stored grants of the
	// editable levels.
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	// ApplyChanges writes the batch atomically together with its audit
	// entries and returns how many stored values actually changed.
	ApplyChanges(ctx context.Context, req ApplyRequest) (int, error)
}

// ServiceConfig groups optional collaborators of Service.
type ServiceConfig struct {
	Cache    *Cache
	Logger   *slog.Logger
	Metrics  *Metrics
	LocalTTL time.Duration
}

// Service is the server side of the permission matrix: reads go through a
// process-local memo and the Redis cache, writes go straight to storage.
type Service struct {
	repo     Repository
	cache    *Cache
	logger   *slog.Logger
	metrics  *Metrics
	group    singleflight.Group
	localTTL time.Duration

	mu           sync.RWMutex
	local        *Snapshot
	localExpires time.Time

	now        func() time.Time
	newBatchID func() string
}

// NewService wires the permission service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	localTTL := cfg.LocalTTL
	if localTTL <= 0 {
		localTTL = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		cache:      cfg.Cache,
		logger:     logger.With(slog.String("component", "permissions.service")),
		metrics:    cfg.Metrics,
		localTTL:   localTTL,
		now:        time.Now,
		newBatchID: uuid.NewString,
	}
}

// Snapshot returns the expanded matrix: every active resource x action for
// every level, admin_master all true. The result is shared and must not be
// modified.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	if snap, ok := s.cachedLocal(); ok {
		s.metrics.snapshotLoad("memory")
		return snap, nil
	}
	v, err, _ := s.group.Do("snapshot", func() (interface{}, error) {
		snap, hit, err := s.cache.FetchSnapshot(ctx, s.loadExpanded)
		if err != nil {
			return Snapshot{}, err
		}
		if hit {
			s.metrics.snapshotLoad("redis")
		} else {
			s.metrics.snapshotLoad("database")
		}
		s.storeLocal(snap)
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("permissions: load snapshot: %w", err)
	}
	return v.(Snapshot), nil
}

// Allowed answers a single permission check.
func (s *Service) Allowed(ctx context.Context, level AccessLevel, resource, action string) (bool, error) {
	if level.IsSentinel() {
		return true, nil
	}
	if !level.Valid() {
		return false, nil
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.Permissions[level][resource][action], nil
}

// Apply validates and stores a batch of changes for actor. Every triple must
// name an editable level and an active resource and action; otherwise
// nothing is written and a *ValidationError names the first offender.
// Repeated triples collapse to the last value.
func (s *Service) Apply(ctx context.Context, actor Actor, ip string, changes []Change) (ApplyResult, error) {
	if len(changes) == 0 {
		s.metrics.commit("rejected", 0)
		return ApplyResult{}, ErrNothingToCommit
	}
	if err := s.authorizeEdit(ctx, actor); err != nil {
		s.metrics.commit("rejected", 0)
		return ApplyResult{}, err
	}

	raw, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		s.metrics.commit("error", 0)
		return ApplyResult{}, fmt.Errorf("permissions: load catalog: %w", err)
	}
	catalog := NewCatalog(raw.Resources, raw.Actions)
	ledger := NewLedger()
	for _, c := range changes {
		if err := validateChange(catalog, c.Key); err != nil {
			s.metrics.commit("rejected", 0)
			return ApplyResult{}, &ValidationError{Key: c.Key, Err: err}
		}
		ledger.Stage(c.Key, c.Allowed)
	}

	req := ApplyRequest{
		BatchID:   s.newBatchID(),
		Actor:     actor,
		IPAddress: ip,
		Changes:   ledger.Changes(),
	}
	changed, err := s.repo.ApplyChanges(ctx, req)
	if err != nil {
		s.metrics.commit("error", 0)
		s.logger.Error("apply permission batch", slog.String("batch_id", req.BatchID), slog.Any("error", err))
		return ApplyResult{}, fmt.Errorf("permissions: apply batch: %w", err)
	}
	s.metrics.commit("success", len(req.Changes))
	s.logger.Info("permission batch applied",
		slog.String("batch_id", req.BatchID),
		slog.Int64("actor_id", actor.ID),
		slog.Int("applied", len(req.Changes)),
		slog.Int("changed", changed))
	return ApplyResult{Applied: len(req.Changes), Changed: changed, BatchID: req.BatchID}, nil
}

// RefreshCache bumps the shared cache version and drops the local memo.
func (s *Service) RefreshCache(ctx context.Context) error {
	s.dropLocal()
	ver, err := s.cache.Bump(ctx)
	s.metrics.cacheRefresh(err)
	if err != nil {
		s.logger.Warn("permission cache refresh", slog.Any("error", err))
		return fmt.Errorf("permissions: refresh cache: %w", err)
	}
	s.logger.Info("permission cache refreshed", slog.Int64("version", ver))
	return nil
}

// Warm reloads the snapshot into the cache, bypassing the local memo.
func (s *Service) Warm(ctx context.Context) (Snapshot, error) {
	s.dropLocal()
	return s.Snapshot(ctx)
}

// Listen drops the local memo whenever another process bumps the cache.
func (s *Service) Listen(ctx context.Context) error {
	return s.cache.ListenForInvalidation(ctx, func(version int64) {
		s.logger.Debug("permission cache bumped", slog.Int64("version", version))
		s.dropLocal()
	})
}

func (s *Service) authorizeEdit(ctx context.Context, actor Actor) error {
	if actor.ID <= 0 {
		return ErrForbidden
	}
	allowed, err := s.Allowed(ctx, actor.Level, ResourcePermissions, ActionEdit)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

func validateChange(catalog Catalog, key Key) error {
	if key.Level.IsSentinel() {
		return ErrImmutableLevel
	}
	if !key.Level.Valid() {
		return ErrUnknownLevel
	}
	if _, ok := catalog.Resource(key.Resource); !ok {
		return ErrUnknownResource
	}
	if _, ok := catalog.Action(key.Action); !ok {
		return ErrUnknownAction
	}
	return nil
}

func (s *Service) loadExpanded(ctx context.Context) (Snapshot, error) {
	if s.repo == nil {
		return Snapshot{}, errors.New("permissions: repository not configured")
	}
	raw, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	m := NewMatrix()
	m.LoadSnapshot(raw)
	return m.Snapshot(), nil
}

func (s *Service) cachedLocal() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.local == nil || s.now().After(s.localExpires) {
		return Snapshot{}, false
	}
	return *s.local, true
}

func (s *Service) storeLocal(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = &snap
	s.localExpires = s.now().Add(s.localTTL)
}

func (s *Service) dropLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = nil
}
