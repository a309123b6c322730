package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plantops/plantops/internal/audit"
	"github.com/plantops/plantops/internal/platform/db"
)

const (
	listResources = `
SELECT id, name, COALESCE(description, ''), slug, active, display_order
FROM resources
WHERE active
ORDER BY display_order, slug`

	listActions = `
SELECT id, name, COALESCE(description, ''), slug, active, display_order
FROM actions
WHERE active
ORDER BY display_order, slug`

	listGrants = `
SELECT p.level, r.slug, a.slug, p.allowed
FROM permissions p
JOIN resources r ON r.id = p.resource_id
JOIN actions a ON a.id = p.action_id
WHERE r.active AND a.active`

	lockGrant = `
SELECT allowed FROM permissions
WHERE level = $1 AND resource_id = $2 AND action_id = $3
FOR UPDATE`

	upsertGrant = `
INSERT INTO permissions (level, resource_id, action_id, allowed, updated_by, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), NOW())
ON CONFLICT (level, resource_id, action_id)
DO UPDATE SET allowed = EXCLUDED.allowed, updated_by = EXCLUDED.updated_by, updated_at = NOW()`
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRepository stores the catalog and grants in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL permission repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LoadSnapshot reads the active catalog and every stored grant.
func (r *PGRepository) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	resources, err := loadResources(ctx, r.pool)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load resources: %w", err)
	}
	actions, err := loadActions(ctx, r.pool)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load actions: %w", err)
	}
	rows, err := r.pool.Query(ctx, listGrants)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load grants: %w", err)
	}
	defer rows.Close()
	grants := make(Grants)
	for rows.Next() {
		var level, resource, action string
		var allowed bool
		if err := rows.Scan(&level, &resource, &action, &allowed); err != nil {
			return Snapshot{}, err
		}
		lvl := AccessLevel(level)
		if grants[lvl] == nil {
			grants[lvl] = make(map[string]map[string]bool)
		}
		if grants[lvl][resource] == nil {
			grants[lvl][resource] = make(map[string]bool)
		}
		grants[lvl][resource][action] = allowed
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Resources: resources, Actions: actions, Permissions: grants}, nil
}

// ApplyChanges upserts every change under row locks and appends one audit
// entry per value that actually changed, all in one transaction.
func (r *PGRepository) ApplyChanges(ctx context.Context, req ApplyRequest) (int, error) {
	var entries []audit.Entry
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		entries = entries[:0]
		resources, err := loadResources(ctx, tx)
		if err != nil {
			return err
		}
		actions, err := loadActions(ctx, tx)
		if err != nil {
			return err
		}
		catalog := NewCatalog(resources, actions)

		for _, c := range req.Changes {
			if err := validateChange(catalog, c.Key); err != nil {
				return &ValidationError{Key: c.Key, Err: err}
			}
			res, _ := catalog.Resource(c.Key.Resource)
			act, _ := catalog.Action(c.Key.Action)

			var old bool
			err := tx.QueryRow(ctx, lockGrant, string(c.Key.Level), res.ID, act.ID).Scan(&old)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if _, err := tx.Exec(ctx, upsertGrant, string(c.Key.Level), res.ID, act.ID, c.Allowed, req.Actor.ID); err != nil {
				return mapWriteError(c.Key, err)
			}
			if old == c.Allowed {
				continue
			}
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
		return audit.Append(ctx, tx, entries)
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func loadResources(ctx context.Context, q querier) ([]Resource, error) {
	rows, err := q.Query(ctx, listResources)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Resource, 0)
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Description, &res.Slug, &res.Active, &res.Order); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func loadActions(ctx context.Context, q querier) ([]Action, error) {
	rows, err := q.Query(ctx, listActions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Action, 0)
	for rows.Next() {
		var act Action
		if err := rows.Scan(&act.ID, &act.Name, &act.Description, &act.Slug, &act.Active, &act.Order); err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, rows.Err()
}

func mapWriteError(key Key, err error) error {
	switch {
	case db.IsCheckViolation(err):
		return &ValidationError{Key: key, Err: ErrUnknownLevel}
	case db.IsForeignKeyViolation(err):
		return &ValidationError{Key: key, Err: ErrUnknownResource}
	default:
		return err
	}
}

var _ Repository = (*PGRepository)(nil)
