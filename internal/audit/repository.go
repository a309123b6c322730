package audit

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const filterClause = `
WHERE ($1::text IS NULL OR level = $1)
  AND ($2::text IS NULL OR resource_slug = $2)
  AND ($3::text IS NULL OR action_slug = $3)
  AND ($4::bigint IS NULL OR actor_id = $4)`

// PGRepository reads permission_audit_log from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL audit repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CountEntries counts rows matching the filters.
func (r *PGRepository) CountEntries(ctx context.Context, filters Filters) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permission_audit_log`+filterClause, filterArgs(filters)...).Scan(&total)
	return total, err
}

// ListEntries returns one window of matching rows, newest first.
func (r *PGRepository) ListEntries(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	args := append(filterArgs(filters), limit, offset)
	rows, err := r.pool.Query(ctx, `
SELECT id, COALESCE(batch_id::text, ''), actor_id, actor_name, level,
       resource_name, resource_slug, action_name, action_slug,
       old_value, new_value, COALESCE(ip_address, ''), created_at
FROM permission_audit_log`+filterClause+`
ORDER BY created_at DESC, id DESC
LIMIT $5 OFFSET $6`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var at pgtype.Timestamptz
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ActorID, &e.ActorName, &e.Level,
			&e.ResourceName, &e.ResourceSlug, &e.ActionName, &e.ActionSlug,
			&e.OldValue, &e.NewValue, &e.IPAddress, &at); err != nil {
			return nil, err
		}
		if at.Valid {
			e.At = at.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func filterArgs(f Filters) []any {
	return []any{optionalText(f.Level), optionalText(f.Resource), optionalText(f.Action), optionalInt8(f.ActorID)}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func optionalInt8(value int64) pgtype.Int8 {
	if value <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: value, Valid: true}
}

var _ Repository = (*PGRepository)(nil)
