package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// BatchSender is satisfied by pgx.Tx and *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertEntry = `
INSERT INTO permission_audit_log (
  batch_id, actor_id, actor_name, level, resource_name, resource_slug,
  action_name, action_slug, old_value, new_value, ip_address, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), COALESCE($12, NOW()))`

// Append writes entries in one round trip. It is meant to run inside the
// transaction that applied the permission changes.
func Append(ctx context.Context, db BatchSender, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if db == nil {
		return errors.New("audit: writer not configured")
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.Level == "" || e.ResourceSlug == "" || e.ActionSlug == "" {
			return errors.New("audit: entry requires level/resource/action")
		}
		var at *time.Time
		if !e.At.IsZero() {
			ts := e.At
			at = &ts
		}
		var batchID any
		if e.BatchID != "" {
			batchID = e.BatchID
		}
		batch.Queue(insertEntry, batchID, e.ActorID, e.ActorName, e.Level,
			e.ResourceName, e.ResourceSlug, e.ActionName, e.ActionSlug,
			e.OldValue, e.NewValue, e.IPAddress, at)
	}
	results := db.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}
