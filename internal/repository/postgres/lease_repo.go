package postgres

import (
	"context"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/model"
)

// LeaseRepo implements LeaseRepository using PostgreSQL. The chunk_leases table
// carries an exclusion constraint (worker =, range &&): two instances racing to
// claim overlapping windows cannot both succeed, whatever the application saw.
type LeaseRepo struct{ db *DB }

// NewLeaseRepo constructs a lease repository.
func NewLeaseRepo(db *DB) *LeaseRepo { return &LeaseRepo{db: db} }

// ListByWorker returns all live leases for a worker ordered by lower bound.
func (r *LeaseRepo) ListByWorker(ctx context.Context, workerChatID int64) ([]model.ChunkLease, error) {
	const q = `
SELECT worker_chat_id, lower(range), upper(range), instance_id, updated_at
FROM service.chunk_leases WHERE worker_chat_id=$1 ORDER BY lower(range)`
	rows, err := r.db.Pool.Query(ctx, q, workerChatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChunkLease
	for rows.Next() {
		var l model.ChunkLease
		if err := rows.Scan(&l.WorkerChatID, &l.Window.Lo, &l.Window.Hi, &l.InstanceID, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Create claims a window for an instance.
func (r *LeaseRepo) Create(ctx context.Context, l *model.ChunkLease) error {
	const q = `
INSERT INTO service.chunk_leases (worker_chat_id, range, instance_id)
VALUES ($1, int4range($2, $3), $4)`
	_, err := r.db.Pool.Exec(ctx, q, l.WorkerChatID, l.Window.Lo, l.Window.Hi, l.InstanceID)
	if isExclusionViolation(err) || isUniqueViolation(err) {
		return errs.ErrAlreadyClaimed
	}
	return err
}

// Delete releases the lease covering exactly the given window.
func (r *LeaseRepo) Delete(ctx context.Context, workerChatID int64, w model.Window) error {
	const q = `
DELETE FROM service.chunk_leases WHERE worker_chat_id=$1 AND range=int4range($2, $3)`
	_, err := r.db.Pool.Exec(ctx, q, workerChatID, w.Lo, w.Hi)
	return err
}
