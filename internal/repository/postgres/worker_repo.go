package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/model"
)

// WorkerRepo implements WorkerRepository using PostgreSQL.
type WorkerRepo struct{ db *DB }

// NewWorkerRepo constructs a worker repository.
func NewWorkerRepo(db *DB) *WorkerRepo { return &WorkerRepo{db: db} }

// Get returns a worker by chat id.
func (r *WorkerRepo) Get(ctx context.Context, chatID int64) (*model.Worker, error) {
	const q = `
SELECT chat_id, device_id, chunk_size, query, active, created_at
FROM service.workers WHERE chat_id=$1`
	var (
		w      model.Worker
		device uuid.NullUUID
		raw    []byte
	)
	row := r.db.Pool.QueryRow(ctx, q, chatID)
	if err := row.Scan(&w.ChatID, &device, &w.ChunkSize, &raw, &w.Active, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if device.Valid {
		w.DeviceID = &device.UUID
	}
	if err := json.Unmarshal(raw, &w.Query); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListActiveChatIDs returns chat ids of active workers ordered by creation time.
func (r *WorkerRepo) ListActiveChatIDs(ctx context.Context) ([]int64, error) {
	const q = `SELECT chat_id FROM service.workers WHERE active ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Upsert creates or updates a worker row. The credential binding of an
// existing row is preserved.
func (r *WorkerRepo) Upsert(ctx context.Context, w *model.Worker) error {
	raw, err := json.Marshal(w.Query)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO service.workers (chat_id, chunk_size, query, active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (chat_id)
DO UPDATE SET chunk_size=EXCLUDED.chunk_size, query=EXCLUDED.query, active=EXCLUDED.active, updated_at=now()`
	_, err = r.db.Pool.Exec(ctx, q, w.ChatID, w.ChunkSize, raw, w.Active)
	return err
}

// BindCredential points the worker at the given device credential.
func (r *WorkerRepo) BindCredential(ctx context.Context, chatID int64, deviceID uuid.UUID) error {
	const q = `UPDATE service.workers SET device_id=$2, updated_at=now() WHERE chat_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, chatID, deviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// InstanceRepo implements InstanceRepository using PostgreSQL.
type InstanceRepo struct{ db *DB }

// NewInstanceRepo constructs an instance repository.
func NewInstanceRepo(db *DB) *InstanceRepo { return &InstanceRepo{db: db} }

// Register upserts the instance row for this process. Rows are never deleted;
// they stay for lease attribution after the process exits.
func (r *InstanceRepo) Register(ctx context.Context, id int32) error {
	const q = `
INSERT INTO service.instances (id) VALUES ($1)
ON CONFLICT (id) DO UPDATE SET updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}
