package postgres

import (
	"context"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/model"
)

// DeliveryRepo implements DeliveryRepository using PostgreSQL.
type DeliveryRepo struct{ db *DB }

// NewDeliveryRepo constructs a delivery repository.
func NewDeliveryRepo(db *DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

// Delivered returns the subset of ids already delivered to the worker.
func (r *DeliveryRepo) Delivered(ctx context.Context, workerChatID int64, listingIDs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}
	const q = `
SELECT listing_id FROM service.deliveries WHERE worker_chat_id=$1 AND listing_id = ANY($2)`
	rows, err := r.db.Pool.Query(ctx, q, workerChatID, listingIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Create records a successful delivery.
func (r *DeliveryRepo) Create(ctx context.Context, d *model.Delivery) error {
	const q = `
INSERT INTO service.deliveries (worker_chat_id, listing_id, message_id)
VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, q, d.WorkerChatID, d.ListingID, d.MessageID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}
