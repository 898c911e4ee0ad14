package repository

import (
	"context"

	"github.com/and161185/listing-scout/internal/model"
)

// DeliveryRepository records which listings were already sent to which worker.
type DeliveryRepository interface {
	// Delivered returns the subset of ids already delivered to the worker.
	Delivered(ctx context.Context, workerChatID int64, listingIDs []int64) (map[int64]struct{}, error)

	// Create records a successful delivery. Returns errs.ErrAlreadyExists when a
	// concurrent attempt recorded it first.
	Create(ctx context.Context, d *model.Delivery) error
}
