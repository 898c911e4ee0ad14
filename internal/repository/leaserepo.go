package repository

import (
	"context"

	"github.com/and161185/listing-scout/internal/model"
)

// LeaseRepository manages chunk leases. The store enforces that no two live
// leases for the same worker overlap; Create surfaces a lost race as
// errs.ErrAlreadyClaimed.
type LeaseRepository interface {
	// ListByWorker returns all live leases for a worker ordered by lower bound.
	ListByWorker(ctx context.Context, workerChatID int64) ([]model.ChunkLease, error)

	// Create claims a window for an instance.
	Create(ctx context.Context, l *model.ChunkLease) error

	// Delete releases the lease covering exactly the given window.
	Delete(ctx context.Context, workerChatID int64, w model.Window) error
}
