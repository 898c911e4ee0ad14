// Package repository declares store interfaces implemented by the postgres package.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/listing-scout/internal/model"
)

// WorkerRepository provides access to configured delivery workers.
type WorkerRepository interface {
	// Get returns a worker by chat id.
	Get(ctx context.Context, chatID int64) (*model.Worker, error)

	// ListActiveChatIDs returns chat ids of active workers ordered by creation time.
	ListActiveChatIDs(ctx context.Context) ([]int64, error)

	// Upsert creates or updates a worker row, keeping an existing credential binding.
	Upsert(ctx context.Context, w *model.Worker) error

	// BindCredential points the worker at the given device credential.
	BindCredential(ctx context.Context, chatID int64, deviceID uuid.UUID) error
}

// InstanceRepository registers crawler processes.
type InstanceRepository interface {
	// Register upserts the instance row for this process.
	Register(ctx context.Context, id int32) error
}
