package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/listing-scout/internal/model"
)

// CredentialRepository manages the shared credential pool and its reservations.
type CredentialRepository interface {
	// Get returns a credential by device id.
	Get(ctx context.Context, deviceID uuid.UUID) (*model.Credential, error)

	// ListUnreserved returns credentials without a live reservation, soonest
	// expiry first (never-refreshed ones sort before everything).
	ListUnreserved(ctx context.Context) ([]model.Credential, error)

	// Seed registers a device without touching refresh state.
	Seed(ctx context.Context, deviceID uuid.UUID, deviceToken string) error

	// Upsert replaces tokens and expiry for a device, creating the row on first refresh.
	Upsert(ctx context.Context, c *model.Credential) error

	// Reserve inserts a reservation for the device under the given instance.
	// Returns errs.ErrReserved when another instance already holds one.
	Reserve(ctx context.Context, deviceID uuid.UUID, instanceID int32) error

	// ReleaseReservation removes the device's reservation unconditionally.
	ReleaseReservation(ctx context.Context, deviceID uuid.UUID) error
}
