package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/model"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

// Get returns a credential by device id.
func (r *CredentialRepo) Get(ctx context.Context, deviceID uuid.UUID) (*model.Credential, error) {
	const q = `
SELECT device_id, device_token, COALESCE(access_token,''), COALESCE(refresh_token,''), expires_at
FROM service.credentials WHERE device_id=$1`
	var c model.Credential
	row := r.db.Pool.QueryRow(ctx, q, deviceID)
	if err := row.Scan(&c.DeviceID, &c.DeviceToken, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListUnreserved returns credentials without a live reservation, soonest expiry
// first. Never-refreshed credentials (null expiry) sort before everything.
func (r *CredentialRepo) ListUnreserved(ctx context.Context) ([]model.Credential, error) {
	const q = `
SELECT c.device_id, c.device_token, COALESCE(c.access_token,''), COALESCE(c.refresh_token,''), c.expires_at
FROM service.credentials c
WHERE NOT EXISTS (
  SELECT 1 FROM service.credential_reservations res WHERE res.device_id = c.device_id
)
ORDER BY c.expires_at ASC NULLS FIRST`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		var c model.Credential
		if err := rows.Scan(&c.DeviceID, &c.DeviceToken, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Seed registers a device without touching refresh state. Used by startup
// configuration; tokens of an already known device survive restarts.
func (r *CredentialRepo) Seed(ctx context.Context, deviceID uuid.UUID, deviceToken string) error {
	const q = `
INSERT INTO service.credentials (device_id, device_token)
VALUES ($1, $2)
ON CONFLICT (device_id) DO UPDATE SET device_token=EXCLUDED.device_token, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, deviceID, deviceToken)
	return err
}

// Upsert replaces tokens and expiry for a device after a successful refresh.
func (r *CredentialRepo) Upsert(ctx context.Context, c *model.Credential) error {
	const q = `
INSERT INTO service.credentials (device_id, device_token, access_token, refresh_token, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (device_id)
DO UPDATE SET device_token=EXCLUDED.device_token, access_token=EXCLUDED.access_token,
              refresh_token=EXCLUDED.refresh_token, expires_at=EXCLUDED.expires_at, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, c.DeviceID, c.DeviceToken, c.AccessToken, c.RefreshToken, c.ExpiresAt)
	return err
}

// Reserve inserts a reservation for the device under the given instance.
// The insert is conditional so the mutual exclusion is strict: when a row
// already exists the caller lost the race and gets errs.ErrReserved.
func (r *CredentialRepo) Reserve(ctx context.Context, deviceID uuid.UUID, instanceID int32) error {
	const q = `
INSERT INTO service.credential_reservations (device_id, instance_id)
VALUES ($1, $2)
ON CONFLICT (device_id) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, q, deviceID, instanceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrReserved
	}
	return nil
}

// ReleaseReservation removes the device's reservation unconditionally.
func (r *CredentialRepo) ReleaseReservation(ctx context.Context, deviceID uuid.UUID) error {
	const q = `DELETE FROM service.credential_reservations WHERE device_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, deviceID)
	return err
}
