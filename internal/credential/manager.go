// Package credential hands workers a live credential from the shared pool,
// refreshing and rotating without two instances refreshing the same device.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/fetch"
	"github.com/and161185/listing-scout/internal/model"
	"github.com/and161185/listing-scout/internal/repository"
)

// Refresher matches the fetch client's credential refresh call.
type Refresher interface {
	Credential(ctx context.Context, deviceID uuid.UUID, deviceToken string) (*fetch.TokenResponse, error)
}

// Manager selects, reserves, refreshes and releases pool credentials.
type Manager struct {
	creds      repository.CredentialRepository
	workers    repository.WorkerRepository
	refresher  Refresher
	instanceID int32
	now        func() time.Time
	log        *zap.Logger
}

// NewManager constructs a credential manager for the given instance.
func NewManager(
	creds repository.CredentialRepository,
	workers repository.WorkerRepository,
	refresher Refresher,
	instanceID int32,
	log *zap.Logger,
) *Manager {
	return &Manager{
		creds:      creds,
		workers:    workers,
		refresher:  refresher,
		instanceID: instanceID,
		now:        time.Now,
		log:        log,
	}
}

// Obtain returns a live credential for the worker, or nil when the pool is
// exhausted. The worker's own credential is returned without any network call
// while it has not expired; otherwise candidates are tried in order: the
// worker's own expired credential first, then unreserved credentials by
// soonest expiry. Returning nil is not retried here; the calling pipeline
// exits and a later run picks up freed credentials.
func (m *Manager) Obtain(ctx context.Context, worker *model.Worker) (*model.Credential, error) {
	var candidates []model.Credential

	if worker.DeviceID != nil {
		own, err := m.creds.Get(ctx, *worker.DeviceID)
		switch {
		case err == nil:
			if !own.Expired(m.now()) {
				return own, nil
			}
			candidates = append(candidates, *own)
		case errors.Is(err, errs.ErrNotFound):
			// Dangling binding; fall through to the pool.
		default:
			return nil, err
		}
	}

	pool, err := m.creds.ListUnreserved(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range pool {
		if worker.DeviceID != nil && c.DeviceID == *worker.DeviceID {
			continue
		}
		candidates = append(candidates, c)
	}

	for i := range candidates {
		cred, err := m.tryCandidate(ctx, worker, &candidates[i])
		if err != nil {
			return nil, err
		}
		if cred != nil {
			return cred, nil
		}
	}
	return nil, nil
}

// tryCandidate reserves, refreshes and binds one candidate. A nil, nil return
// means "move on to the next candidate". The reservation is removed in every
// outcome before returning.
func (m *Manager) tryCandidate(ctx context.Context, worker *model.Worker, c *model.Credential) (*model.Credential, error) {
	err := m.creds.Reserve(ctx, c.DeviceID, m.instanceID)
	if errors.Is(err, errs.ErrReserved) {
		m.log.Info("device reserved elsewhere",
			zap.Int64("chat_id", worker.ChatID),
			zap.String("device_id", c.DeviceID.String()),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer m.releaseReservation(ctx, c.DeviceID)

	tok, err := m.refresher.Credential(ctx, c.DeviceID, c.DeviceToken)
	if err != nil {
		m.log.Warn("credential refresh failed",
			zap.Int64("chat_id", worker.ChatID),
			zap.String("device_id", c.DeviceID.String()),
			zap.Error(err),
		)
		return nil, nil
	}

	expires := m.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	fresh := &model.Credential{
		DeviceID:     c.DeviceID,
		DeviceToken:  c.DeviceToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &expires,
	}
	if err := m.creds.Upsert(ctx, fresh); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, nil
		}
		return nil, err
	}
	if err := m.workers.BindCredential(ctx, worker.ChatID, c.DeviceID); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) || errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	m.log.Info("credential refreshed",
		zap.Int64("chat_id", worker.ChatID),
		zap.String("device_id", c.DeviceID.String()),
		zap.Time("expires_at", expires),
	)
	return fresh, nil
}

func (m *Manager) releaseReservation(ctx context.Context, deviceID uuid.UUID) {
	if err := m.creds.ReleaseReservation(ctx, deviceID); err != nil {
		m.log.Error("release reservation", zap.String("device_id", deviceID.String()), zap.Error(err))
	}
}
