// Package lease partitions a worker's page space into fixed-size windows and
// hands out at most one active claim per window across all instances.
package lease

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/model"
	"github.com/and161185/listing-scout/internal/repository"
)

const (
	// scanCeiling bounds a scan pass: the marketplace exposes roughly the first
	// 1000 offsets of a query, everything deeper is noise.
	scanCeiling = 1000

	// staleAfter is how long an untouched foreign lease stays protected before
	// another instance may reclaim it.
	staleAfter = time.Minute
)

// Manager claims, reclaims and releases chunk leases for one instance.
type Manager struct {
	leases     repository.LeaseRepository
	instanceID int32
	staleAfter time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// NewManager constructs a lease manager for the given instance.
func NewManager(leases repository.LeaseRepository, instanceID int32, log *zap.Logger) *Manager {
	return &Manager{
		leases:     leases,
		instanceID: instanceID,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        log,
	}
}

// Ceiling returns the exclusive offset bound of a scan pass for a worker.
func Ceiling(chunkSize int32) int32 { return scanCeiling + chunkSize - 1 }

// AcquireNext claims the first processable window at or after fromOffset,
// advancing in chunk-size steps up to the scan ceiling. Windows actively
// processed by another instance are skipped; stale foreign leases are
// reclaimed; a lease this instance already owns is resumed. Returns nil when
// the pass is exhausted.
func (m *Manager) AcquireNext(ctx context.Context, worker *model.Worker, fromOffset int32) (*model.ChunkLease, error) {
	live, err := m.leases.ListByWorker(ctx, worker.ChatID)
	if err != nil {
		return nil, err
	}

	for offset := fromOffset; offset < Ceiling(worker.ChunkSize); offset += worker.ChunkSize {
		window := model.Window{Lo: offset, Hi: offset + worker.ChunkSize}

		var owned *model.ChunkLease
		busy := false
		for i := range live {
			l := &live[i]
			if !l.Window.Contains(window) {
				continue
			}
			switch {
			case l.InstanceID == m.instanceID:
				// Left over from a previous run of this instance; resume it.
				owned = l
			case !l.Stale(m.now(), m.staleAfter):
				busy = true
			default:
				m.log.Info("reclaiming stale lease",
					zap.Int64("chat_id", worker.ChatID),
					zap.Int32("lo", l.Window.Lo),
					zap.Int32("hi", l.Window.Hi),
					zap.Int32("owner", l.InstanceID),
				)
				if err := m.leases.Delete(ctx, l.WorkerChatID, l.Window); err != nil {
					return nil, err
				}
			}
		}
		if busy {
			continue
		}
		if owned != nil {
			return owned, nil
		}

		lease := &model.ChunkLease{
			WorkerChatID: worker.ChatID,
			Window:       window,
			InstanceID:   m.instanceID,
		}
		err := m.leases.Create(ctx, lease)
		switch {
		case err == nil:
			return lease, nil
		case errors.Is(err, errs.ErrAlreadyClaimed):
			// Another instance observed the same absence and won; move on.
			m.log.Info("lost claim race",
				zap.Int64("chat_id", worker.ChatID),
				zap.Int32("lo", window.Lo),
				zap.Int32("hi", window.Hi),
			)
			continue
		default:
			return nil, err
		}
	}
	return nil, nil
}

// Release deletes the lease. Must run after the window's work completes,
// success or failure, so the window does not stay orphaned until staleness.
func (m *Manager) Release(ctx context.Context, l *model.ChunkLease) error {
	return m.leases.Delete(ctx, l.WorkerChatID, l.Window)
}
