// Package pipeline runs the per-worker crawl: acquire windows, fetch, map,
// dedupe and deliver, with backpressure and delivery throttling.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/lease"
	"github.com/and161185/listing-scout/internal/mapper"
	"github.com/and161185/listing-scout/internal/model"
	"github.com/and161185/listing-scout/internal/repository"
	"github.com/and161185/listing-scout/internal/telegram"
)

const (
	// passCooldown is slept after a fully quiescent window before rescanning
	// from offset 0: the front of the feed is always offset 0.
	passCooldown = time.Minute

	// sendThrottle is slept after every delivered message regardless of
	// provider signals.
	sendThrottle = time.Second
)

// Fetcher is the subset of the fetch client the pipeline needs.
type Fetcher interface {
	Listings(ctx context.Context, offset, limit int32, query map[string]string) ([]json.RawMessage, error)
	Phones(ctx context.Context, listingID int64, accessToken string) ([]json.RawMessage, error)
}

// Sender is the delivery channel call.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text, buttonText, buttonURL string) (int64, error)
}

// Credentials obtains a live credential for a worker.
type Credentials interface {
	Obtain(ctx context.Context, worker *model.Worker) (*model.Credential, error)
}

// Leases claims and releases chunk leases.
type Leases interface {
	AcquireNext(ctx context.Context, worker *model.Worker, fromOffset int32) (*model.ChunkLease, error)
	Release(ctx context.Context, l *model.ChunkLease) error
}

var _ Leases = (*lease.Manager)(nil)

// Config wires one worker pipeline.
type Config struct {
	ChatID      int64
	Workers     repository.WorkerRepository
	Listings    repository.ListingRepository
	Categories  repository.CategoryRepository
	Deliveries  repository.DeliveryRepository
	Leases      Leases
	Credentials Credentials
	Fetcher     Fetcher
	Bot         Sender

	// Cooldown and Throttle default to a minute and a second respectively.
	Cooldown time.Duration
	Throttle time.Duration

	Log *zap.Logger
}

// Pipeline is the per-worker produce/export pair.
type Pipeline struct {
	cfg Config
	log *zap.Logger
}

// New constructs a pipeline for one worker.
func New(cfg Config) *Pipeline {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = passCooldown
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = sendThrottle
	}
	return &Pipeline{cfg: cfg, log: cfg.Log.With(zap.Int64("chat_id", cfg.ChatID))}
}

// Run acquires a credential and drives the produce and export stages until the
// context is cancelled. The stages hand listing ids over an unbuffered channel:
// the producer blocks until the exporter accepts each id, so at most one id is
// in flight and the producer can never outrun delivery.
func (p *Pipeline) Run(ctx context.Context) error {
	worker, err := p.cfg.Workers.Get(ctx, p.cfg.ChatID)
	if err != nil {
		return err
	}

	cred, err := p.cfg.Credentials.Obtain(ctx, worker)
	if err != nil {
		return err
	}
	if cred == nil {
		p.log.Warn("no valid credentials, worker exits")
		return nil
	}

	ids := make(chan int64)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ids)
		return p.produce(ctx, ids)
	})
	g.Go(func() error {
		return p.export(ctx, cred, ids)
	})
	return g.Wait()
}

// produce scans window passes forever. A pass walks offsets in chunk-size
// steps; when a processed window yields nothing undelivered the worker is
// caught up, sleeps the cooldown and restarts at offset 0.
func (p *Pipeline) produce(ctx context.Context, out chan<- int64) error {
	for {
		worker, err := p.cfg.Workers.Get(ctx, p.cfg.ChatID)
		if err != nil {
			return err
		}

		offset := int32(0)
		quiescent := false
		for {
			l, err := p.cfg.Leases.AcquireNext(ctx, worker, offset)
			if err != nil {
				return err
			}
			if l == nil {
				break
			}
			offset = l.Window.Hi

			quiescent, err = p.processWindow(ctx, worker, l, out)
			if err != nil {
				return err
			}
			if quiescent {
				break
			}
		}
		if quiescent {
			p.log.Info("caught up, cooling down", zap.Duration("cooldown", p.cfg.Cooldown))
			if err := sleepCtx(ctx, p.cfg.Cooldown); err != nil {
				return err
			}
		}
	}
}

// processWindow fetches and maps one claimed window, emits undelivered listing
// ids to the exporter and releases the lease. It reports whether the window
// was quiescent (fetched fine and yielded nothing undelivered).
func (p *Pipeline) processWindow(ctx context.Context, worker *model.Worker, l *model.ChunkLease, out chan<- int64) (quiescent bool, err error) {
	defer func() {
		if rerr := p.cfg.Leases.Release(ctx, l); rerr != nil && err == nil {
			err = rerr
		}
	}()

	items, err := p.cfg.Fetcher.Listings(ctx, l.Window.Lo, l.Window.Size(), worker.Query)
	if err != nil {
		// Transient: the released window is retried on a later pass.
		p.log.Warn("fetch window failed",
			zap.Int32("lo", l.Window.Lo),
			zap.Int32("hi", l.Window.Hi),
			zap.Error(err),
		)
		return false, nil
	}

	listings := make([]*model.Listing, 0, len(items))
	for _, item := range items {
		mapped, merr := mapper.Listing(item)
		if merr != nil {
			p.log.Warn("invalid listing item", zap.Error(merr), zap.ByteString("payload", item))
			continue
		}
		if err := p.cfg.Listings.Save(ctx, mapped); err != nil {
			return false, err
		}
		listings = append(listings, mapped)
	}

	listingIDs := make([]int64, len(listings))
	for i, mapped := range listings {
		listingIDs[i] = mapped.ID
	}
	delivered, err := p.cfg.Deliveries.Delivered(ctx, worker.ChatID, listingIDs)
	if err != nil {
		return false, err
	}

	for _, mapped := range listings {
		if _, ok := delivered[mapped.ID]; ok {
			p.log.Debug("already delivered", zap.Int64("listing_id", mapped.ID))
			continue
		}
		select {
		case out <- mapped.ID:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return len(delivered) == len(listings), nil
}

// export delivers each received listing id. A rate-limit signal waits the
// provider's cooldown and resends the identical message; any other delivery
// fault logs and skips to the next id.
func (p *Pipeline) export(ctx context.Context, cred *model.Credential, in <-chan int64) error {
	for {
		var id int64
		select {
		case got, ok := <-in:
			if !ok {
				return nil
			}
			id = got
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := p.exportOne(ctx, cred, id); err != nil {
			return err
		}
		if err := sleepCtx(ctx, p.cfg.Throttle); err != nil {
			return err
		}
	}
}

func (p *Pipeline) exportOne(ctx context.Context, cred *model.Credential, id int64) error {
	listing, err := p.cfg.Listings.Get(ctx, id)
	if err != nil {
		p.log.Error("load listing", zap.Int64("listing_id", id), zap.Error(err))
		return nil
	}
	if listing.HasPhone && len(listing.Phones) == 0 {
		p.revealPhones(ctx, cred, listing)
	}
	path, err := p.cfg.Categories.Path(ctx, listing.CategoryID)
	if err != nil {
		return err
	}
	text := telegram.FormatListing(listing, path)

	var messageID int64
	delivered := false
	for {
		messageID, err = p.cfg.Bot.SendMessage(ctx, p.cfg.ChatID, text, telegram.ButtonText, listing.URL)
		if err == nil {
			delivered = true
			break
		}
		var ra *telegram.RetryAfterError
		if errors.As(err, &ra) {
			p.log.Warn("delivery cooldown",
				zap.Int64("listing_id", id),
				zap.Duration("retry_after", ra.After),
			)
			if serr := sleepCtx(ctx, ra.After); serr != nil {
				return serr
			}
			continue
		}
		p.log.Error("delivery failed", zap.Int64("listing_id", id), zap.Error(err))
		break
	}

	if !delivered {
		return nil
	}
	err = p.cfg.Deliveries.Create(ctx, &model.Delivery{
		WorkerChatID: p.cfg.ChatID,
		ListingID:    id,
		MessageID:    messageID,
	})
	if err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		return err
	}
	p.log.Info("delivered", zap.Int64("listing_id", id), zap.Int64("message_id", messageID))
	return nil
}

// revealPhones fetches the listing's limited-phones list and stores it. The
// message renders without phones when the endpoint misbehaves.
func (p *Pipeline) revealPhones(ctx context.Context, cred *model.Credential, listing *model.Listing) {
	items, err := p.cfg.Fetcher.Phones(ctx, listing.ID, cred.AccessToken)
	if err != nil {
		p.log.Warn("fetch phones failed", zap.Int64("listing_id", listing.ID), zap.Error(err))
		return
	}
	phones := make([]model.Phone, 0, len(items))
	for _, item := range items {
		phone, merr := mapper.Phone(item)
		if merr != nil {
			p.log.Warn("invalid phone item", zap.Error(merr), zap.ByteString("payload", item))
			continue
		}
		phones = append(phones, phone)
	}
	if len(phones) == 0 {
		return
	}
	if err := p.cfg.Listings.AddPhones(ctx, listing.ID, phones); err != nil {
		p.log.Error("store phones", zap.Int64("listing_id", listing.ID), zap.Error(err))
		return
	}
	listing.Phones = phones
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
