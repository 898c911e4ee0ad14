package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/model"
	"github.com/and161185/listing-scout/internal/telegram"
)

func rawItem(id int64) json.RawMessage { return rawItemContact(id, false) }

func rawItemContact(id int64, hasPhone bool) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"id": %d,
		"url": "https://www.olx.ua/d/obyavlenie/item-%d.html",
		"title": "Дитячий велосипед",
		"description": "Стан добрий",
		"contact": {"phone": %t, "chat": true},
		"category": {"id": 13},
		"created_time": "2026-08-30T10:00:00+03:00",
		"last_refresh_time": "2026-08-30T11:00:00+03:00",
		"valid_to_time": "2026-09-29T10:00:00+03:00",
		"user": {"id": 42, "uuid": "b2f64f2a-2a1c-4a6f-9f59-0d41a1c0a111", "name": "Олена"},
		"location": {"region": {"id": 1, "name": "Київська область"}, "city": {"id": 2, "name": "Київ"}},
		"params": [{"key": "price", "name": "Цена", "type": "price", "value": {"value": 1500, "currency": "UAH", "label": "1 500 грн."}}]
	}`, id, id, hasPhone))
}

type fakeWorkers struct{ worker *model.Worker }

func (f *fakeWorkers) Get(_ context.Context, _ int64) (*model.Worker, error) {
	w := *f.worker
	return &w, nil
}
func (f *fakeWorkers) ListActiveChatIDs(_ context.Context) ([]int64, error) { return nil, nil }
func (f *fakeWorkers) Upsert(_ context.Context, _ *model.Worker) error      { return nil }
func (f *fakeWorkers) BindCredential(_ context.Context, _ int64, _ uuid.UUID) error {
	return nil
}

type fakeCreds struct{ cred *model.Credential }

func (f *fakeCreds) Obtain(_ context.Context, _ *model.Worker) (*model.Credential, error) {
	return f.cred, nil
}

// fakeLeases plays a script of windows; a nil entry means "pass exhausted".
// Past the script's end it waits for done (when set), cancels the run and
// reports the cancellation, ending the otherwise endless produce loop.
type fakeLeases struct {
	cancel   context.CancelFunc
	script   []*model.Window
	done     <-chan struct{}
	next     int
	acquired []int32
	released []model.Window
}

func (f *fakeLeases) AcquireNext(_ context.Context, w *model.Worker, fromOffset int32) (*model.ChunkLease, error) {
	f.acquired = append(f.acquired, fromOffset)
	if f.next >= len(f.script) {
		if f.done != nil {
			<-f.done
		}
		f.cancel()
		return nil, context.Canceled
	}
	win := f.script[f.next]
	f.next++
	if win == nil {
		return nil, nil
	}
	return &model.ChunkLease{WorkerChatID: w.ChatID, Window: *win, InstanceID: 1}, nil
}

func (f *fakeLeases) Release(_ context.Context, l *model.ChunkLease) error {
	f.released = append(f.released, l.Window)
	return nil
}

type fetchPage struct {
	items []json.RawMessage
	err   error
}

type fakeFetcher struct {
	pages []fetchPage
	calls []int32

	mu         sync.Mutex
	phones     []json.RawMessage
	phoneCalls []int64
}

func (f *fakeFetcher) Listings(_ context.Context, offset, _ int32, _ map[string]string) ([]json.RawMessage, error) {
	f.calls = append(f.calls, offset)
	if len(f.pages) == 0 {
		return nil, nil
	}
	p := f.pages[0]
	f.pages = f.pages[1:]
	return p.items, p.err
}

func (f *fakeFetcher) Phones(_ context.Context, listingID int64, _ string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phoneCalls = append(f.phoneCalls, listingID)
	return f.phones, nil
}

type fakeListings struct {
	mu     sync.Mutex
	saved  map[int64]*model.Listing
	order  []int64
	phones []int64
}

func newFakeListings() *fakeListings {
	return &fakeListings{saved: map[int64]*model.Listing{}}
}

func (f *fakeListings) Save(_ context.Context, l *model.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.saved[l.ID]; !ok {
		f.order = append(f.order, l.ID)
	}
	f.saved[l.ID] = l
	return nil
}

func (f *fakeListings) Get(_ context.Context, id int64) (*model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.saved[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return l, nil
}

func (f *fakeListings) AddPhones(_ context.Context, id int64, phones []model.Phone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phones = append(f.phones, id)
	return nil
}

type fakeCategories struct{}

func (fakeCategories) Any(_ context.Context) (bool, error)               { return true, nil }
func (fakeCategories) Upsert(_ context.Context, _ *model.Category) error { return nil }
func (fakeCategories) Path(_ context.Context, _ int32) ([]model.Category, error) {
	return []model.Category{{ID: 13, Name: "Дитячий світ", Code: "detskiy-mir"}}, nil
}

type fakeDeliveries struct {
	delivered map[int64]struct{}
	createErr error

	mu       sync.Mutex
	created  []model.Delivery
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{delivered: map[int64]struct{}{}, done: make(chan struct{})}
}

func (f *fakeDeliveries) Delivered(_ context.Context, _ int64, ids []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for _, id := range ids {
		if _, ok := f.delivered[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeDeliveries) Create(_ context.Context, d *model.Delivery) error {
	f.mu.Lock()
	f.created = append(f.created, *d)
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	return f.createErr
}

type fakeSender struct {
	errs []error
	sent []string
}

func (f *fakeSender) SendMessage(_ context.Context, _ int64, text, _, _ string) (int64, error) {
	f.sent = append(f.sent, text)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return 42, nil
}

type testPipeline struct {
	p          *Pipeline
	leases     *fakeLeases
	fetcher    *fakeFetcher
	listings   *fakeListings
	deliveries *fakeDeliveries
	sender     *fakeSender
}

func newTestPipeline(cancel context.CancelFunc, cred *model.Credential) *testPipeline {
	tp := &testPipeline{
		leases:     &fakeLeases{cancel: cancel},
		fetcher:    &fakeFetcher{},
		listings:   newFakeListings(),
		deliveries: newFakeDeliveries(),
		sender:     &fakeSender{},
	}
	tp.p = New(Config{
		ChatID:      7,
		Workers:     &fakeWorkers{worker: &model.Worker{ChatID: 7, ChunkSize: 40, Active: true}},
		Listings:    tp.listings,
		Categories:  fakeCategories{},
		Deliveries:  tp.deliveries,
		Leases:      tp.leases,
		Credentials: &fakeCreds{cred: cred},
		Fetcher:     tp.fetcher,
		Bot:         tp.sender,
		Cooldown:    time.Millisecond,
		Throttle:    time.Millisecond,
		Log:         zap.NewNop(),
	})
	return tp
}

func liveCredential() *model.Credential {
	expires := time.Now().Add(time.Hour)
	return &model.Credential{AccessToken: "acc", ExpiresAt: &expires}
}

func TestPipeline_NoCredentialExitsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, nil)

	require.NoError(t, tp.p.Run(ctx))
	require.Empty(t, tp.leases.acquired)
}

func TestPipeline_DeliversThenRestartsAtZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, liveCredential())
	tp.leases.script = []*model.Window{{Lo: 0, Hi: 40}, nil, {Lo: 0, Hi: 40}}
	tp.leases.done = tp.deliveries.done
	tp.fetcher.pages = []fetchPage{{items: []json.RawMessage{rawItem(100)}}, {}}

	err := tp.p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Pass one claims and delivers; pass two finds the feed quiet and cools
	// down; pass three starts over from the front of the feed.
	require.Equal(t, []int32{0, 40, 0, 0}, tp.leases.acquired)
	require.Equal(t, []model.Window{{Lo: 0, Hi: 40}, {Lo: 0, Hi: 40}}, tp.leases.released)
	require.Len(t, tp.sender.sent, 1)
	require.Equal(t, []model.Delivery{{WorkerChatID: 7, ListingID: 100, MessageID: 42}}, tp.deliveries.created)
	require.Equal(t, []int64{100}, tp.listings.order)
}

func TestPipeline_SkipsAlreadyDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, liveCredential())
	tp.leases.script = []*model.Window{{Lo: 0, Hi: 40}}
	tp.deliveries.delivered[100] = struct{}{}
	tp.fetcher.pages = []fetchPage{{items: []json.RawMessage{rawItem(100)}}}

	err := tp.p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, tp.sender.sent)
	require.Empty(t, tp.deliveries.created)
}

func TestPipeline_RetryAfterResendsSameMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, liveCredential())
	tp.leases.script = []*model.Window{{Lo: 0, Hi: 40}}
	tp.leases.done = tp.deliveries.done
	tp.fetcher.pages = []fetchPage{{items: []json.RawMessage{rawItem(100)}}}
	tp.sender.errs = []error{&telegram.RetryAfterError{After: time.Millisecond}, nil}

	err := tp.p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, tp.sender.sent, 2)
	require.Equal(t, tp.sender.sent[0], tp.sender.sent[1])
	require.Equal(t, []model.Delivery{{WorkerChatID: 7, ListingID: 100, MessageID: 42}}, tp.deliveries.created)
}

func TestPipeline_DuplicateDeliveryRecordIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, liveCredential())
	tp.leases.script = []*model.Window{{Lo: 0, Hi: 40}}
	tp.leases.done = tp.deliveries.done
	tp.fetcher.pages = []fetchPage{{items: []json.RawMessage{rawItem(100)}}}
	tp.deliveries.createErr = errs.ErrAlreadyExists

	err := tp.p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, tp.sender.sent, 1)
}

func TestPipeline_FetchFailureRetriedNextPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, liveCredential())
	tp.leases.script = []*model.Window{{Lo: 0, Hi: 40}, nil, {Lo: 0, Hi: 40}}
	tp.leases.done = tp.deliveries.done
	tp.fetcher.pages = []fetchPage{
		{err: errors.New("connection reset")},
		{items: []json.RawMessage{rawItem(100)}},
	}

	err := tp.p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The failed window's lease is released immediately and claimed again on
	// the following pass.
	require.Equal(t, []model.Window{{Lo: 0, Hi: 40}, {Lo: 0, Hi: 40}}, tp.leases.released)
	require.Equal(t, []int32{0, 0}, tp.fetcher.calls)
	require.Len(t, tp.sender.sent, 1)
}

func TestPipeline_RevealsPhonesOnDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, liveCredential())
	tp.leases.script = []*model.Window{{Lo: 0, Hi: 40}}
	tp.leases.done = tp.deliveries.done
	tp.fetcher.pages = []fetchPage{{items: []json.RawMessage{rawItemContact(100, true)}}}
	tp.fetcher.phones = []json.RawMessage{json.RawMessage(`"380671234567"`)}

	err := tp.p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []int64{100}, tp.fetcher.phoneCalls)
	require.Equal(t, []int64{100}, tp.listings.phones)
	require.Len(t, tp.sender.sent, 1)
	require.Contains(t, tp.sender.sent[0], "380671234567")
}

func TestPipeline_MalformedItemIsolated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := newTestPipeline(cancel, liveCredential())
	tp.leases.script = []*model.Window{{Lo: 0, Hi: 40}}
	tp.leases.done = tp.deliveries.done
	tp.fetcher.pages = []fetchPage{{items: []json.RawMessage{
		json.RawMessage(`{"id": 0}`),
		rawItem(100),
	}}}

	err := tp.p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []int64{100}, tp.listings.order)
	require.Len(t, tp.sender.sent, 1)
}
