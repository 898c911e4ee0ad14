// Package runner starts one pipeline per active worker under per-worker
// supervision, bootstraps the category tree and serves the liveness endpoint.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/listing-scout/internal/mapper"
	"github.com/and161185/listing-scout/internal/model"
	"github.com/and161185/listing-scout/internal/repository"
)

const (
	restartBackoffMin = time.Second
	restartBackoffMax = 5 * time.Minute

	// A pipeline that survived this long gets its backoff reset.
	steadyRunTime = time.Hour
)

// Runnable is a worker pipeline.
type Runnable interface {
	Run(ctx context.Context) error
}

// CategoryFetcher is the subset of the fetch client the runner needs.
type CategoryFetcher interface {
	Categories(ctx context.Context) ([]json.RawMessage, error)
}

// Config wires the runner.
type Config struct {
	InstanceID  int32
	Workers     repository.WorkerRepository
	Categories  repository.CategoryRepository
	Fetcher     CategoryFetcher
	NewPipeline func(chatID int64) Runnable

	// Port of the liveness endpoint; zero disables it.
	Port int

	Log *zap.Logger
}

// Runner supervises all worker pipelines of one instance.
type Runner struct {
	cfg Config
	log *zap.Logger
}

// New constructs a runner.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg, log: cfg.Log.With(zap.Int32("instance_id", cfg.InstanceID))}
}

// Run bootstraps categories, then supervises one pipeline per active worker
// until the context is cancelled. Each worker has its own fault boundary: a
// crashing pipeline is logged and restarted with backoff instead of tearing
// down its siblings.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.bootstrapCategories(ctx); err != nil {
		return err
	}

	chatIDs, err := r.cfg.Workers.ListActiveChatIDs(ctx)
	if err != nil {
		return err
	}
	if len(chatIDs) == 0 {
		r.log.Error("no active workers configured")
		return nil
	}
	r.log.Info("started", zap.Int("workers", len(chatIDs)))

	g, ctx := errgroup.WithContext(ctx)
	if r.cfg.Port > 0 {
		g.Go(func() error { return r.serveHealth(ctx) })
	}
	for _, chatID := range chatIDs {
		chatID := chatID
		g.Go(func() error { return r.supervise(ctx, chatID) })
	}
	err = g.Wait()
	r.log.Info("finished")
	return err
}

// supervise restarts one worker's pipeline on failure. A clean return (for
// example no credential available) ends supervision for this run.
func (r *Runner) supervise(ctx context.Context, chatID int64) error {
	backoff := restartBackoffMin
	for {
		started := time.Now()
		err := r.cfg.NewPipeline(chatID).Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		if time.Since(started) >= steadyRunTime {
			backoff = restartBackoffMin
		}
		r.log.Error("worker pipeline failed, restarting",
			zap.Int64("chat_id", chatID),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff *= 2; backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

// bootstrapCategories fetches and persists the category tree once, when the
// table is empty. Parents are inserted before children (ids ascend the tree).
func (r *Runner) bootstrapCategories(ctx context.Context) error {
	ok, err := r.cfg.Categories.Any(ctx)
	if err != nil || ok {
		return err
	}

	items, err := r.cfg.Fetcher.Categories(ctx)
	if err != nil {
		return fmt.Errorf("fetch categories: %w", err)
	}

	cats := make([]*model.Category, 0, len(items))
	for _, item := range items {
		c, merr := mapper.Category(item)
		if merr != nil {
			r.log.Warn("invalid category item", zap.Error(merr), zap.ByteString("payload", item))
			continue
		}
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].ID < cats[j].ID })

	for _, c := range cats {
		if err := r.cfg.Categories.Upsert(ctx, c); err != nil {
			return fmt.Errorf("persist category %d: %w", c.ID, err)
		}
	}
	r.log.Info("parsed categories", zap.Int("count", len(cats)))
	return nil
}

func (r *Runner) serveHealth(ctx context.Context) error {
	mux := chi.NewRouter()
	mux.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", r.cfg.Port), Handler: mux}
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		close(done)
	}()

	r.log.Info("liveness endpoint up", zap.Int("port", r.cfg.Port))
	err := srv.ListenAndServe()
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}
