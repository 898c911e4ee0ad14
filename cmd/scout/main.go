// Command scout runs one crawler instance: it paginates the marketplace on
// behalf of configured workers and delivers new listings to their chats.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/uuid/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/and161185/listing-scout/internal/credential"
	"github.com/and161185/listing-scout/internal/fetch"
	"github.com/and161185/listing-scout/internal/lease"
	"github.com/and161185/listing-scout/internal/migrate"
	"github.com/and161185/listing-scout/internal/model"
	"github.com/and161185/listing-scout/internal/pipeline"
	"github.com/and161185/listing-scout/internal/repository/postgres"
	"github.com/and161185/listing-scout/internal/runner"
	"github.com/and161185/listing-scout/internal/telegram"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// kvFlag collects repeated key=value flags into a map.
type kvFlag map[string]string

func (f kvFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f kvFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	f[k] = v
	return nil
}

// main parses configuration, runs migrations, seeds configured rows and starts
// the instance runner.
func main() {
	_ = godotenv.Load()

	query, headers := kvFlag{}, kvFlag{}
	instanceID := flag.Int("instance-id", envInt("SCOUT_INSTANCE_ID", -1), "id of this crawler instance (required, >= 0)")
	dsn := flag.String("dsn", os.Getenv("SCOUT_DATABASE_URL"), "PostgreSQL DSN")
	botToken := flag.String("token", os.Getenv("SCOUT_BOT_TOKEN"), "Bot API token (required)")
	chatID := flag.Int64("chat-id", int64(envInt("SCOUT_CHAT_ID", 0)), "chat id to seed a worker for")
	deviceID := flag.String("device-id", os.Getenv("SCOUT_DEVICE_ID"), "device id used for marketplace login")
	deviceToken := flag.String("device-token", os.Getenv("SCOUT_DEVICE_TOKEN"), "device token used for marketplace login")
	chunkSize := flag.Int("chunksize", envInt("SCOUT_CHUNKSIZE", 40), "page size of the seeded worker (1..50)")
	port := flag.Int("port", envInt("SCOUT_PORT", 0), "liveness endpoint port (0 disables)")
	flag.Var(query, "query", "marketplace query parameter as key=value (repeatable)")
	flag.Var(headers, "header", "extra HTTP header as key=value (repeatable)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.Int("instance_id", *instanceID),
	)

	if *instanceID < 0 {
		logger.Fatal("missing instance id (--instance-id)")
	}
	if *dsn == "" {
		logger.Fatal("missing database DSN (--dsn)")
	}
	if *botToken == "" {
		logger.Fatal("missing bot token (--token)")
	}
	if *chunkSize < 1 || *chunkSize > 50 {
		logger.Fatal("chunksize out of range", zap.Int("chunksize", *chunkSize))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, *dsn); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, *dsn)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	workerRepo := postgres.NewWorkerRepo(db)
	instanceRepo := postgres.NewInstanceRepo(db)
	credentialRepo := postgres.NewCredentialRepo(db)
	leaseRepo := postgres.NewLeaseRepo(db)
	listingRepo := postgres.NewListingRepo(db)
	categoryRepo := postgres.NewCategoryRepo(db)
	deliveryRepo := postgres.NewDeliveryRepo(db)

	if err := seed(ctx, seedConfig{
		workers:     workerRepo,
		instances:   instanceRepo,
		credentials: credentialRepo,
		instanceID:  int32(*instanceID),
		chatID:      *chatID,
		deviceID:    *deviceID,
		deviceToken: *deviceToken,
		chunkSize:   int32(*chunkSize),
		query:       query,
	}); err != nil {
		logger.Fatal("seed configuration", zap.Error(err))
	}

	client := fetch.NewClient(fetch.Config{Headers: headers}, logger)
	bot := telegram.NewBot(*botToken, "")
	leases := lease.NewManager(leaseRepo, int32(*instanceID), logger)
	credentials := credential.NewManager(credentialRepo, workerRepo, client, int32(*instanceID), logger)

	r := runner.New(runner.Config{
		InstanceID: int32(*instanceID),
		Workers:    workerRepo,
		Categories: categoryRepo,
		Fetcher:    client,
		Port:       *port,
		Log:        logger,
		NewPipeline: func(chatID int64) runner.Runnable {
			return pipeline.New(pipeline.Config{
				ChatID:      chatID,
				Workers:     workerRepo,
				Listings:    listingRepo,
				Categories:  categoryRepo,
				Deliveries:  deliveryRepo,
				Leases:      leases,
				Credentials: credentials,
				Fetcher:     client,
				Bot:         bot,
				Log:         logger,
			})
		},
	})

	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("runner error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type seedConfig struct {
	workers     *postgres.WorkerRepo
	instances   *postgres.InstanceRepo
	credentials *postgres.CredentialRepo
	instanceID  int32
	chatID      int64
	deviceID    string
	deviceToken string
	chunkSize   int32
	query       map[string]string
}

// seed upserts the rows described by configuration: the device credential, the
// worker for the given chat and this instance's row.
func seed(ctx context.Context, cfg seedConfig) error {
	var device *uuid.UUID
	if cfg.deviceID != "" && cfg.deviceToken != "" {
		id, err := uuid.FromString(strings.ToLower(cfg.deviceID))
		if err != nil {
			return fmt.Errorf("bad device id: %w", err)
		}
		if err := cfg.credentials.Seed(ctx, id, cfg.deviceToken); err != nil {
			return err
		}
		device = &id
	}

	if cfg.chatID != 0 {
		if err := cfg.workers.Upsert(ctx, &model.Worker{
			ChatID:    cfg.chatID,
			ChunkSize: cfg.chunkSize,
			Query:     cfg.query,
			Active:    true,
		}); err != nil {
			return err
		}
		if device != nil {
			w, err := cfg.workers.Get(ctx, cfg.chatID)
			if err != nil {
				return err
			}
			if w.DeviceID == nil {
				if err := cfg.workers.BindCredential(ctx, cfg.chatID, *device); err != nil {
					return err
				}
			}
		}
	}

	return cfg.instances.Register(ctx, cfg.instanceID)
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
