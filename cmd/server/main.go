package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/api"
	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/export"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/repository/postgres"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/progress"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
	"github.com/ignite/campaign-dispatch/internal/ses"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v\n"+
			"  Hint: run 'lsof -i' to find the blocking process", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			configPath = "config/config.yaml"
		}
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: PostgreSQL when configured, otherwise an in-process store.
	var (
		db     *sql.DB
		repo   campaign.Repository
		ledger campaign.Ledger
	)
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			log.Fatalf("Failed to reach database: %v", err)
		}
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Info("[main] database ready", "migrations_applied", applied)
		repo, ledger = postgres.NewCampaignRepo(db), postgres.NewLedgerRepo(db)
	} else {
		logger.Warn("[main] DATABASE_URL not set, using in-memory store; nothing survives a restart")
		store := memory.NewStore()
		repo, ledger = store, store
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("[main] redis unreachable, dispatch locks fall back", "error", err)
			redisClient.Close()
			redisClient = nil
		}
	}

	// Outbound transport: SES when credentialed, otherwise a dry-run logger.
	var connector sending.Connector
	if cfg.SES.Enabled {
		sesConn, err := ses.NewConnector(ctx, cfg.SES)
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
		connector = sesConn
		logger.Info("[main] SES transport enabled", "region", cfg.SES.Region)
	} else {
		connector = sending.NewLogConnector()
		logger.Warn("[main] SES not configured, messages are logged and not delivered")
	}

	campaigns := campaign.NewService(repo, ledger, connector)
	dispatcher := worker.NewDispatcher(campaigns, connector, worker.Config{
		Interval: cfg.Dispatch.Interval(),
		LockTTL:  cfg.Dispatch.LockTTL(),
		Locks:    distlock.NewFactory(redisClient, db, cfg.Dispatch.LockTTL()),
	})

	recovery := worker.NewRecoveryWorker(campaigns, dispatcher, cfg.Dispatch.RecoveryInterval(), cfg.Dispatch.RestartRecovered)
	go recovery.Start(ctx)

	var archiver api.Archiver
	if cfg.Export.S3Bucket != "" {
		a, err := export.NewArchiver(ctx, cfg.Export.AWSRegion, cfg.Export.S3Bucket, cfg.Export.S3Prefix)
		if err != nil {
			logger.Warn("[main] send-log archiving disabled", "error", err)
		} else {
			archiver = a
		}
	}

	handlers := api.NewHandlers(campaigns, dispatcher, progress.NewAggregator(campaigns, ledger), archiver)
	health := api.NewHealthChecker(db, redisClient, dispatcher)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handlers, health, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("[main] starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("[main] shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("[main] server shutdown error", "error", err)
	}
	// Running campaigns finish their in-flight recipient and park in queued.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("[main] dispatcher shutdown error", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info("[main] server stopped")
}
