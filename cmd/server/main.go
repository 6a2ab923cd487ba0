// Package main provides the entry point for the rating service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kneutral-org/rating-service/internal/api"
	"github.com/kneutral-org/rating-service/internal/catalog"
	"github.com/kneutral-org/rating-service/internal/config"
	"github.com/kneutral-org/rating-service/internal/editor"
	"github.com/kneutral-org/rating-service/internal/events"
	"github.com/kneutral-org/rating-service/internal/health"
	"github.com/kneutral-org/rating-service/internal/lock"
	"github.com/kneutral-org/rating-service/internal/logging"
	"github.com/kneutral-org/rating-service/internal/rating"
	"github.com/kneutral-org/rating-service/internal/storage"
)

const sweeperLockKey = "rating-service:sweeper"

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	logger := logging.New("rating-service", cfg.LogLevel, cfg.LogPretty)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}

	logger.Info().Msg("server exited properly")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DatabaseURL, storage.DefaultOptions())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db.SQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	checker := health.NewChecker(logger)
	checker.Register("postgres", health.PingFunc(db.Ping))

	lockStore, closeStore, err := openLockStore(ctx, cfg, db, checker)
	if err != nil {
		return err
	}
	defer closeStore()

	manager := lock.NewManager(lockStore,
		lock.WithTTL(cfg.LockTTL),
		lock.WithLogger(logger),
	)

	policy, err := rating.NewPolicy(cfg.RatingPolicy)
	if err != nil {
		return fmt.Errorf("rating policy: %w", err)
	}

	publisher, closePublisher, err := openPublisher(cfg, logger, checker)
	if err != nil {
		return err
	}
	defer closePublisher()

	executor := rating.NewExecutor(db.SQL,
		rating.WithPolicy(policy),
		rating.WithTolerance(cfg.RatingTolerance),
		rating.WithPublisher(publisher),
		rating.WithLogger(logger),
	)

	cacheCfg := catalog.DefaultCacheConfig()
	cacheCfg.TTL = cfg.CatalogCacheTTL
	movies := catalog.NewCachedCatalog(catalog.NewPostgresStore(db.SQL), cacheCfg)
	defer movies.Stop()

	edits := editor.NewService(movies, manager, executor, logger)

	// Only the elected instance sweeps expired locks.
	var (
		elector *lock.LeaderElector
		sweeper *lock.Sweeper
	)
	if cfg.SweepInterval > 0 {
		elector = lock.NewLeaderElector(
			lock.NewLease(manager, sweeperLockKey, "sweeper-"+uuid.NewString()),
			logger,
			lock.WithRenewalRate(cfg.LockTTL/3),
		)
		elector.Start(ctx)

		sweeper = lock.NewSweeper(manager, cfg.SweepInterval, logger, lock.WithActiveCheck(elector.IsLeader))
		sweeper.Start()
	}

	checker.Start(15 * time.Second)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(logging.GRPCLogger(logger)),
		grpc.ChainStreamInterceptor(logging.GRPCStreamLogger(logger)),
	)
	healthpb.RegisterHealthServer(grpcServer, checker.Server())

	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(manager, executor, edits)
	router := api.NewRouter(handler, api.RouterConfig{
		MaxPayloadSize: cfg.MaxPayloadSize,
		Health:         checker,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		logger.Info().Str("port", cfg.GRPCPort).Msg("starting gRPC health server")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checker.Stop()
	if sweeper != nil {
		sweeper.Stop()
	}
	if elector != nil {
		elector.Stop(shutdownCtx)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	grpcServer.GracefulStop()

	return serveErr
}

// openLockStore builds the configured lock backend and registers its health
// probe. The returned func releases backend resources.
func openLockStore(ctx context.Context, cfg *config.Config, db *storage.DB, checker *health.Checker) (lock.Store, func(), error) {
	switch cfg.LockBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, storage.Unavailable("redis ping", err)
		}

		store := lock.NewRedisStore(client)
		checker.Register("redis", health.PingFunc(store.Ping))
		return store, func() { _ = client.Close() }, nil

	case config.BackendMemory:
		return lock.NewMemoryStore(), func() {}, nil

	default:
		return lock.NewPostgresStore(db.SQL), func() {}, nil
	}
}

// openPublisher connects to NATS when configured. Without NATS_URL events are
// dropped.
func openPublisher(cfg *config.Config, logger zerolog.Logger, checker *health.Checker) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.NopPublisher{}, func() {}, nil
	}

	nc, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		return nil, nil, err
	}

	checker.Register("nats", health.PingFunc(func(context.Context) error {
		if status := nc.Status(); status != nats.CONNECTED {
			return fmt.Errorf("nats status %s", status)
		}
		return nil
	}))

	return events.NewNATSPublisher(nc, cfg.NATSSubject), func() { _ = nc.Drain() }, nil
}
