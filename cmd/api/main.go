package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rezerv/internal/api"
	"rezerv/internal/config"
	"rezerv/internal/database"
	"rezerv/internal/domain"
	"rezerv/internal/events"
	"rezerv/internal/logging"
	"rezerv/internal/metrics"
	"rezerv/internal/realtime"
	"rezerv/internal/repository"
	"rezerv/internal/service"
	"rezerv/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	state := initStateRepository(redisClient, &logger)

	bus := events.NewEventBus()
	hub := realtime.NewHub(
		time.Duration(cfg.Hub.SendTimeoutMs)*time.Millisecond,
		cfg.Hub.ObserverBufferSize,
		&logger,
	)
	realtime.BindEventBus(bus, hub)

	notifications := startNotificationWorker(ctx, cfg, redisClient, &logger)

	svc := service.NewReservationService(
		db,
		bus,
		notifications,
		time.Duration(cfg.Reservation.CancellationLeadHours)*time.Hour,
		cfg.Reservation.TableRate,
		&logger,
	)

	startSweeper(ctx, cfg, svc, &logger)
	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(*cfg, svc, state, hub, &logger)
	return serve(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncResources(ctx, cfg.Resources); err != nil {
		logger.Error().Err(err).Msg("sync resources")
		db.Close()
		return nil, err
	}
	logger.Info().Int("resources", len(cfg.Resources)).Msg("resource catalog synced")
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initStateRepository выбирает хранилище состояния: Redis с откатом
// на память или чисто память, если Redis недоступен на старте.
func initStateRepository(client *redis.Client, logger *zerolog.Logger) domain.StateRepository {
	memory := repository.NewMemoryStateRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverStateRepository(repository.NewRedisStateRepository(client), memory, logger)
}

func startNotificationWorker(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.NotificationEnqueuer {
	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxAttempts,
		InitialDelay:  time.Duration(cfg.Worker.RetryDelayMs) * time.Millisecond,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
	notificationWorker := worker.NewNotificationWorker(worker.NewLogNotifier(logger), redisClient, retry, cfg.Worker.QueueSize, logger)
	go notificationWorker.Run(ctx)
	return notificationWorker
}

// startSweeper периодически переводит истёкшие подтверждённые брони в completed.
func startSweeper(ctx context.Context, cfg *config.Config, svc *service.ReservationService, logger *zerolog.Logger) {
	interval := time.Duration(cfg.Reservation.SweepIntervalMinutes) * time.Minute
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				completed, err := svc.CompleteElapsed(ctx)
				if err != nil {
					logger.Error().Err(err).Msg("sweep elapsed reservations")
					continue
				}
				if completed > 0 {
					logger.Info().Int("completed", completed).Msg("elapsed reservations completed")
				}
			}
		}
	}()
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("reservation API started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}

	logger.Info().Msg("reservation API stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
