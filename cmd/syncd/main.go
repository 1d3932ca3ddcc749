package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fieldsync/internal/adapter"
	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/database"
	"fieldsync/internal/deadletter"
	"fieldsync/internal/dispatcher"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/registry"
	"fieldsync/internal/report"
	"fieldsync/internal/scheduler"
	"fieldsync/internal/secrets"
	"fieldsync/internal/service"
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
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return err
	}
	defer db.Close()

	box, err := secrets.NewBox(cfg.Secrets.EncryptionKey)
	if err != nil {
		logger.Error().Err(err).Msg("invalid secrets encryption key")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	targetRegistry := registry.New(db, box, &logger)
	adapters := adapter.NewRegistry()
	adapters.Register("webhook", adapter.NewWebhookAdapter("webhook", cfg.Sync.DeliveryTimeout, &logger))
	adapters.Register("hr_system", adapter.NewHRSystemAdapter("hr_system", cfg.Sync.DeliveryTimeout, &logger))

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventRecordFailed, func(ev *events.Event) error {
		logger.Debug().Str("event", ev.Type).RawJSON("payload", ev.Payload).Msg("sync event")
		return nil
	})

	disp := dispatcher.New(db, targetRegistry, adapters, dispatcher.Options{
		BatchSize:       cfg.Sync.BatchSize,
		ClaimTTL:        cfg.Sync.ClaimTTL,
		DeliveryTimeout: cfg.Sync.DeliveryTimeout,
		Policy:          dispatcher.PolicyFromConfig(cfg.Sync.Retry),
	}, &logger)
	disp.SetEventPublisher(eventBus)
	disp.SetDeadLetterSink(initDeadLetter(ctx, cfg, &logger))

	sched := scheduler.New(targetRegistry, disp, cfg.Sync.SchedulerTick, &logger)
	sched.SetOrphanSweeper(db)
	go sched.Run(ctx)

	syncService := service.NewSyncService(db, db, sched, eventBus, box, &logger)
	exporter := report.NewExporter(db, cfg.Exports.Path, &logger)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, syncService, exporter, db.PingContext, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Backup, &logger)
		go backupService.Run(ctx)
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg, &logger)
	}

	logger.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("fieldsync started")

	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для экспорта")
		return err
	}
	return nil
}

// initDeadLetter builds the dead-letter sink: redis primary with an in-memory
// fallback, or memory only when redis is not configured.
func initDeadLetter(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.DeadLetterSink {
	memory := deadletter.NewMemorySink(1000)
	if !cfg.Redis.Enabled {
		return memory
	}

	client := deadletter.NewRedisClient(cfg.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}

	primary := deadletter.NewRedisSink(client, "")
	return deadletter.NewFailoverSink(primary, memory, logger)
}

func startMetricsServer(cfg *config.Config, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
