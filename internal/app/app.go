// Package app собирает общие для бинарников зависимости:
// конфигурацию, логгер, пул БД, соединение RabbitMQ и HTTP сервер.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/metamigrate/internal/config"
	"github.com/shaiso/metamigrate/internal/mq"
	"github.com/shaiso/metamigrate/internal/orchestrator"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

// Bootstrap читает конфигурацию и настраивает логгер сервиса.
// Возвращаемую функцию нужно вызвать при выходе.
func Bootstrap(service string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, flush := telemetry.SetupLogger(telemetry.LogConfig{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: service,
	})
	return cfg, logger, flush, nil
}

// OpenDB подключается к Postgres и создаёт схему.
func OpenDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected")
	return pool, nil
}

// OpenMQ подключается к RabbitMQ и объявляет топологию.
func OpenMQ(ctx context.Context, cfg *config.Config, service string, logger *slog.Logger) (*mq.Connection, error) {
	conn, err := mq.NewConnection(mq.ConnectionConfig{
		URL:    cfg.RabbitMQURL,
		Name:   service,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}
	return conn, nil
}

// PendingPublisher возвращает публикатор run.pending.
//
// Без RABBITMQ_URL или при недоступном брокере runs подхватит poll loop
// оркестратора, поэтому ошибка подключения не фатальна.
func PendingPublisher(ctx context.Context, cfg *config.Config, service string, logger *slog.Logger) (trigger.PendingPublisher, func()) {
	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL is empty, runs are picked up by polling")
		return trigger.PollOnly{}, func() {}
	}
	conn, err := OpenMQ(ctx, cfg, service, logger)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, runs are picked up by polling", "error", err)
		return trigger.PollOnly{}, func() {}
	}
	return mq.NewPublisher(conn, logger), func() { conn.Close() }
}

// Plan строит настройки шагов из конфигурации.
func Plan(cfg *config.Config) orchestrator.Plan {
	return orchestrator.Plan{
		Database: cfg.Database,
		Backup:   stepSpec(cfg.Backup),
		Migrate:  stepSpec(cfg.Migrate),
	}
}

func stepSpec(s config.StepConfig) orchestrator.StepSpec {
	return orchestrator.StepSpec{
		Target:  s.StepTarget(),
		Mode:    s.InvocationMode(),
		Timeout: s.Timeout,
	}
}

// PoolReady — проверка готовности для /healthz.
func PoolReady(pool *pgxpool.Pool) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}

// ServeHTTP обслуживает handler на addr до отмены ctx, затем
// останавливает сервер с таймаутом.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
