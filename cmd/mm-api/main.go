// mm-api — HTTP API для запуска и просмотра runs.
//
// Запуск создаёт run в БД и публикует run.pending; дальше run ведёт
// mm-orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/metamigrate/internal/api"
	"github.com/shaiso/metamigrate/internal/app"
	"github.com/shaiso/metamigrate/internal/config"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/trigger"
)

const service = "mm-api"

func main() {
	cfg, logger, flush, err := app.Bootstrap(service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] config: %v\n", service, err)
		os.Exit(1)
	}
	defer flush()
	logger.Info("starting " + service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := app.OpenDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	runRepo := repo.NewRunRepo(pool)

	publisher, closeMQ := app.PendingPublisher(ctx, cfg, service, logger)
	defer closeMQ()

	handler := api.NewHandler(api.Config{
		Runs:    runRepo,
		Starter: trigger.NewSubmitter(runRepo, publisher, logger),
		Logger:  logger,
	})

	mux := telemetry.OpsMux(app.PoolReady(pool))
	handler.RegisterRoutes(mux)

	if err := app.ServeHTTP(ctx, config.Addr(cfg.Ports.API), mux, logger); err != nil {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
	logger.Info(service + " stopped")
}
