// mm-worker — выполняет шаги workflow.
//
// Worker:
//   - Получает step.ready из RabbitMQ
//   - Вызывает Step Functions, Lambda или HTTP endpoint шага
//   - Отправляет результат в step.completed
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/metamigrate/internal/app"
	"github.com/shaiso/metamigrate/internal/awsclient"
	"github.com/shaiso/metamigrate/internal/config"
	"github.com/shaiso/metamigrate/internal/mq"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/worker"
)

const service = "mm-worker"

func main() {
	cfg, logger, flush, err := app.Bootstrap(service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] config: %v\n", service, err)
		os.Exit(1)
	}
	defer flush()
	logger.Info("starting "+service, "concurrency", cfg.Worker.Concurrency)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	awsCfg, err := awsclient.Load(ctx, cfg.AWSRegion)
	if err != nil {
		logger.Error("failed to load aws config", "error", err)
		os.Exit(1)
	}
	clients := awsclient.New(awsCfg)
	registry := worker.NewDefaultRegistry(clients.SFN, clients.Lambda, nil, cfg.Worker.SFNPollInterval)

	conn, err := app.OpenMQ(ctx, cfg, service, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	w := worker.New(worker.Config{
		Registry:    registry,
		Publisher:   mq.NewPublisher(conn, logger),
		Conn:        conn,
		Concurrency: cfg.Worker.Concurrency,
		Logger:      logger,
	})

	ready := func() error {
		if !conn.IsConnected() {
			return mq.ErrNoChannel
		}
		return nil
	}
	go func() {
		if err := app.ServeHTTP(ctx, config.Addr(cfg.Ports.Worker), telemetry.OpsMux(ready), logger); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if err := w.Serve(ctx); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info(service + " stopped")
}
