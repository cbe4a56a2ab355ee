// mm-orchestrator — ведёт runs бэкапа и миграции по таблице переходов.
//
// Orchestrator:
//   - Получает run.pending и step.completed из RabbitMQ
//   - Выдаёт вызовы шагов (step.ready) воркерам
//   - Закрывает просроченные шаги с STEP_TIMEOUT
//   - Публикует смену состояний в EventBridge (если задан EVENT_BUS_NAME)
//
// С ORCH_LOCAL_WORKER=true шаги выполняются в этом же процессе без
// RabbitMQ, а API обслуживается на том же порту.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/metamigrate/internal/api"
	"github.com/shaiso/metamigrate/internal/app"
	"github.com/shaiso/metamigrate/internal/awsclient"
	"github.com/shaiso/metamigrate/internal/config"
	"github.com/shaiso/metamigrate/internal/events"
	"github.com/shaiso/metamigrate/internal/mq"
	"github.com/shaiso/metamigrate/internal/orchestrator"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/worker"
)

const service = "mm-orchestrator"

func main() {
	cfg, logger, flush, err := app.Bootstrap(service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] config: %v\n", service, err)
		os.Exit(1)
	}
	defer flush()
	logger.Info("starting "+service, "local_worker", cfg.Orchestrator.LocalWorker)

	if err := cfg.RequireTargets(); err != nil {
		logger.Error("step targets are not configured", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := app.OpenDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	runRepo := repo.NewRunRepo(pool)

	awsCfg, err := awsclient.Load(ctx, cfg.AWSRegion)
	if err != nil {
		logger.Error("failed to load aws config", "error", err)
		os.Exit(1)
	}
	clients := awsclient.New(awsCfg)

	var notifier orchestrator.Notifier = events.Nop{}
	if cfg.Events.BusName != "" {
		notifier = events.NewEventBridgeNotifier(events.Config{
			Client: clients.EventBridge,
			Bus:    cfg.Events.BusName,
			Source: cfg.Events.Source,
			Logger: logger,
		})
		logger.Info("publishing state changes", "bus", cfg.Events.BusName)
	}

	orchCfg := orchestrator.Config{
		Store:        runRepo,
		Notifier:     notifier,
		Plan:         app.Plan(cfg),
		PollInterval: cfg.Orchestrator.PollInterval,
		BatchSize:    cfg.Orchestrator.BatchSize,
		TimeoutGrace: cfg.Orchestrator.TimeoutGrace,
		Logger:       logger,
	}

	var local *worker.Local
	if cfg.Orchestrator.LocalWorker {
		registry := worker.NewDefaultRegistry(clients.SFN, clients.Lambda, nil, cfg.Worker.SFNPollInterval)
		local = worker.NewLocal(registry, logger)
		orchCfg.Dispatcher = local
	} else {
		conn, err := app.OpenMQ(ctx, cfg, service, logger)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		publisher := mq.NewPublisher(conn, logger)
		orchCfg.Dispatcher = orchestrator.DispatchFunc(publisher.PublishStepReady)
		orchCfg.Conn = conn
	}

	orch := orchestrator.New(orchCfg)

	mux := telemetry.OpsMux(app.PoolReady(pool))
	if local != nil {
		local.Attach(orch)
		defer local.Wait()

		api.NewHandler(api.Config{Runs: runRepo, Starter: orch, Logger: logger}).RegisterRoutes(mux)
	}

	go func() {
		if err := app.ServeHTTP(ctx, config.Addr(cfg.Ports.Orchestrator), mux, logger); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	if err := orch.Serve(ctx); err != nil {
		logger.Error("orchestrator failed", "error", err)
		os.Exit(1)
	}
	logger.Info(service + " stopped")
}
