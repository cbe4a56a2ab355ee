// mm-scheduler — запускает workflow по cron расписанию.
//
// Несколько экземпляров безопасны: тикает только держатель advisory
// lock, а момент расписания превращается в ключ идемпотентности run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/metamigrate/internal/app"
	"github.com/shaiso/metamigrate/internal/config"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/scheduler"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/trigger"
)

const (
	service = "mm-scheduler"

	schedLockKey int64 = 424242
)

func main() {
	cfg, logger, flush, err := app.Bootstrap(service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] config: %v\n", service, err)
		os.Exit(1)
	}
	defer flush()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := app.OpenDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.ServeHTTP(ctx, config.Addr(cfg.Ports.Scheduler), telemetry.OpsMux(app.PoolReady(pool)), logger)
	}()

	if cfg.Schedule.Cron == "" {
		logger.Info("SCHEDULE_CRON is empty, scheduler disabled")
		if err := <-errCh; err != nil {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
		return
	}

	schedule, err := scheduler.ParseSchedule(cfg.Schedule.Cron, cfg.Schedule.Timezone)
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		os.Exit(1)
	}
	logger.Info("starting "+service, "schedule", schedule.String(), "timezone", cfg.Schedule.Timezone)

	publisher, closeMQ := app.PendingPublisher(ctx, cfg, service, logger)
	defer closeMQ()

	runRepo := repo.NewRunRepo(pool)
	s := scheduler.New(scheduler.Config{
		Schedule:  schedule,
		Submitter: trigger.NewSubmitter(runRepo, publisher, logger),
		Lock:      repo.NewAdvisoryLock(pool, schedLockKey),
		History:   runRepo,
		Database:  cfg.Database,
		Tick:      cfg.Schedule.Tick,
		Logger:    logger,
	})

	if err := s.Serve(ctx); err != nil {
		logger.Error("scheduler failed", "error", err)
		os.Exit(1)
	}
	logger.Info(service + " stopped")
}
