// mm-trigger — Lambda, запускающая workflow.
//
// TRIGGER_EVENT_SOURCE выбирает форму события:
//   - invoke          — прямой вызов, ответ {"run_id": "..."}
//   - cloudformation  — custom resource, run на Create и Update
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shaiso/metamigrate/internal/app"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/trigger"
)

const service = "mm-trigger"

func main() {
	cfg, logger, flush, err := app.Bootstrap(service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] config: %v\n", service, err)
		os.Exit(1)
	}
	defer flush()

	// Соединения живут между вызовами одного экземпляра Lambda.
	ctx := context.Background()

	pool, err := app.OpenDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	runRepo := repo.NewRunRepo(pool)

	publisher, closeMQ := app.PendingPublisher(ctx, cfg, service, logger)
	defer closeMQ()

	h := trigger.NewHandler(trigger.NewSubmitter(runRepo, publisher, logger), logger)

	logger.Info("starting "+service, "event_source", cfg.Trigger.EventSource)
	switch cfg.Trigger.EventSource {
	case trigger.SourceCloudFormation:
		lambda.Start(cfn.LambdaWrap(h.HandleCustomResource))
	default:
		lambda.Start(h.HandleInvoke)
	}
}
