// Package trigger — точки входа, запускающие workflow.
//
// Trigger fire-and-forget: запускает ровно один новый run и сразу
// возвращает его ID, не дожидаясь завершения. Параллельные вызовы
// дают независимые runs.
package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
)

// Источники запуска.
const (
	SourceInvoke         = "invoke"
	SourceCloudFormation = "cloudformation"
	SourceAPI            = "api"
	SourceSchedule       = "schedule"
)

// Starter запускает новый run. Реализуется оркестратором и Submitter'ом.
type Starter interface {
	Start(ctx context.Context, input domain.RunInput) (uuid.UUID, error)
}

// Request — вход прямого вызова Lambda. Пустой объект допустим.
type Request struct {
	Database    string `json:"database,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Response — ответ trigger: ID запущенного run.
type Response struct {
	RunID string `json:"run_id"`
}

// Handler обслуживает Lambda события.
type Handler struct {
	starter Starter
	logger  *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(starter Starter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{starter: starter, logger: logger}
}

// HandleInvoke запускает run по прямому вызову.
func (h *Handler) HandleInvoke(ctx context.Context, req Request) (Response, error) {
	id, err := h.starter.Start(ctx, domain.RunInput{
		Database:    req.Database,
		Source:      SourceInvoke,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		return Response{}, fmt.Errorf("start run: %w", err)
	}

	h.logger.Info("run triggered", "run_id", id, "source", SourceInvoke)
	return Response{RunID: id.String()}, nil
}

// HandleCustomResource обслуживает CloudFormation custom resource.
//
// Create и Update запускают run при деплое; атрибут Response содержит
// ID run. Delete ничего не делает. Сигнатура совпадает с
// cfn.CustomResourceFunction, оборачивается через cfn.LambdaWrap.
func (h *Handler) HandleCustomResource(ctx context.Context, event cfn.Event) (string, map[string]interface{}, error) {
	physicalID := event.PhysicalResourceID
	if physicalID == "" {
		physicalID = "metamigrate-" + event.LogicalResourceID
	}

	switch event.RequestType {
	case cfn.RequestDelete:
		h.logger.Info("custom resource deleted, nothing to do", "stack_id", event.StackID)
		return physicalID, nil, nil

	case cfn.RequestCreate, cfn.RequestUpdate:
		database, _ := event.ResourceProperties["Database"].(string)
		id, err := h.starter.Start(ctx, domain.RunInput{
			Database:    database,
			Source:      SourceCloudFormation,
			RequestedBy: event.StackID,
		})
		if err != nil {
			return physicalID, nil, fmt.Errorf("start run: %w", err)
		}

		h.logger.Info("run triggered", "run_id", id, "source", SourceCloudFormation, "request_type", event.RequestType)
		return physicalID, map[string]interface{}{"Response": id.String()}, nil

	default:
		return physicalID, nil, fmt.Errorf("%w: %s", ErrUnsupportedRequest, event.RequestType)
	}
}
