// Package events публикует изменения состояния runs в AWS EventBridge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/shaiso/metamigrate/internal/domain"
)

const (
	// DetailType — detail-type события смены состояния.
	DetailType = "WorkflowRunStateChange"

	// DefaultSource — source событий по умолчанию.
	DefaultSource = "orcabus.metadatamigrate"

	defaultBus = "default"
)

// PutEventsAPI — часть клиента EventBridge, нужная notifier'у.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// StateChange — detail события.
type StateChange struct {
	RunID       string          `json:"runId"`
	State       domain.RunState `json:"state"`
	FromState   domain.RunState `json:"fromState"`
	DisplayName string          `json:"displayName"`
	Database    string          `json:"database,omitempty"`
	Source      string          `json:"source,omitempty"`
	CurrentStep domain.StepName `json:"currentStep,omitempty"`
	FailedStep  domain.StepName `json:"failedStep,omitempty"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewStateChange собирает detail из run.
func NewStateChange(run *domain.Run, from domain.RunState) StateChange {
	return StateChange{
		RunID:       run.ID.String(),
		State:       run.State,
		FromState:   from,
		DisplayName: run.State.DisplayName(),
		Database:    run.Input.Database,
		Source:      run.Input.Source,
		CurrentStep: run.CurrentStep,
		FailedStep:  run.FailedStep,
		ErrorCode:   string(run.ErrorCode),
		Error:       run.Error,
		Timestamp:   time.Now().UTC(),
	}
}

// EventBridgeNotifier отправляет StateChange на шину EventBridge.
type EventBridgeNotifier struct {
	client PutEventsAPI
	bus    string
	source string
	logger *slog.Logger
}

// Config — конфигурация EventBridgeNotifier.
type Config struct {
	Client PutEventsAPI
	Bus    string // default: "default"
	Source string // default: DefaultSource
	Logger *slog.Logger
}

// NewEventBridgeNotifier создаёт notifier.
func NewEventBridgeNotifier(cfg Config) *EventBridgeNotifier {
	bus := cfg.Bus
	if bus == "" {
		bus = defaultBus
	}
	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBridgeNotifier{client: cfg.Client, bus: bus, source: source, logger: logger}
}

// RunStateChanged публикует событие перехода.
func (n *EventBridgeNotifier) RunStateChanged(ctx context.Context, run *domain.Run, from domain.RunState) error {
	detail, err := json.Marshal(NewStateChange(run, from))
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}

	out, err := n.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(n.bus),
			Source:       aws.String(n.source),
			DetailType:   aws.String(DetailType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(time.Now()),
			Resources:    []string{run.ID.String()},
		}},
	})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	if out.FailedEntryCount > 0 {
		msg := "unknown"
		if len(out.Entries) > 0 {
			msg = aws.ToString(out.Entries[0].ErrorCode) + ": " + aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("event rejected by bus %s: %s", n.bus, msg)
	}

	n.logger.Debug("state change published", "run_id", run.ID, "state", run.State, "bus", n.bus)
	return nil
}

// Nop — notifier, который ничего не делает. Используется, когда шина не задана.
type Nop struct{}

// RunStateChanged ничего не делает.
func (Nop) RunStateChanged(context.Context, *domain.Run, domain.RunState) error { return nil }
