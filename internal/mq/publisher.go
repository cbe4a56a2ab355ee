package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/metamigrate/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

const (
	MessageTypeRunPending    MessageType = "run.pending"
	MessageTypeStepReady     MessageType = "step.ready"
	MessageTypeStepCompleted MessageType = "step.completed"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunPendingPayload — run создан и ждёт старта оркестратором.
type RunPendingPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// StepReadyPayload — вызов шага для воркера.
type StepReadyPayload struct {
	Invocation domain.StepInvocation `json:"invocation"`
}

// StepCompletedPayload — результат шага для оркестратора.
type StepCompletedPayload struct {
	Result domain.StepResult `json:"result"`
}

// Publisher публикует сообщения workflow в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в exchange с routing key.
//
// Сообщения persistent: переживают рестарт брокера.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

func (p *Publisher) publish(ctx context.Context, exchange Exchange, key RoutingKey, typ MessageType, payload any) error {
	return p.Publish(ctx, exchange, key, &Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// PublishRunPending сообщает оркестратору о новом run.
func (p *Publisher) PublishRunPending(ctx context.Context, runID uuid.UUID) error {
	return p.publish(ctx, ExchangeRuns, RoutingKeyPending, MessageTypeRunPending, RunPendingPayload{RunID: runID})
}

// PublishStepReady отправляет вызов шага воркерам.
func (p *Publisher) PublishStepReady(ctx context.Context, inv *domain.StepInvocation) error {
	return p.publish(ctx, ExchangeSteps, RoutingKeyReady, MessageTypeStepReady, StepReadyPayload{Invocation: *inv})
}

// PublishStepCompleted отправляет результат шага оркестратору.
func (p *Publisher) PublishStepCompleted(ctx context.Context, result *domain.StepResult) error {
	return p.publish(ctx, ExchangeSteps, RoutingKeyCompleted, MessageTypeStepCompleted, StepCompletedPayload{Result: *result})
}
