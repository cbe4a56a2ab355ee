package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeRuns  Exchange = "metamigrate.runs"
	ExchangeSteps Exchange = "metamigrate.steps"
	ExchangeDLQ   Exchange = "metamigrate.dlq"
)

const (
	QueueRunsPending    Queue = "runs.pending"
	QueueStepsReady     Queue = "steps.ready"
	QueueStepsCompleted Queue = "steps.completed"
	QueueDLQ            Queue = "dlq.workflow"
)

const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyReady     RoutingKey = "ready"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDead      RoutingKey = "dead"
)

// binding описывает очередь и её привязку к exchange.
type binding struct {
	queue      Queue
	exchange   Exchange
	routingKey RoutingKey
	deadLetter bool
}

// topology — все очереди workflow.
//
// Невалидные сообщения из рабочих очередей уходят в dlq.workflow
// для ручного разбора.
var topology = []binding{
	{QueueRunsPending, ExchangeRuns, RoutingKeyPending, true},
	{QueueStepsReady, ExchangeSteps, RoutingKeyReady, true},
	{QueueStepsCompleted, ExchangeSteps, RoutingKeyCompleted, true},
	{QueueDLQ, ExchangeDLQ, RoutingKeyDead, false},
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeRuns, ExchangeSteps, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range topology {
			var args amqp.Table
			if b.deadLetter {
				args = amqp.Table{
					"x-dead-letter-exchange":    string(ExchangeDLQ),
					"x-dead-letter-routing-key": string(RoutingKeyDead),
				}
			}

			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  metamigrate RabbitMQ topology:

    metamigrate.runs (direct)
    └── runs.pending [pending]        consumer: orchestrator

    metamigrate.steps (direct)
    ├── steps.ready [ready]           consumer: worker
    └── steps.completed [completed]   consumer: orchestrator

    metamigrate.dlq (direct)
    └── dlq.workflow [dead]           manual processing
`
}
