package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeExecutions Exchange = "conveyor.executions"
	ExchangeTriggers   Exchange = "conveyor.triggers"
	ExchangeDLQ        Exchange = "conveyor.dlq"
)

// Queues — имена очередей.
const (
	QueueExecutionsPending  Queue = "executions.pending"
	QueueExecutionsFinished Queue = "executions.finished"
	QueueTriggersInbound    Queue = "triggers.inbound"
	QueueDLQTriggers        Queue = "dlq.triggers"
)

// Routing keys.
const (
	RoutingKeyPending     RoutingKey = "pending"
	RoutingKeyFinished    RoutingKey = "finished"
	RoutingKeyInbound     RoutingKey = "inbound"
	RoutingKeyDLQTriggers RoutingKey = "triggers"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// topology — полный набор объявлений Conveyor.
func topology() ([]exchangeDecl, []queueDecl, []bindingDecl) {
	exchanges := []exchangeDecl{
		{ExchangeExecutions, amqp.ExchangeDirect},
		{ExchangeTriggers, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	// Некорректные триггеры уходят в DLQ для ручного разбора
	triggerArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTriggers),
	}

	queues := []queueDecl{
		{QueueExecutionsPending, nil},
		{QueueExecutionsFinished, nil},
		{QueueTriggersInbound, triggerArgs},
		{QueueDLQTriggers, nil},
	}

	bindings := []bindingDecl{
		{QueueExecutionsPending, RoutingKeyPending, ExchangeExecutions},
		{QueueExecutionsFinished, RoutingKeyFinished, ExchangeExecutions},
		{QueueTriggersInbound, RoutingKeyInbound, ExchangeTriggers},
		{QueueDLQTriggers, RoutingKeyDLQTriggers, ExchangeDLQ},
	}

	return exchanges, queues, bindings
}

// SetupTopology объявляет exchanges, очереди и привязки.
// Объявления идемпотентны, поэтому каждый процесс вызывает SetupTopology при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	exchanges, queues, bindings := topology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
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
  Conveyor RabbitMQ Topology:

    conveyor.triggers (direct)
    └── triggers.inbound [routing: inbound]
            Consumer: Orchestrator
            DLQ: dlq.triggers

    conveyor.executions (direct)
    ├── executions.pending [routing: pending]
    │       Consumer: Orchestrator
    └── executions.finished [routing: finished]
            Consumer: downstream systems

    conveyor.dlq (direct)
    └── dlq.triggers [routing: triggers]
            Manual processing
  `
}
