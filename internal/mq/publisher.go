package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeExecutionPending  MessageType = "execution.pending"
	MessageTypeExecutionFinished MessageType = "execution.finished"
	MessageTypeTrigger           MessageType = "trigger"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionPendingPayload — execution создан или ждёт продвижения.
type ExecutionPendingPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// ExecutionFinishedPayload — execution достиг терминального статуса.
type ExecutionFinishedPayload struct {
	ExecutionID uuid.UUID              `json:"execution_id"`
	Pipeline    string                 `json:"pipeline"`
	Status      domain.ExecutionStatus `json:"status"`
	LastStage   string                 `json:"last_stage,omitempty"`
	FailedStage string                 `json:"failed_stage,omitempty"`
	Error       string                 `json:"error,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
}

// FinishedPayload строит событие завершения из execution.
func FinishedPayload(exec *domain.Execution) ExecutionFinishedPayload {
	return ExecutionFinishedPayload{
		ExecutionID: exec.ID,
		Pipeline:    exec.Pipeline,
		Status:      exec.Status,
		LastStage:   exec.LastStage,
		FailedStage: exec.FailedStage,
		Error:       exec.Error,
		FinishedAt:  exec.FinishedAt,
	}
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// newMessage оборачивает payload в конверт.
func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
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

// PublishExecutionPending будит оркестратор для execution.
// Потребитель: Orchestrator.
func (p *Publisher) PublishExecutionPending(ctx context.Context, executionID uuid.UUID) error {
	msg := newMessage(MessageTypeExecutionPending, ExecutionPendingPayload{ExecutionID: executionID})
	return p.Publish(ctx, ExchangeExecutions, RoutingKeyPending, msg)
}

// PublishExecutionFinished сообщает о терминальном статусе execution.
func (p *Publisher) PublishExecutionFinished(ctx context.Context, exec *domain.Execution) error {
	msg := newMessage(MessageTypeExecutionFinished, FinishedPayload(exec))
	return p.Publish(ctx, ExchangeExecutions, RoutingKeyFinished, msg)
}

// PublishTrigger публикует внешний триггер.
// Потребитель: Orchestrator (triggers.inbound).
func (p *Publisher) PublishTrigger(ctx context.Context, trigger domain.Trigger) error {
	msg := newMessage(MessageTypeTrigger, trigger)
	return p.Publish(ctx, ExchangeTriggers, RoutingKeyInbound, msg)
}
