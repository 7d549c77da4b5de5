package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrReject — сообщение некорректно, повторная доставка не поможет.
// Такое сообщение отклоняется без requeue (уходит в DLQ, если она настроена).
var ErrReject = errors.New("message rejected")

// Reject помечает ошибку обработчика как окончательную.
func Reject(err error) error {
	return fmt.Errorf("%w: %w", ErrReject, err)
}

// Handler — функция обработки сообщения.
type Handler func(ctx context.Context, msg *Message) error

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений для предварительной загрузки.
	Prefetch int
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Run потребляет сообщения до отмены ctx.
// После разрыва соединения ждёт переподключения и продолжает.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("deliveries interrupted, waiting for reconnect")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.settle(raw, c.process(ctx, raw.Body, raw.Redelivered))
		}
	}
}

// ack — решение по доставленному сообщению.
type ack int

const (
	ackDone ack = iota
	ackRequeue
	ackDrop
)

// process разбирает и обрабатывает тело сообщения.
// Ошибка повторной доставки не возвращается в очередь второй раз.
func (c *Consumer) process(ctx context.Context, body []byte, redelivered bool) ack {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", truncate(body, 256))
		return ackDrop
	}

	c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type)

	err := c.handler(ctx, &msg)
	switch {
	case err == nil:
		return ackDone
	case errors.Is(err, ErrReject):
		c.logger.Error("message rejected", "message_id", msg.ID, "type", msg.Type, "error", err)
		return ackDrop
	case redelivered:
		c.logger.Error("handler failed on redelivery, dropping",
			"message_id", msg.ID, "type", msg.Type, "error", err)
		return ackDrop
	default:
		c.logger.Warn("handler failed, requeueing", "message_id", msg.ID, "type", msg.Type, "error", err)
		return ackRequeue
	}
}

func (c *Consumer) settle(raw amqp.Delivery, decision ack) {
	var err error
	switch decision {
	case ackDone:
		err = raw.Ack(false)
	case ackRequeue:
		err = raw.Nack(false, true)
	case ackDrop:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle delivery", "delivery_tag", raw.DeliveryTag, "error", err)
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
