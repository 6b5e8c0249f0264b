package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunEnqueued MessageType = "run.enqueued"
	MessageTypeRunLaunch   MessageType = "run.launch"
	MessageTypeRunFinished MessageType = "run.finished"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
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

// RunEnqueuedPayload — payload для сообщения о новом run в очереди.
type RunEnqueuedPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunLaunchPayload — payload для передачи run движку исполнения.
type RunLaunchPayload struct {
	RunID    uuid.UUID         `json:"run_id"`
	Tags     map[string]string `json:"tags,omitempty"`
	Priority int               `json:"priority"`
}

// RunFinishedPayload — payload для события завершения run.
type RunFinishedPayload struct {
	RunID uuid.UUID `json:"run_id"`

	// Status — терминальный статус: SUCCEEDED, FAILED или CANCELED.
	Status string `json:"status"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
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

// PublishRunEnqueued публикует событие о новом run в очереди.
// Потребитель: Coordinator (wake-сигнал).
func (p *Publisher) PublishRunEnqueued(ctx context.Context, runID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunEnqueued,
		Payload:   RunEnqueuedPayload{RunID: runID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyEnqueued, msg)
}

// PublishRunLaunch передаёт захваченный run движку исполнения.
// Потребитель: execution engine.
func (p *Publisher) PublishRunLaunch(ctx context.Context, runID uuid.UUID, tags map[string]string, priority int) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunLaunch,
		Payload:   RunLaunchPayload{RunID: runID, Tags: tags, Priority: priority},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyLaunch, msg)
}

// PublishRunFinished публикует событие о завершении run.
// Потребитель: Coordinator. В production это делает движок исполнения;
// метод используется в интеграционных сценариях и утилитах.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunFinished,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, msg)
}
