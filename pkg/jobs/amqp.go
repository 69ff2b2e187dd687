package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/treeline-ai/treeline/pkg/config"
)

// amqpBus implements Bus on RabbitMQ. Each consumer runs with the
// configured prefetch (default 1) so a worker never holds more jobs
// than it can process.
type amqpBus struct {
	conn        *amqp.Connection
	ingestQueue string
	queryQueue  string
	prefetch    int
}

// NewAMQP connects to RabbitMQ and declares the durable job queues.
func NewAMQP(cfg config.BrokerConfig) (Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	for _, queue := range []string{cfg.IngestQueue, cfg.QueryQueue} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	return &amqpBus{
		conn:        conn,
		ingestQueue: cfg.IngestQueue,
		queryQueue:  cfg.QueryQueue,
		prefetch:    cfg.Prefetch,
	}, nil
}

func (b *amqpBus) ConsumeIngest(ctx context.Context, handler IngestHandler) error {
	return b.consume(ctx, b.ingestQueue, func(ctx context.Context, body []byte) error {
		var job IngestJob
		if err := json.Unmarshal(body, &job); err != nil {
			return &envelopeError{err: err}
		}
		if job.DocumentID == "" {
			return &envelopeError{err: fmt.Errorf("missing document_id")}
		}
		return handler(ctx, job)
	})
}

func (b *amqpBus) ConsumeQuery(ctx context.Context, handler QueryHandler) error {
	return b.consume(ctx, b.queryQueue, func(ctx context.Context, body []byte) error {
		var job QueryJob
		if err := json.Unmarshal(body, &job); err != nil {
			return &envelopeError{err: err}
		}
		if job.QueryID == "" {
			return &envelopeError{err: fmt.Errorf("missing query_id")}
		}
		return handler(ctx, job)
	})
}

// envelopeError marks a message whose JSON cannot be decoded. Such
// messages are rejected without requeue; everything else is
// acknowledged even when the handler errors, because the failure is
// already recorded in the stores and redelivery would loop.
type envelopeError struct {
	err error
}

func (e *envelopeError) Error() string { return fmt.Sprintf("bad job envelope: %v", e.err) }
func (e *envelopeError) Unwrap() error { return e.err }

func (b *amqpBus) consume(ctx context.Context, queue string, handle func(context.Context, []byte) error) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for %s: %w", queue, err)
	}
	defer ch.Close()

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	slog.Info("Consuming queue", "queue", queue, "prefetch", b.prefetch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			err := handle(ctx, delivery.Body)
			var envErr *envelopeError
			if errors.As(err, &envErr) {
				slog.Error("Rejecting undecodable job", "queue", queue, "error", err)
				if rejectErr := delivery.Reject(false); rejectErr != nil {
					slog.Error("Failed to reject delivery", "queue", queue, "error", rejectErr)
				}
				continue
			}
			if err != nil {
				slog.Error("Job handler failed", "queue", queue, "error", err)
			}
			if ackErr := delivery.Ack(false); ackErr != nil {
				slog.Error("Failed to ack delivery", "queue", queue, "error", ackErr)
			}
		}
	}
}

func (b *amqpBus) PublishIngest(ctx context.Context, job IngestJob) error {
	return b.publish(ctx, b.ingestQueue, job)
}

func (b *amqpBus) PublishQuery(ctx context.Context, job QueryJob) error {
	return b.publish(ctx, b.queryQueue, job)
}

func (b *amqpBus) publish(ctx context.Context, queue string, job any) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for publish: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

func (b *amqpBus) Close() error {
	return b.conn.Close()
}
