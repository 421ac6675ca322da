package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"heart-risk-predictor/internal/models"
)

// EventPredictionCompleted is the message type of published predictions.
const EventPredictionCompleted = "prediction.completed"

// Publisher is the part of *amqp.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPRecorder publishes a persistent prediction.completed message to a
// queue through the default exchange.
type AMQPRecorder struct {
	mu        sync.Mutex
	publisher Publisher
	queue     string
}

func NewAMQPRecorder(publisher Publisher, queue string) *AMQPRecorder {
	return &AMQPRecorder{publisher: publisher, queue: queue}
}

func (r *AMQPRecorder) Name() string { return "amqp" }

func (r *AMQPRecorder) Record(ctx context.Context, event *models.PredictionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.RequestID,
		Type:          EventPredictionCompleted,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}

	// amqp091 channels must not be published to concurrently.
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.publisher.PublishWithContext(ctx,
		"",      // default exchange
		r.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		msg,
	); err != nil {
		return fmt.Errorf("publish %s: %w", r.queue, err)
	}
	return nil
}
