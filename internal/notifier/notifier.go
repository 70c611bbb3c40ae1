// Package notifier contains the push transports that deliver notifications
// produced by the services package.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"boutique/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
)

// Publisher sends a raw message body to a queue. *rabbitmq.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// AMQPDispatcher queues pushes on RabbitMQ as JSON.
type AMQPDispatcher struct {
	pub Publisher
}

// NewAMQPDispatcher creates a new AMQPDispatcher.
func NewAMQPDispatcher(pub Publisher) *AMQPDispatcher {
	return &AMQPDispatcher{pub: pub}
}

func (d *AMQPDispatcher) Name() string { return "amqp" }

// Dispatch publishes msg to the queue.
func (d *AMQPDispatcher) Dispatch(ctx context.Context, msg models.PushMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}
	if err := d.pub.Publish(ctx, body); err != nil {
		return fmt.Errorf("amqp: %w", err)
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the dispatcher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer that keys messages onto partitions by hash.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaDispatcher writes pushes to a Kafka topic keyed by user, so one user's
// pushes stay ordered on a single partition.
type KafkaDispatcher struct {
	w MessageWriter
}

// NewKafkaDispatcher creates a new KafkaDispatcher.
func NewKafkaDispatcher(w MessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{w: w}
}

func (d *KafkaDispatcher) Name() string { return "kafka" }

// Dispatch writes msg to the topic and waits for the broker acknowledgement.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg models.PushMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}
	err = d.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.UserID),
		Value: body,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
			{Key: "notification_id", Value: []byte(msg.NotificationID)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (d *KafkaDispatcher) Close() error {
	return d.w.Close()
}

// LogDispatcher writes pushes to the process log.
type LogDispatcher struct{}

func (LogDispatcher) Name() string { return "log" }

// Dispatch logs msg.
func (LogDispatcher) Dispatch(_ context.Context, msg models.PushMessage) error {
	log.Printf("[PUSH] user=%s notification=%s type=%s title=%q url=%s", msg.UserID, msg.NotificationID, msg.Type, msg.Title, msg.URL)
	return nil
}

// Gateway delivers a push to the user's devices.
type Gateway interface {
	Dispatch(ctx context.Context, msg models.PushMessage) error
}

// PushWorker consumes queued pushes and hands them to a gateway.
type PushWorker struct {
	gateway Gateway
	timeout time.Duration
}

// NewPushWorker creates a new PushWorker.
func NewPushWorker(gateway Gateway, timeout time.Duration) *PushWorker {
	return &PushWorker{gateway: gateway, timeout: timeout}
}

// Handle decodes one delivery and forwards it. It is meant for rabbitmq.Client.Consume.
func (w *PushWorker) Handle(msg amqp.Delivery) error {
	var push models.PushMessage
	if err := json.Unmarshal(msg.Body, &push); err != nil {
		return fmt.Errorf("failed to decode push message: %w", err)
	}
	if push.UserID == "" {
		return fmt.Errorf("push message %d has no user", msg.DeliveryTag)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.gateway.Dispatch(ctx, push)
}
