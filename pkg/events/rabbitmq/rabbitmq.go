package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"

	amqp "github.com/rabbitmq/amqp091-go" // RabbitMQ client
)

const (
	// DefaultExchange is used when no exchange name is configured.
	DefaultExchange = "test_sessions_events"
	// Topic exchange so consumers can bind on "session.*" or "#".
	exchangeType    = "topic"
	contentTypeJSON = "application/json"
	publishTimeout  = 5 * time.Second
)

var (
	_ events.Publisher  = (*Broker)(nil)
	_ events.Subscriber = (*Broker)(nil)
)

// Broker publishes session events to a topic exchange and pulls them back for consumers.
type Broker struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
	// Queues already declared and bound by this process.
	declaredQueues sync.Map // map[string]bool
	mu             sync.Mutex
}

// deliveryAckNacker settles one delivery on the channel it was received on.
type deliveryAckNacker struct {
	deliveryTag uint64
	channel     *amqp.Channel
	logger      *slog.Logger
	closed      bool
	mu          sync.Mutex
}

// Ack acknowledges the message and closes its channel. Idempotent.
func (a *deliveryAckNacker) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Ack already settled delivery", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Ack(a.deliveryTag, false)
	if err != nil {
		a.logger.Error("Failed to ACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.String("error", err.Error()))
		return err
	}
	a.closed = true
	return a.channel.Close()
}

// Nack rejects the message and closes its channel. Idempotent.
func (a *deliveryAckNacker) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Attempted to Nack already settled delivery", slog.Uint64("deliveryTag", a.deliveryTag))
		return nil
	}
	err := a.channel.Nack(a.deliveryTag, false, requeue)
	if err != nil {
		a.logger.Error("Failed to NACK message", slog.Uint64("deliveryTag", a.deliveryTag), slog.Bool("requeue", requeue), slog.String("error", err.Error()))
		return err
	}
	a.closed = true
	return a.channel.Close()
}

// NewBroker connects to RabbitMQ and declares the events exchange.
func NewBroker(url, exchange string, logger *slog.Logger) (*Broker, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")

	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	go func() {
		amqpErr := <-closeChan
		if amqpErr != nil {
			logger.Error("RabbitMQ connection closed unexpectedly", slog.String("error", amqpErr.Error()))
		} else {
			logger.Info("RabbitMQ connection closed normally")
		}
	}()

	b := &Broker{conn: conn, exchange: exchange, logger: logger}
	if err := b.declareExchange(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// declareExchange ensures the events exchange exists. Uses a temporary channel.
func (b *Broker) declareExchange() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for exchange declare: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		b.exchange,   // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", b.exchange, err)
	}
	b.logger.Info("Declared exchange", slog.String("exchange", b.exchange))
	return nil
}

// Close closes the RabbitMQ connection.
func (b *Broker) Close() error {
	b.logger.Info("Closing RabbitMQ connection")
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			b.logger.Error("Failed to close RabbitMQ connection", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}

// Publish sends the event with its type as routing key.
func (b *Broker) Publish(ctx context.Context, event events.Event) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for publish: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		b.exchange, // exchange
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			Body:         body,
			MessageId:    event.ID,
		})
	if err != nil {
		return fmt.Errorf("failed to publish event '%s': %w", event.Type, err)
	}

	b.logger.Debug("Published event",
		slog.String("event_id", event.ID),
		slog.String("type", event.Type),
		slog.Int64("session_id", event.SessionID),
	)
	return nil
}

// DeclareQueue ensures a durable queue exists and is bound with the given pattern.
func (b *Broker) DeclareQueue(queue, bindingKey string) error {
	if _, loaded := b.declaredQueues.Load(queue); loaded {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, loaded := b.declaredQueues.Load(queue); loaded {
		return nil
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for queue declare: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", queue, err)
	}

	if bindingKey == "" {
		bindingKey = "#"
	}
	if err = ch.QueueBind(queue, bindingKey, b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", queue, b.exchange, err)
	}

	b.declaredQueues.Store(queue, true)
	b.logger.Info("Declared and bound queue",
		slog.String("queue", queue),
		slog.String("binding_key", bindingKey),
		slog.String("exchange", b.exchange))
	return nil
}

// Next pulls one event from the queue. The returned AckNacker owns the channel
// used for the pull and closes it once settled.
func (b *Broker) Next(ctx context.Context, queue string) (*events.Event, events.AckNacker, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open channel for Next: %w", err)
	}
	if err = ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msg, ok, err := ch.Get(queue, false) // autoAck = false
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to get message from queue '%s': %w", queue, err)
	}
	if !ok {
		ch.Close()
		return nil, nil, nil
	}

	ackNacker := &deliveryAckNacker{
		deliveryTag: msg.DeliveryTag,
		channel:     ch,
		logger:      b.logger.With(slog.String("event_id", msg.MessageId)),
	}

	var event events.Event
	if err = json.Unmarshal(msg.Body, &event); err != nil {
		b.logger.Error("Failed to unmarshal event",
			slog.String("queue", queue),
			slog.String("message_id", msg.MessageId),
			slog.String("error", err.Error()),
		)
		_ = ackNacker.Nack(false)
		return nil, nil, fmt.Errorf("failed to parse event message: %w", err)
	}
	return &event, ackNacker, nil
}

// QueueSize returns the number of messages waiting in the queue. A missing queue has size 0.
func (b *Broker) QueueSize(queue string) (int, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		if b.conn.IsClosed() {
			return 0, fmt.Errorf("connection is not open")
		}
		return 0, fmt.Errorf("failed to open temporary channel for queue size check: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to passively declare queue '%s' to get size: %w", queue, err)
	}
	return q.Messages, nil
}
