package queue

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"pio7/internal/logging"
)

// AMQPQueue publishes to and consumes from a durable RabbitMQ queue.
type AMQPQueue struct {
	url  string
	name string
	log  logging.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ Queue = (*AMQPQueue)(nil)

// NewAMQPQueue connects to the broker at url and declares queue name.
func NewAMQPQueue(url, name string, log logging.Logger) (*AMQPQueue, error) {
	if log == nil {
		log = logging.Nop()
	}
	q := &AMQPQueue{url: url, name: name, log: log}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connectLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *AMQPQueue) connectLocked() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return errors.Wrap(err, "amqp dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "amqp channel")
	}
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "amqp queue declare")
	}
	q.conn, q.ch = conn, ch
	return nil
}

func (q *AMQPQueue) channel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil || q.conn.IsClosed() || q.ch == nil || q.ch.IsClosed() {
		if err := q.connectLocked(); err != nil {
			return nil, err
		}
	}
	return q.ch, nil
}

// Publish sends a persistent message.
func (q *AMQPQueue) Publish(ctx context.Context, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	ch, err := q.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         msg.Type,
		Body:         body,
	})
}

// Consume streams deliveries, reconnecting with backoff when the broker goes
// away. Deliveries are acked once handed to the reader; malformed ones are
// rejected without requeue.
func (q *AMQPQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		backoff := time.Second
		for ctx.Err() == nil {
			if err := q.consumeOnce(ctx, out); err != nil && ctx.Err() == nil {
				q.log.Warn("amqp consume loop ended", "queue", q.name, "err", err, "retry_in", backoff)
				sleep(ctx, backoff)
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
		}
	}()
	return out, nil
}

func (q *AMQPQueue) consumeOnce(ctx context.Context, out chan<- Message) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(50, 0, false); err != nil {
		q.log.Warn("amqp set qos failed", "err", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.name, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "amqp consume")
	}
	for d := range deliveries {
		msg, err := decode(d.Body)
		if err != nil {
			q.log.Error("dropping malformed message", "queue", q.name, "err", err)
			_ = d.Nack(false, false)
			continue
		}
		select {
		case out <- msg:
			_ = d.Ack(false)
		case <-ctx.Done():
			_ = d.Nack(false, true)
			return nil
		}
	}
	return errors.New("deliveries channel closed")
}

// Close releases the channel and connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
