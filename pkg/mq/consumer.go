package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ConsumerConfig struct {
	URL       string
	Exchanges []string
	Queue     string
	Bindings  []string
	Prefetch  int
	// DLX, when set, dead-letters rejected (non-requeued) messages into DLQ.
	DLX string
	DLQ string
	Tag string
}

type Consumer struct {
	cfg  ConsumerConfig
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c := &Consumer{cfg: cfg, conn: conn, ch: ch}
	if err := c.declare(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare() error {
	args := amqp.Table{}
	if c.cfg.DLX != "" {
		args["x-dead-letter-exchange"] = c.cfg.DLX
		if err := c.ch.ExchangeDeclare(c.cfg.DLX, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlx: %w", err)
		}
		if _, err := c.ch.QueueDeclare(c.cfg.DLQ, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq: %w", err)
		}
		if err := c.ch.QueueBind(c.cfg.DLQ, "#", c.cfg.DLX, false, nil); err != nil {
			return fmt.Errorf("bind dlq: %w", err)
		}
	}

	q, err := c.ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	c.cfg.Queue = q.Name

	for _, ex := range c.cfg.Exchanges {
		if err := c.ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
		for _, rk := range c.cfg.Bindings {
			if err := c.ch.QueueBind(q.Name, rk, ex, false, nil); err != nil {
				return fmt.Errorf("bind exchange=%s key=%s: %w", ex, rk, err)
			}
		}
	}

	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 8
	}
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
