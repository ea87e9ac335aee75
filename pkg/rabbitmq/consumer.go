package rabbitmq

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// settlement is what the consumer does with a delivery once its handler returns.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

// settle decides the fate of a delivery. A message that already failed once is
// dead-lettered instead of being requeued again.
func settle(handled, known, redelivered bool) settlement {
	switch {
	case !known, handled:
		return settleAck
	case redelivered:
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

// DeadLetterQueue names the queue that collects messages rejected from queueName.
func DeadLetterQueue(queueName string) string {
	return queueName + ".dead"
}

// Consumer reads from a durable queue bound to a topic exchange.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, logger: logger.With("component", "rabbitmq_consumer")}, nil
}

// declareDeadLetter sets up a fanout exchange and queue for rejected deliveries of queueName
// and returns the exchange name.
func (c *Consumer) declareDeadLetter(queueName string) (string, error) {
	exchange := queueName + ".dlx"
	if err := c.ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	dead, err := c.ch.QueueDeclare(DeadLetterQueue(queueName), true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := c.ch.QueueBind(dead.Name, "", exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind dead-letter queue: %w", err)
	}
	return exchange, nil
}

// ConsumeWithBindings binds queueName to every routing key in bindings and dispatches each
// delivery to its handler. Unknown routing keys and handled deliveries are acked. A failed
// delivery is requeued once and dead-lettered when it fails again.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]func([]byte) bool) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	deadLetterExchange, err := c.declareDeadLetter(queueName)
	if err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": deadLetterExchange,
	})
	if err != nil {
		return err
	}

	handlers := make(map[string]func([]byte) bool, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	go c.dispatch(q.Name, msgs, handlers)
	return nil
}

func (c *Consumer) dispatch(queueName string, msgs <-chan amqp.Delivery, handlers map[string]func([]byte) bool) {
	for d := range msgs {
		handler, known := handlers[d.RoutingKey]
		handled := known && handler(d.Body)

		switch settle(handled, known, d.Redelivered) {
		case settleAck:
			if !known {
				c.logger.Warn("no handler for routing key; dropping", "routing_key", d.RoutingKey)
			}
			d.Ack(false)
		case settleRequeue:
			c.logger.Warn("handler failed; re-queuing", "routing_key", d.RoutingKey)
			d.Nack(false, true)
		case settleDeadLetter:
			c.logger.Error("handler failed on redelivery; dead-lettering",
				"routing_key", d.RoutingKey,
				"dead_letter_queue", DeadLetterQueue(queueName),
			)
			d.Nack(false, false)
		}
	}
	c.logger.Info("delivery channel closed", "queue", queueName)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
