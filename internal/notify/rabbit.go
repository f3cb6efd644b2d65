package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitSender publishes every message to a topic exchange with the
// message topic as routing key.
type RabbitSender struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewRabbitSender(url, exchange string) (*RabbitSender, error) {
	const op = "notify.NewRabbitSender"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: dial rabbitmq: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: open channel: %w", op, err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: declare exchange: %w", op, err)
	}

	return &RabbitSender{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *RabbitSender) Send(ctx context.Context, msg Message) error {
	const op = "notify.RabbitSender.Send"

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.ch.PublishWithContext(ctx, s.exchange, string(msg.Topic), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *RabbitSender) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
