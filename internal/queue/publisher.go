package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// Publisher sends MessageSentEvents to RabbitMQ.  Each publish dials its own
// connection; errors are logged and returned so callers can ignore them
// without interrupting the send.
type Publisher struct {
	url    string
	logger *zap.Logger
}

func NewPublisher(url string, logger *zap.Logger) *Publisher {
	return &Publisher{url: url, logger: logger}
}

// MessageSent publishes the event for m.  Messages are marked persistent.
func (p *Publisher) MessageSent(ctx context.Context, m model.Message) error {
	ev := NewMessageSentEvent(m)
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("rabbitmq: marshal event failed", zap.Error(err))
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(MessageSentQueue, true, false, false, false, nil); err != nil {
		p.logger.Warn("rabbitmq: queue declare failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.DedupKey(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", MessageSentQueue, false, false, pub); err != nil {
		p.logger.Warn("rabbitmq: publish failed", zap.Uint64("message_id", m.ID), zap.Error(err))
		return err
	}
	return nil
}
