package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer listens to the message.sent queue and appends one line per
// event to a log file.
type Consumer struct {
	url     string
	logPath string
	logger  *zap.Logger
}

func NewConsumer(url, logPath string, logger *zap.Logger) *Consumer {
	if logPath == "" {
		logPath = filepath.Join("logs", "messages.log")
	}
	return &Consumer{url: url, logPath: logPath, logger: logger}
}

// Run dials the broker and consumes until ctx is cancelled, reconnecting
// with backoff whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("message-consumer: dial failed, retrying", zap.Duration("in", backoff), zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("message-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("message-consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(MessageSentQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, MessageSentQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.handle(d.Body); err != nil {
			c.logger.Warn("message-consumer: handle message failed", zap.Error(err))
			_ = d.Nack(false, false) // drop, no requeue
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (c *Consumer) handle(body []byte) error {
	var ev MessageSentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.MessageID == 0 {
		return errors.New("event without message_id")
	}
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev MessageSentEvent) string {
	return fmt.Sprintf("[%s] Message sent | message_id=%d | project_id=%d | audience=%s | created_by=%d | scheduled=%t | title=%q\n",
		ev.SentAt, ev.MessageID, ev.ProjectID, ev.Audience, ev.CreatedBy, ev.Scheduled, ev.Title)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
