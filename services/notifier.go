package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"price_alert_backend/metrics"
)

// Notifier delivers a human-readable message to an external channel.
// Delivery is best-effort: no retry, no queueing.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Compile-time checks
var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*KafkaNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*NotificationDispatcher)(nil)
)

// WebhookNotifier posts {"content": message} to a Discord-style webhook
type WebhookNotifier struct {
	url    string
	client *resty.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: resty.New().SetTimeout(timeout),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, message string) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"content": message}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	// Discord answers 204 No Content
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the notifier needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes each notification as one message on a topic
type KafkaNotifier struct {
	writer MessageWriter
	key    []byte
}

type kafkaNotification struct {
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// NewKafkaNotifier creates a synchronous writer for topic. key is the message key
// (the tracked symbol) so all notifications land on one partition in order.
func NewKafkaNotifier(brokers []string, topic, key string) *KafkaNotifier {
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}, key)
}

func NewKafkaNotifierWithWriter(w MessageWriter, key string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, key: []byte(key)}
}

func (n *KafkaNotifier) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(kafkaNotification{Content: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: n.key, Value: payload}); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier writes notifications to the log, used when no channel is configured
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.logger.Info("Price alert", zap.String("message", message))
	return nil
}

// Channel is a named notification backend
type Channel struct {
	Name     string
	Notifier Notifier
}

// NotificationDispatcher fans a message out to every channel. It reports a
// joined error when any channel fails and never panics past Notify.
type NotificationDispatcher struct {
	channels []Channel
	logger   *zap.Logger
}

func NewNotificationDispatcher(logger *zap.Logger, channels ...Channel) *NotificationDispatcher {
	return &NotificationDispatcher{channels: channels, logger: logger.Named("dispatcher")}
}

func (d *NotificationDispatcher) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, ch := range d.channels {
		if err := d.send(ctx, ch, message); err != nil {
			metrics.Notifications.WithLabelValues(ch.Name, metrics.ResultFailure).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			continue
		}
		metrics.Notifications.WithLabelValues(ch.Name, metrics.ResultSuccess).Inc()
		d.logger.Debug("Notification sent", zap.String("channel", ch.Name))
	}
	return errors.Join(errs...)
}

func (d *NotificationDispatcher) send(ctx context.Context, ch Channel, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return ch.Notifier.Notify(ctx, message)
}
