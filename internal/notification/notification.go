package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	KindTransferSent      = "transfer_sent"
	KindTransferReceived  = "transfer_received"
	KindDepositCredited   = "deposit_credited"
	KindWithdrawalSettled = "withdrawal_completed"
	KindWithdrawalRefund  = "withdrawal_refunded"

	// Channel is the Redis pub/sub channel notifications are published on.
	Channel = "wallet:notifications"
)

// Message describes a notification payload. Destination is the owning user id.
type Message struct {
	Kind          string    `json:"kind"`
	Destination   string    `json:"destination"`
	Body          string    `json:"body"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// Notifier delivers notifications to downstream systems. Delivery is best effort and
// never affects the outcome of a money movement.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// RedisNotifier publishes JSON messages for downstream push/email workers.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: Channel}
}

func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Dispatch sends message and only logs a failure.
func Dispatch(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil && logger != nil {
		logger.Warn("notification not delivered", slog.String("kind", message.Kind), slog.Any("error", err))
	}
}
