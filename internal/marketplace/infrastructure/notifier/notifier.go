// Package notifier 通知投递实现：Kafka 主题与日志
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// MessageSender Kafka 生产者抽象，由 pkg/mq.KafkaProducer 实现
type MessageSender interface {
	SendMessage(ctx context.Context, topic string, key string, value any) error
}

// KafkaNotifier 将通知写入 Kafka，按账户分区保证同一账户的通知有序
type KafkaNotifier struct {
	sender MessageSender
	topic  string
}

// NewKafkaNotifier 创建 Kafka 通知器
func NewKafkaNotifier(sender MessageSender, topic string) *KafkaNotifier {
	return &KafkaNotifier{sender: sender, topic: topic}
}

// Notify 投递通知
func (n *KafkaNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	if msg.AccountID == "" {
		return fmt.Errorf("notification without recipient: %w", domain.ErrInvalidArgument)
	}
	if err := n.sender.SendMessage(ctx, n.topic, msg.AccountID, msg); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrExternalFailure, msg.EventType, err)
	}
	return nil
}

// LogNotifier 未配置 Kafka 时只记录日志
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify 写一条日志
func (n *LogNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	n.logger.InfoContext(ctx, "notification",
		"account_id", msg.AccountID,
		"event_type", msg.EventType,
		"severity", msg.Severity,
		"title", msg.Title,
		"reference", msg.Reference,
	)
	return nil
}
