package application

import (
	"context"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// NotificationDispatcher 发件箱投递：读取待发送事件交给 Notifier。
// 投递失败只记录，不回滚业务事务，下一轮继续重试。
type NotificationDispatcher struct {
	outbox   domain.OutboxRepository
	notifier domain.Notifier
	clock    domain.Clock
	exec     *executor
}

// NewNotificationDispatcher 创建通知分发器
func NewNotificationDispatcher(d Dependencies, notifier domain.Notifier) *NotificationDispatcher {
	exec := newExecutor(d)
	return &NotificationDispatcher{
		outbox:   exec.repos.Outbox,
		notifier: notifier,
		clock:    exec.clock,
		exec:     exec,
	}
}

// RelayOutbox 投递一批待发送消息
func (d *NotificationDispatcher) RelayOutbox(ctx context.Context, limit int) (SweepResult, error) {
	start := time.Now()
	var res SweepResult
	msgs, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return res, classify(err)
	}
	for _, m := range msgs {
		err := d.notifier.Notify(ctx, m.Notification())
		d.exec.metrics.ObserveNotification(err)
		if err != nil {
			res.Failed++
			d.exec.logger.WarnContext(ctx, "notification delivery failed", "message_id", m.MessageID, "event_type", m.EventType, "attempts", m.Attempts+1, "error", err)
			if err := d.outbox.MarkFailed(ctx, m.MessageID, err.Error()); err != nil {
				d.exec.logger.ErrorContext(ctx, "failed to record delivery failure", "message_id", m.MessageID, "error", err)
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, m.MessageID, d.clock.Now()); err != nil {
			// 已投递但未标记，下一轮会重复投递
			res.Failed++
			d.exec.logger.ErrorContext(ctx, "failed to mark notification sent", "message_id", m.MessageID, "error", err)
			continue
		}
		res.Processed++
	}
	res.Duration = time.Since(start)
	d.exec.metrics.ObserveSweep("outbox_relay", res.Processed, res.Failed)
	return res, nil
}
