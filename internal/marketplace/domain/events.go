package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// 领域事件类型
const (
	EventBidPlaced             = "bid.placed"
	EventBidReceived           = "bid.received"
	EventBidOutbid             = "bid.outbid"
	EventDepositReleased       = "deposit.released"
	EventDepositBurned         = "deposit.burned"
	EventAuctionCancelled      = "auction.cancelled"
	EventAuctionResolved       = "auction.resolved"
	EventWinnerPaymentRequired = "winner.payment_required"
	EventWinnerPaymentFailed   = "winner.payment_failed"
	EventWinnerPromoted        = "winner.promoted"
	EventWinnerPaid            = "winner.paid"
	EventOrderCreated          = "order.created"
	EventDocumentSubmitted     = "order.document_submitted"
	EventDocumentRejected      = "order.document_rejected"
	EventCodeSent              = "order.code_sent"
	EventProblemReported       = "order.problem_reported"
	EventOrderCompleted        = "order.completed"
	EventOrderCancelled        = "order.cancelled"
	EventSellerPenalized       = "seller.penalized"
	EventEscrowCreated         = "escrow.created"
	EventEscrowWithdrawn       = "escrow.withdrawn"
	EventEscrowCancelled       = "escrow.cancelled"
	EventFundsTopUp            = "account.top_up"
)

// Severity 通知级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event 领域事件，由命令执行后返回，提交后交给分发器投递
type Event struct {
	Type       string
	AccountID  string
	Title      string
	Body       string
	Severity   Severity
	Reference  string
	OccurredAt time.Time
}

// NewEvent 创建事件
func NewEvent(typ, accountID, reference string, sev Severity, title, body string) Event {
	return Event{
		Type:      typ,
		AccountID: accountID,
		Title:     title,
		Body:      body,
		Severity:  sev,
		Reference: reference,
	}
}

// Notification 投递给外部通知服务的消息
type Notification struct {
	AccountID string   `json:"account_id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Severity  Severity `json:"severity"`
	EventType string   `json:"event_type"`
	Reference string   `json:"reference"`
}

// Notifier 通知服务（fire-and-forget，失败不影响已提交的业务事务）
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OutboxStatus 发件箱消息状态
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
)

// OutboxMessage 与业务数据同事务落库的待投递事件
type OutboxMessage struct {
	gorm.Model
	MessageID  string       `gorm:"column:message_id;type:varchar(64);uniqueIndex;not null" json:"message_id"`
	EventType  string       `gorm:"column:event_type;type:varchar(64);index;not null" json:"event_type"`
	AccountID  string       `gorm:"column:account_id;type:varchar(64);index;not null" json:"account_id"`
	Title      string       `gorm:"column:title;type:varchar(128)" json:"title"`
	Body       string       `gorm:"column:body;type:text" json:"body"`
	Severity   Severity     `gorm:"column:severity;type:varchar(16);not null" json:"severity"`
	Reference  string       `gorm:"column:reference;type:varchar(64)" json:"reference"`
	Status     OutboxStatus `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	Attempts   int          `gorm:"column:attempts;default:0;not null" json:"attempts"`
	LastError  string       `gorm:"column:last_error;type:varchar(512)" json:"last_error"`
	OccurredAt time.Time    `gorm:"column:occurred_at;not null" json:"occurred_at"`
	SentAt     *time.Time   `gorm:"column:sent_at" json:"sent_at"`
}

// TableName 表名
func (OutboxMessage) TableName() string {
	return "marketplace_outbox"
}

// Notification 转换为通知
func (m *OutboxMessage) Notification() Notification {
	return Notification{
		AccountID: m.AccountID,
		Title:     m.Title,
		Body:      m.Body,
		Severity:  m.Severity,
		EventType: m.EventType,
		Reference: m.Reference,
	}
}

// OutboxRepository 发件箱仓储接口
type OutboxRepository interface {
	Append(ctx context.Context, msgs ...*OutboxMessage) error
	ListPending(ctx context.Context, limit int) ([]*OutboxMessage, error)
	MarkSent(ctx context.Context, messageID string, at time.Time) error
	MarkFailed(ctx context.Context, messageID string, reason string) error
}
