package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
	"gorm.io/gorm"
)

// OrderStatus 购买订单状态
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"            // 买家资金已冻结，等待卖家交付
	OrderStatusDocumentSubmitted OrderStatus = "document_submitted" // 卖家已提交证件（已开通线路）
	OrderStatusDocumentRejected  OrderStatus = "document_rejected"  // 证件被驳回，可重新提交
	OrderStatusCodeSent          OrderStatus = "code_sent"          // 卖家已提供激活码（未开通线路）
	OrderStatusVerified          OrderStatus = "verified"           // 交付已确认，等待结算
	OrderStatusCompleted         OrderStatus = "completed"          // 已结算
	OrderStatusCancelled         OrderStatus = "cancelled"          // 交付超时取消
)

// 订单状态机事件
const (
	OrderEventSubmitDocument    = "SUBMIT_DOCUMENT"
	OrderEventApproveDocument   = "APPROVE_DOCUMENT"
	OrderEventRejectDocument    = "REJECT_DOCUMENT"
	OrderEventSendCode          = "SEND_CODE"
	OrderEventVerifyCode        = "VERIFY_CODE"
	OrderEventApproveActivation = "APPROVE_ACTIVATION"
	OrderEventReportProblem     = "REPORT_PROBLEM"
	OrderEventComplete          = "COMPLETE"
	OrderEventExpire            = "EXPIRE"
)

// OrderSource 订单来源
type OrderSource string

const (
	OrderSourceAuction OrderSource = "auction"
	OrderSourceEscrow  OrderSource = "escrow"
	OrderSourceFixed   OrderSource = "fixed"
)

// ActivationCodeLength 激活码位数
const ActivationCodeLength = 6

// PurchaseOrder 购买订单聚合根，决定结算何时可以执行
type PurchaseOrder struct {
	gorm.Model
	OrderID             string          `gorm:"column:order_id;type:varchar(64);uniqueIndex;not null" json:"order_id"`
	ListingID           string          `gorm:"column:listing_id;type:varchar(64);index;not null" json:"listing_id"`
	BuyerID             string          `gorm:"column:buyer_id;type:varchar(64);index;not null" json:"buyer_id"`
	SellerID            string          `gorm:"column:seller_id;type:varchar(64);index;not null" json:"seller_id"`
	LineType            LineType        `gorm:"column:line_type;type:varchar(16);not null" json:"line_type"`
	Source              OrderSource     `gorm:"column:source;type:varchar(16);not null" json:"source"`
	SourceRef           string          `gorm:"column:source_ref;type:varchar(64);index" json:"source_ref"`
	Status              OrderStatus     `gorm:"column:status;type:varchar(24);index;not null" json:"status"`
	Price               decimal.Decimal `gorm:"column:price;type:decimal(20,2);not null" json:"price"`
	CommissionAmount    decimal.Decimal `gorm:"column:commission_amount;type:decimal(20,2);default:0;not null" json:"commission_amount"`
	SellerNetAmount     decimal.Decimal `gorm:"column:seller_net_amount;type:decimal(20,2);default:0;not null" json:"seller_net_amount"`
	BuyerReservedAmount decimal.Decimal `gorm:"column:buyer_reserved_amount;type:decimal(20,2);not null" json:"buyer_reserved_amount"`
	ActivationDeadline  time.Time       `gorm:"column:activation_deadline;index;not null" json:"activation_deadline"`
	Cancelled           bool            `gorm:"column:cancelled;default:false;not null" json:"cancelled"`
	DocumentRef         string          `gorm:"column:document_ref;type:varchar(255)" json:"document_ref"`
	RejectReason        string          `gorm:"column:reject_reason;type:varchar(255)" json:"reject_reason"`
	CompletedAt         *time.Time      `gorm:"column:completed_at" json:"completed_at"`
	Version             int64           `gorm:"column:version;default:0;not null" json:"version"`
}

// TableName 表名
func (PurchaseOrder) TableName() string {
	return "purchase_orders"
}

// NewPurchaseOrder 成交时创建订单，买家资金此时已冻结
func NewPurchaseOrder(orderID string, listing *Listing, buyerID string, source OrderSource, sourceRef string, price, reserved decimal.Decimal, deadline time.Time) *PurchaseOrder {
	return &PurchaseOrder{
		OrderID:             orderID,
		ListingID:           listing.ListingID,
		BuyerID:             buyerID,
		SellerID:            listing.SellerID,
		LineType:            listing.LineType,
		Source:              source,
		SourceRef:           sourceRef,
		Status:              OrderStatusPending,
		Price:               price,
		BuyerReservedAmount: reserved,
		ActivationDeadline:  deadline,
	}
}

func newOrderMachine(status OrderStatus) *fsm.Machine {
	m := fsm.NewMachine(fsm.State(status))
	m.AddTransition(fsm.State(OrderStatusPending), OrderEventSubmitDocument, fsm.State(OrderStatusDocumentSubmitted))
	m.AddTransition(fsm.State(OrderStatusDocumentRejected), OrderEventSubmitDocument, fsm.State(OrderStatusDocumentSubmitted))
	m.AddTransition(fsm.State(OrderStatusDocumentSubmitted), OrderEventApproveDocument, fsm.State(OrderStatusVerified))
	m.AddTransition(fsm.State(OrderStatusDocumentSubmitted), OrderEventRejectDocument, fsm.State(OrderStatusDocumentRejected))
	m.AddTransition(fsm.State(OrderStatusPending), OrderEventSendCode, fsm.State(OrderStatusCodeSent))
	m.AddTransition(fsm.State(OrderStatusCodeSent), OrderEventVerifyCode, fsm.State(OrderStatusVerified))
	m.AddTransition(fsm.State(OrderStatusCodeSent), OrderEventApproveActivation, fsm.State(OrderStatusVerified))
	m.AddTransition(fsm.State(OrderStatusCodeSent), OrderEventReportProblem, fsm.State(OrderStatusPending))
	m.AddTransition(fsm.State(OrderStatusVerified), OrderEventComplete, fsm.State(OrderStatusCompleted))
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusDocumentSubmitted, OrderStatusDocumentRejected, OrderStatusCodeSent} {
		m.AddTransition(fsm.State(s), OrderEventExpire, fsm.State(OrderStatusCancelled))
	}
	return m
}

func (o *PurchaseOrder) transition(ctx context.Context, event string, to OrderStatus) error {
	if err := newOrderMachine(o.Status).Trigger(ctx, fsm.Event(event)); err != nil {
		return fmt.Errorf("order %s: %s not allowed from %s: %w", o.OrderID, event, o.Status, ErrInvalidState)
	}
	o.Status = to
	return nil
}

// IsParty 是否为订单买家或卖家
func (o *PurchaseOrder) IsParty(accountID string) bool {
	return accountID == o.BuyerID || accountID == o.SellerID
}

// IsTerminal 是否已结束
func (o *PurchaseOrder) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// IsOverdue 是否超过卖家交付截止时间
func (o *PurchaseOrder) IsOverdue(now time.Time) bool {
	return !o.IsTerminal() && o.Status != OrderStatusVerified && now.After(o.ActivationDeadline)
}

// SubmitDocument 卖家提交证件（仅已开通线路）
func (o *PurchaseOrder) SubmitDocument(ctx context.Context, documentRef string) error {
	if o.LineType != LineTypeActive {
		return fmt.Errorf("order %s is an inactive line: %w", o.OrderID, ErrInvalidState)
	}
	if documentRef == "" {
		return fmt.Errorf("document reference is required: %w", ErrInvalidArgument)
	}
	if err := o.transition(ctx, OrderEventSubmitDocument, OrderStatusDocumentSubmitted); err != nil {
		return err
	}
	o.DocumentRef = documentRef
	o.RejectReason = ""
	return nil
}

// ApproveDocument 管理员审核通过
func (o *PurchaseOrder) ApproveDocument(ctx context.Context) error {
	return o.transition(ctx, OrderEventApproveDocument, OrderStatusVerified)
}

// RejectDocument 管理员驳回
func (o *PurchaseOrder) RejectDocument(ctx context.Context, reason string) error {
	if err := o.transition(ctx, OrderEventRejectDocument, OrderStatusDocumentRejected); err != nil {
		return err
	}
	o.RejectReason = reason
	return nil
}

// SendCode 卖家提供激活码（仅未开通线路）
func (o *PurchaseOrder) SendCode(ctx context.Context, code string) error {
	if o.LineType != LineTypeInactive {
		return fmt.Errorf("order %s is an active line: %w", o.OrderID, ErrInvalidState)
	}
	if !ValidActivationCode(code) {
		return fmt.Errorf("activation code must be %d digits: %w", ActivationCodeLength, ErrInvalidArgument)
	}
	return o.transition(ctx, OrderEventSendCode, OrderStatusCodeSent)
}

// VerifyCode 买家确认激活码
func (o *PurchaseOrder) VerifyCode(ctx context.Context) error {
	return o.transition(ctx, OrderEventVerifyCode, OrderStatusVerified)
}

// ApproveActivation 买家无响应时管理员代为确认激活
func (o *PurchaseOrder) ApproveActivation(ctx context.Context) error {
	return o.transition(ctx, OrderEventApproveActivation, OrderStatusVerified)
}

// ReportProblem 买家反馈激活码无效，订单退回 pending
func (o *PurchaseOrder) ReportProblem(ctx context.Context) error {
	return o.transition(ctx, OrderEventReportProblem, OrderStatusPending)
}

// Complete 结算完成，仅由结算引擎调用
func (o *PurchaseOrder) Complete(ctx context.Context, commission, net decimal.Decimal, at time.Time) error {
	if o.Status != OrderStatusVerified {
		return fmt.Errorf("order %s is %s: %w", o.OrderID, o.Status, ErrOrderNotVerified)
	}
	if err := o.transition(ctx, OrderEventComplete, OrderStatusCompleted); err != nil {
		return err
	}
	o.CommissionAmount = commission
	o.SellerNetAmount = net
	o.CompletedAt = &at
	return nil
}

// Expire 卖家交付超时
func (o *PurchaseOrder) Expire(ctx context.Context) error {
	if err := o.transition(ctx, OrderEventExpire, OrderStatusCancelled); err != nil {
		return err
	}
	o.Cancelled = true
	return nil
}

// ValidActivationCode 校验激活码格式
func ValidActivationCode(code string) bool {
	if len(code) != ActivationCodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ActivationStatus 激活请求状态
type ActivationStatus string

const (
	ActivationStatusPending   ActivationStatus = "pending"
	ActivationStatusApproved  ActivationStatus = "approved"  // 管理员代为确认
	ActivationStatusRejected  ActivationStatus = "rejected"  // 买家反馈问题
	ActivationStatusActivated ActivationStatus = "activated" // 买家确认激活
)

// ActivationRequest 激活码交接记录，仅存在于未开通线路的订单
type ActivationRequest struct {
	gorm.Model
	OrderID        string           `gorm:"column:order_id;type:varchar(64);index;not null" json:"order_id"`
	ActivationCode string           `gorm:"column:activation_code;type:varchar(8)" json:"-"`
	Status         ActivationStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
}

// TableName 表名
func (ActivationRequest) TableName() string {
	return "activation_requests"
}

// Matches 比较激活码
func (r *ActivationRequest) Matches(code string) bool {
	return r.Status == ActivationStatusPending && r.ActivationCode != "" && r.ActivationCode == code
}

func (r *ActivationRequest) close(to ActivationStatus) error {
	if r.Status != ActivationStatusPending {
		return fmt.Errorf("activation request for %s is %s: %w", r.OrderID, r.Status, ErrInvalidState)
	}
	r.Status = to
	return nil
}

// Activate 买家确认
func (r *ActivationRequest) Activate() error { return r.close(ActivationStatusActivated) }

// Approve 管理员确认
func (r *ActivationRequest) Approve() error { return r.close(ActivationStatusApproved) }

// Reject 买家反馈问题，清除激活码
func (r *ActivationRequest) Reject() error {
	if err := r.close(ActivationStatusRejected); err != nil {
		return err
	}
	r.ActivationCode = ""
	return nil
}

// PurchaseOrderRepository 订单仓储接口
type PurchaseOrderRepository interface {
	Create(ctx context.Context, o *PurchaseOrder) error
	Get(ctx context.Context, orderID string) (*PurchaseOrder, error)
	Save(ctx context.Context, o *PurchaseOrder) error
	// ListExpired 返回已过交付截止时间且尚未确认交付的订单
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*PurchaseOrder, error)
	// CountOpenByListing 统计挂牌上未结束（非 completed / cancelled）的订单
	CountOpenByListing(ctx context.Context, listingID string) (int64, error)
}

// ActivationRepository 激活请求仓储接口
type ActivationRepository interface {
	Create(ctx context.Context, r *ActivationRequest) error
	Save(ctx context.Context, r *ActivationRequest) error
	// GetLatestByOrder 返回订单最近一次激活请求
	GetLatestByOrder(ctx context.Context, orderID string) (*ActivationRequest, error)
}
