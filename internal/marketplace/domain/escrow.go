package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EscrowStatus 担保支付状态
type EscrowStatus string

const (
	EscrowStatusPending   EscrowStatus = "pending"
	EscrowStatusCompleted EscrowStatus = "completed"
	EscrowStatusCancelled EscrowStatus = "cancelled"
)

// PaymentCodeLength 担保支付码位数
const PaymentCodeLength = 8

// EscrowPayment 担保支付（"安全支付"）
// 买家冻结资金并生成支付码，卖家凭支付码提取后转为购买订单。
type EscrowPayment struct {
	gorm.Model
	PaymentID   string          `gorm:"column:payment_id;type:varchar(64);uniqueIndex;not null" json:"payment_id"`
	Code        string          `gorm:"column:code;type:varchar(16);uniqueIndex;not null" json:"code"`
	BuyerID     string          `gorm:"column:buyer_id;type:varchar(64);index;not null" json:"buyer_id"`
	SellerID    string          `gorm:"column:seller_id;type:varchar(64);index;not null" json:"seller_id"`
	ListingID   string          `gorm:"column:listing_id;type:varchar(64);index;not null" json:"listing_id"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Status      EscrowStatus    `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	WithdrawnAt *time.Time      `gorm:"column:withdrawn_at" json:"withdrawn_at"`
	OrderID     string          `gorm:"column:order_id;type:varchar(64);index" json:"order_id"`
	Version     int64           `gorm:"column:version;default:0;not null" json:"version"`
}

// TableName 表名
func (EscrowPayment) TableName() string {
	return "escrow_payments"
}

// NewEscrowPayment 创建担保支付
func NewEscrowPayment(paymentID, code, buyerID string, listing *Listing, amount decimal.Decimal) *EscrowPayment {
	return &EscrowPayment{
		PaymentID: paymentID,
		Code:      code,
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		ListingID: listing.ListingID,
		Amount:    amount,
		Status:    EscrowStatusPending,
	}
}

// Withdrawn 卖家是否已提取
func (p *EscrowPayment) Withdrawn() bool {
	return p.WithdrawnAt != nil
}

// Withdraw 卖家凭支付码提取，资金随后挂到购买订单上
func (p *EscrowPayment) Withdraw(sellerID, orderID string, at time.Time) error {
	if p.SellerID != sellerID {
		return ErrNotParticipant
	}
	if p.Status != EscrowStatusPending || p.Withdrawn() {
		return fmt.Errorf("payment %s already withdrawn or closed: %w", p.PaymentID, ErrInvalidState)
	}
	p.WithdrawnAt = &at
	p.OrderID = orderID
	return nil
}

// Cancel 提取前买家取消，或订单交付超时
func (p *EscrowPayment) Cancel() error {
	if p.Status != EscrowStatusPending {
		return fmt.Errorf("payment %s is %s: %w", p.PaymentID, p.Status, ErrInvalidState)
	}
	p.Status = EscrowStatusCancelled
	return nil
}

// Complete 订单结算完成
func (p *EscrowPayment) Complete() error {
	if p.Status == EscrowStatusCompleted {
		return nil
	}
	if p.Status != EscrowStatusPending {
		return fmt.Errorf("payment %s is %s: %w", p.PaymentID, p.Status, ErrInvalidState)
	}
	p.Status = EscrowStatusCompleted
	return nil
}

// EscrowRepository 担保支付仓储接口
type EscrowRepository interface {
	Create(ctx context.Context, p *EscrowPayment) error
	Get(ctx context.Context, paymentID string) (*EscrowPayment, error)
	GetByCode(ctx context.Context, code string) (*EscrowPayment, error)
	Save(ctx context.Context, p *EscrowPayment) error
}
