package mysql

import (
	"context"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"gorm.io/gorm"
)

// 尚未确认交付、可被超时取消的订单状态
var awaitingDelivery = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusDocumentSubmitted,
	domain.OrderStatusDocumentRejected,
	domain.OrderStatusCodeSent,
}

type orderRepository struct{ base }

func (r *orderRepository) Create(ctx context.Context, o *domain.PurchaseOrder) error {
	return translate(r.getDB(ctx).Create(o).Error, domain.ErrOrderNotFound, "order "+o.OrderID)
}

func (r *orderRepository) Get(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	var o domain.PurchaseOrder
	if err := r.forUpdate(ctx).Where("order_id = ?", id).First(&o).Error; err != nil {
		return nil, translate(err, domain.ErrOrderNotFound, id)
	}
	return &o, nil
}

func (r *orderRepository) Save(ctx context.Context, o *domain.PurchaseOrder) error {
	return casSave(r.getDB(ctx), o, &o.Version, "order "+o.OrderID)
}

func (r *orderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.PurchaseOrder, error) {
	var out []*domain.PurchaseOrder
	err := r.getDB(ctx).
		Where("status IN ? AND activation_deadline < ?", awaitingDelivery, now).
		Order("activation_deadline ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *orderRepository) CountOpenByListing(ctx context.Context, listingID string) (int64, error) {
	var n int64
	err := r.getDB(ctx).Model(&domain.PurchaseOrder{}).
		Where("listing_id = ? AND status NOT IN ?", listingID,
			[]domain.OrderStatus{domain.OrderStatusCompleted, domain.OrderStatusCancelled}).
		Count(&n).Error
	return n, err
}

type activationRepository struct{ base }

func (r *activationRepository) Create(ctx context.Context, a *domain.ActivationRequest) error {
	return r.getDB(ctx).Create(a).Error
}

func (r *activationRepository) Save(ctx context.Context, a *domain.ActivationRequest) error {
	return r.getDB(ctx).Save(a).Error
}

func (r *activationRepository) GetLatestByOrder(ctx context.Context, orderID string) (*domain.ActivationRequest, error) {
	var a domain.ActivationRequest
	if err := r.forUpdate(ctx).Where("order_id = ?", orderID).Order("id DESC").First(&a).Error; err != nil {
		return nil, translate(err, domain.ErrActivationAbsent, "order "+orderID)
	}
	return &a, nil
}

type escrowRepository struct{ base }

func (r *escrowRepository) Create(ctx context.Context, p *domain.EscrowPayment) error {
	return translate(r.getDB(ctx).Create(p).Error, domain.ErrPaymentNotFound, "payment "+p.PaymentID)
}

func (r *escrowRepository) Get(ctx context.Context, id string) (*domain.EscrowPayment, error) {
	var p domain.EscrowPayment
	if err := r.forUpdate(ctx).Where("payment_id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err, domain.ErrPaymentNotFound, id)
	}
	return &p, nil
}

func (r *escrowRepository) GetByCode(ctx context.Context, code string) (*domain.EscrowPayment, error) {
	var p domain.EscrowPayment
	if err := r.forUpdate(ctx).Where("code = ?", code).First(&p).Error; err != nil {
		return nil, translate(err, domain.ErrPaymentNotFound, "code "+code)
	}
	return &p, nil
}

func (r *escrowRepository) Save(ctx context.Context, p *domain.EscrowPayment) error {
	return casSave(r.getDB(ctx), p, &p.Version, "payment "+p.PaymentID)
}

type outboxRepository struct{ base }

func (r *outboxRepository) Append(ctx context.Context, msgs ...*domain.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.getDB(ctx).Create(msgs).Error
}

func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	var out []*domain.OutboxMessage
	err := r.getDB(ctx).
		Where("status = ?", domain.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":   domain.OutboxStatusSent,
		"sent_at":  at,
		"attempts": gorm.Expr("attempts + 1"),
	})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	if len(reason) > 512 {
		reason = reason[:512]
	}
	return r.update(ctx, id, map[string]any{
		"last_error": reason,
		"attempts":   gorm.Expr("attempts + 1"),
	})
}

func (r *outboxRepository) update(ctx context.Context, id string, values map[string]any) error {
	res := r.getDB(ctx).Model(&domain.OutboxMessage{}).Where("message_id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, domain.ErrNotFound, "outbox message "+id)
	}
	return nil
}
