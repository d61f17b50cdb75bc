package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/pkg/idgen"
)

// PurchaseOrderService 购买订单状态机：交付、审核、激活码确认、超时取消
type PurchaseOrderService struct {
	exec *executor
}

// NewPurchaseOrderService 创建订单服务
func NewPurchaseOrderService(d Dependencies) *PurchaseOrderService {
	return &PurchaseOrderService{exec: newExecutor(d)}
}

// BuyFixed 一口价购买：冻结挂牌价并生成订单
func (s *PurchaseOrderService) BuyFixed(ctx context.Context, buyerID, listingID string) (*OrderDTO, error) {
	if buyerID == "" {
		return nil, fmt.Errorf("buyer is required: %w", domain.ErrInvalidArgument)
	}
	keys := func(ctx context.Context) ([]string, error) {
		l, err := s.exec.repos.Listings.Get(ctx, listingID)
		if err != nil {
			return nil, err
		}
		return []string{listingKey(listingID), accountKey(buyerID), accountKey(l.SellerID)}, nil
	}
	var order *domain.PurchaseOrder
	_, err := s.exec.runWith(ctx, "order.buy_fixed", keys, func(u *unit) error {
		listing, err := u.repos.Listings.Get(u.ctx, listingID)
		if err != nil {
			return err
		}
		if listing.SaleMode != domain.SaleModeFixed {
			return fmt.Errorf("listing %s is sold by %s: %w", listingID, listing.SaleMode, domain.ErrInvalidState)
		}
		if listing.SellerID == buyerID {
			return fmt.Errorf("seller cannot buy own listing: %w", domain.ErrInvalidArgument)
		}
		if err := requireOpenListing(u, listing); err != nil {
			return err
		}
		buyer, err := u.account(buyerID)
		if err != nil {
			return err
		}
		if buyer.Suspended {
			return domain.ErrAccountSuspended
		}

		orderID := fmt.Sprintf("ORD%d", idgen.GenID())
		if err := buyer.Reserve(listing.BasePrice, u.movement(domain.LedgerKindPurchaseReserve, orderID,
			"fixed price purchase of listing "+listingID)); err != nil {
			return err
		}
		if err := u.saveAccount(buyer); err != nil {
			return err
		}
		order = domain.NewPurchaseOrder(orderID, listing, buyerID, domain.OrderSourceFixed, listingID,
			listing.BasePrice, listing.BasePrice, u.now.Add(u.rules.ActivationWindow))
		if err := u.repos.Orders.Create(u.ctx, order); err != nil {
			return err
		}
		u.emit(orderCreatedEvents(order)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "fixed price order created", "order_id", order.OrderID, "listing_id", listingID, "buyer_id", buyerID)
	return toOrderDTO(order), nil
}

// requireOpenListing 挂牌必须在售且没有进行中的订单
func requireOpenListing(u *unit, listing *domain.Listing) error {
	if !listing.IsAvailable() {
		return domain.ErrListingSold
	}
	open, err := u.repos.Orders.CountOpenByListing(u.ctx, listing.ListingID)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("listing %s already has an open order: %w", listing.ListingID, domain.ErrInvalidState)
	}
	return nil
}

func orderCreatedEvents(o *domain.PurchaseOrder) []domain.Event {
	return []domain.Event{
		domain.NewEvent(domain.EventOrderCreated, o.SellerID, o.OrderID, domain.SeverityCritical,
			"Deliver the sold line", fmt.Sprintf("Listing %s was bought for %s. Deliver the line before %s.",
				o.ListingID, o.Price.StringFixed(2), o.ActivationDeadline.Format(time.RFC3339))),
		domain.NewEvent(domain.EventOrderCreated, o.BuyerID, o.OrderID, domain.SeverityInfo,
			"Order placed", fmt.Sprintf("%s is held until the seller delivers listing %s.", o.BuyerReservedAmount.StringFixed(2), o.ListingID)),
	}
}

// Get 查询订单
func (s *PurchaseOrderService) Get(ctx context.Context, orderID string) (*OrderDTO, error) {
	o, err := s.exec.repos.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, classify(err)
	}
	return toOrderDTO(o), nil
}

// mutate 锁定订单相关资源后在事务内修改订单
func (s *PurchaseOrderService) mutate(ctx context.Context, op, orderID string, fn func(u *unit, o *domain.PurchaseOrder) error) (*domain.PurchaseOrder, error) {
	var order *domain.PurchaseOrder
	_, err := s.exec.runWith(ctx, op, orderKeys(s.exec.repos, orderID), func(u *unit) error {
		o, err := u.repos.Orders.Get(u.ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(u, o); err != nil {
			return err
		}
		order = o
		if o.Status == domain.OrderStatusCompleted {
			// settle 已保存
			return nil
		}
		return u.repos.Orders.Save(u.ctx, o)
	})
	return order, err
}

// SubmitDocument 卖家提交已开通线路的证件
func (s *PurchaseOrderService) SubmitDocument(ctx context.Context, orderID, sellerID, documentRef string) (*OrderDTO, error) {
	o, err := s.mutate(ctx, "order.submit_document", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		if o.SellerID != sellerID {
			return domain.ErrNotParticipant
		}
		if err := o.SubmitDocument(u.ctx, documentRef); err != nil {
			return err
		}
		u.emit(domain.NewEvent(domain.EventDocumentSubmitted, u.rules.AdminAccountID, o.OrderID, domain.SeverityWarning,
			"Document awaiting review", fmt.Sprintf("Seller %s submitted %s for order %s.", sellerID, documentRef, o.OrderID)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toOrderDTO(o), nil
}

// ApproveDocument 管理员审核通过并立即结算
func (s *PurchaseOrderService) ApproveDocument(ctx context.Context, orderID string) (*OrderDTO, error) {
	o, err := s.mutate(ctx, "order.approve_document", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		if err := o.ApproveDocument(u.ctx); err != nil {
			return err
		}
		return settle(u, o)
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "document approved", "order_id", orderID)
	return toOrderDTO(o), nil
}

// RejectDocument 管理员驳回，卖家可在截止时间前重新提交
func (s *PurchaseOrderService) RejectDocument(ctx context.Context, orderID, reason string) (*OrderDTO, error) {
	if reason == "" {
		return nil, fmt.Errorf("reject reason is required: %w", domain.ErrInvalidArgument)
	}
	o, err := s.mutate(ctx, "order.reject_document", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		if err := o.RejectDocument(u.ctx, reason); err != nil {
			return err
		}
		u.emit(domain.NewEvent(domain.EventDocumentRejected, o.SellerID, o.OrderID, domain.SeverityWarning,
			"Document rejected", fmt.Sprintf("Your document for order %s was rejected: %s. Resubmit before %s.",
				o.OrderID, reason, o.ActivationDeadline.Format(time.RFC3339))))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toOrderDTO(o), nil
}

// SendActivationCode 卖家为未开通线路提供 6 位激活码
func (s *PurchaseOrderService) SendActivationCode(ctx context.Context, orderID, sellerID, code string) (*OrderDTO, error) {
	o, err := s.mutate(ctx, "order.send_code", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		if o.SellerID != sellerID {
			return domain.ErrNotParticipant
		}
		if err := o.SendCode(u.ctx, code); err != nil {
			return err
		}
		req := &domain.ActivationRequest{OrderID: o.OrderID, ActivationCode: code, Status: domain.ActivationStatusPending}
		if err := u.repos.Activations.Create(u.ctx, req); err != nil {
			return err
		}
		u.emit(domain.NewEvent(domain.EventCodeSent, o.BuyerID, o.OrderID, domain.SeverityCritical,
			"Activation code received", fmt.Sprintf("Use code %s to activate listing %s, then confirm it.", code, o.ListingID)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toOrderDTO(o), nil
}

// pendingActivation 返回订单当前待确认的激活请求
func pendingActivation(u *unit, orderID string) (*domain.ActivationRequest, error) {
	req, err := u.repos.Activations.GetLatestByOrder(u.ctx, orderID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.ActivationStatusPending {
		return nil, domain.ErrActivationAbsent
	}
	return req, nil
}

// VerifyActivationCode 买家确认激活码，匹配则订单 verified 并立即结算
func (s *PurchaseOrderService) VerifyActivationCode(ctx context.Context, orderID, buyerID, code string) (*OrderDTO, error) {
	o, err := s.mutate(ctx, "order.verify_code", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		if o.BuyerID != buyerID {
			return domain.ErrNotParticipant
		}
		if o.Status != domain.OrderStatusCodeSent {
			return fmt.Errorf("order %s is %s: %w", o.OrderID, o.Status, domain.ErrInvalidState)
		}
		req, err := pendingActivation(u, o.OrderID)
		if err != nil {
			return err
		}
		if !req.Matches(code) {
			return domain.ErrCodeMismatch
		}
		if err := req.Activate(); err != nil {
			return err
		}
		if err := u.repos.Activations.Save(u.ctx, req); err != nil {
			return err
		}
		if err := o.VerifyCode(u.ctx); err != nil {
			return err
		}
		return settle(u, o)
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "activation code verified", "order_id", orderID)
	return toOrderDTO(o), nil
}

// ReportProblem 买家反馈激活码无效：请求驳回，订单回到 pending 等待卖家重新提供
func (s *PurchaseOrderService) ReportProblem(ctx context.Context, orderID, buyerID, detail string) (*OrderDTO, error) {
	o, err := s.mutate(ctx, "order.report_problem", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		if o.BuyerID != buyerID {
			return domain.ErrNotParticipant
		}
		req, err := pendingActivation(u, o.OrderID)
		if err != nil {
			return err
		}
		if err := o.ReportProblem(u.ctx); err != nil {
			return err
		}
		if err := req.Reject(); err != nil {
			return err
		}
		if err := u.repos.Activations.Save(u.ctx, req); err != nil {
			return err
		}
		body := fmt.Sprintf("The buyer of order %s could not activate the line. Send a new code before %s.",
			o.OrderID, o.ActivationDeadline.Format(time.RFC3339))
		if detail != "" {
			body += " Buyer says: " + detail
		}
		u.emit(domain.NewEvent(domain.EventProblemReported, o.SellerID, o.OrderID, domain.SeverityWarning, "Activation problem reported", body))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toOrderDTO(o), nil
}

// ApproveActivation 买家无响应时管理员代为确认激活并结算
func (s *PurchaseOrderService) ApproveActivation(ctx context.Context, orderID string) (*OrderDTO, error) {
	o, err := s.mutate(ctx, "order.approve_activation", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		if o.Status != domain.OrderStatusCodeSent {
			return fmt.Errorf("order %s is %s: %w", o.OrderID, o.Status, domain.ErrInvalidState)
		}
		req, err := pendingActivation(u, o.OrderID)
		if err != nil {
			return err
		}
		if err := req.Approve(); err != nil {
			return err
		}
		if err := u.repos.Activations.Save(u.ctx, req); err != nil {
			return err
		}
		if err := o.ApproveActivation(u.ctx); err != nil {
			return err
		}
		return settle(u, o)
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "activation approved by admin", "order_id", orderID)
	return toOrderDTO(o), nil
}

// expire 交付超时：取消订单，退还买家冻结款，卖家违约计分
func (s *PurchaseOrderService) expire(ctx context.Context, orderID string) error {
	_, err := s.mutate(ctx, "order.expire", orderID, func(u *unit, o *domain.PurchaseOrder) error {
		// 已确认交付或已被其他扫描处理
		if !o.IsOverdue(u.now) {
			return nil
		}
		if err := o.Expire(u.ctx); err != nil {
			return err
		}
		if err := refundReservation(u, o.BuyerID, o.BuyerReservedAmount, o.OrderID,
			"seller missed the delivery deadline"); err != nil {
			return err
		}

		seller, err := u.account(o.SellerID)
		if err != nil {
			return err
		}
		suspended := seller.Penalize(u.rules.SuspendThreshold)
		if err := u.saveAccount(seller); err != nil {
			return err
		}

		if o.Source == domain.OrderSourceEscrow {
			p, err := u.repos.Escrows.Get(u.ctx, o.SourceRef)
			if err != nil {
				return err
			}
			if err := p.Cancel(); err != nil {
				return err
			}
			if err := u.repos.Escrows.Save(u.ctx, p); err != nil {
				return err
			}
		}

		// 订单期间挂牌保持 available，仅在已售时需要保护
		listing, err := u.repos.Listings.Get(u.ctx, o.ListingID)
		if err != nil {
			return err
		}
		if !listing.IsAvailable() {
			s.exec.logger.WarnContext(u.ctx, "expired order on a sold listing", "order_id", o.OrderID, "listing_id", o.ListingID)
		}

		u.emit(
			domain.NewEvent(domain.EventOrderCancelled, o.BuyerID, o.OrderID, domain.SeverityWarning,
				"Order cancelled", fmt.Sprintf("The seller did not deliver listing %s in time. %s was returned to your wallet.",
					o.ListingID, o.BuyerReservedAmount.StringFixed(2))),
			domain.NewEvent(domain.EventOrderCancelled, o.SellerID, o.OrderID, domain.SeverityCritical,
				"Order cancelled", fmt.Sprintf("You missed the delivery deadline for listing %s. Negative score is now %d.",
					o.ListingID, seller.NegativeScore)),
		)
		if suspended {
			u.emit(domain.NewEvent(domain.EventSellerPenalized, o.SellerID, o.OrderID, domain.SeverityCritical,
				"Account suspended", fmt.Sprintf("Your account was suspended after %d missed deliveries.", seller.NegativeScore)))
		}
		return nil
	})
	return err
}

// ExpireOverdue 扫描交付超时的订单并逐个取消
func (s *PurchaseOrderService) ExpireOverdue(ctx context.Context, limit int) (SweepResult, error) {
	start := time.Now()
	var res SweepResult
	orders, err := s.exec.repos.Orders.ListExpired(ctx, s.exec.clock.Now(), limit)
	if err != nil {
		return res, classify(err)
	}
	for _, o := range orders {
		if err := s.expire(ctx, o.OrderID); err != nil {
			res.Failed++
			s.exec.logger.ErrorContext(ctx, "failed to expire order", "order_id", o.OrderID, "error", err)
			continue
		}
		res.Processed++
	}
	res.Duration = time.Since(start)
	s.exec.metrics.ObserveSweep("activation_expiry", res.Processed, res.Failed)
	return res, nil
}
