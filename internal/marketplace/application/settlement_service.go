package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// SettlementResult 结算结果
type SettlementResult struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	Commission string `json:"commission"`
	SellerNet  string `json:"seller_net"`
	// 订单此前已结算，本次调用未产生任何变动
	AlreadySettled bool           `json:"already_settled"`
	Events         []domain.Event `json:"-"`
}

// SettlementService 结算引擎，唯一向卖家付款并将挂牌置为 sold 的入口
type SettlementService struct {
	exec *executor
}

// NewSettlementService 创建结算服务
func NewSettlementService(d Dependencies) *SettlementService {
	return &SettlementService{exec: newExecutor(d)}
}

// orderKeys 锁定订单、挂牌及买卖双方账户
func orderKeys(repos domain.Repositories, orderID string) keyFunc {
	return func(ctx context.Context) ([]string, error) {
		o, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return []string{orderKey(o.OrderID), listingKey(o.ListingID), accountKey(o.BuyerID), accountKey(o.SellerID)}, nil
	}
}

// Finalize 结算已确认交付的订单。已完成的订单重复调用无副作用。
func (s *SettlementService) Finalize(ctx context.Context, orderID string) (*SettlementResult, error) {
	res := &SettlementResult{OrderID: orderID}
	events, err := s.exec.runWith(ctx, "settlement.finalize", orderKeys(s.exec.repos, orderID), func(u *unit) error {
		o, err := u.repos.Orders.Get(u.ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == domain.OrderStatusCompleted {
			res.AlreadySettled = true
			res.fill(o)
			return nil
		}
		if err := settle(u, o); err != nil {
			return err
		}
		res.fill(o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Events = events
	if !res.AlreadySettled {
		s.exec.logger.InfoContext(ctx, "order settled", "order_id", orderID, "commission", res.Commission, "seller_net", res.SellerNet)
	}
	return res, nil
}

func (r *SettlementResult) fill(o *domain.PurchaseOrder) {
	r.Status = string(o.Status)
	r.Commission = o.CommissionAmount.StringFixed(2)
	r.SellerNet = o.SellerNetAmount.StringFixed(2)
}

// settle 在当前事务内完成结算，调用方需已锁定订单、挂牌与双方账户
func settle(u *unit, o *domain.PurchaseOrder) error {
	if o.Status != domain.OrderStatusVerified {
		return fmt.Errorf("order %s is %s: %w", o.OrderID, o.Status, domain.ErrOrderNotVerified)
	}
	if err := u.requireLocks(o.BuyerID, o.SellerID); err != nil {
		return err
	}
	commission, net := u.rules.CommissionFor(o.Price)

	buyer, err := u.account(o.BuyerID)
	if err != nil {
		return err
	}
	if err := buyer.Consume(o.BuyerReservedAmount, u.movement(domain.LedgerKindSettlementDebit, o.OrderID,
		"payment for listing "+o.ListingID)); err != nil {
		return err
	}
	if err := u.saveAccount(buyer); err != nil {
		return err
	}
	seller, err := u.account(o.SellerID)
	if err != nil {
		return err
	}
	desc := fmt.Sprintf("sale of listing %s, commission %s", o.ListingID, commission.StringFixed(2))
	if err := seller.Credit(net, u.movement(domain.LedgerKindSettlementCredit, o.OrderID, desc)); err != nil {
		return err
	}
	if err := u.saveAccount(seller); err != nil {
		return err
	}

	listing, err := u.repos.Listings.Get(u.ctx, o.ListingID)
	if err != nil {
		return err
	}
	if err := listing.MarkSold(); err != nil {
		return err
	}
	if err := u.repos.Listings.Save(u.ctx, listing); err != nil {
		return err
	}

	if err := o.Complete(u.ctx, commission, net, u.now); err != nil {
		return err
	}
	if err := u.repos.Orders.Save(u.ctx, o); err != nil {
		return err
	}
	if err := u.repos.Commissions.Create(u.ctx, &domain.CommissionRecord{
		OrderID:    o.OrderID,
		ListingID:  o.ListingID,
		Price:      o.Price,
		Commission: commission,
		SettledAt:  u.now,
	}); err != nil {
		return err
	}

	if o.Source == domain.OrderSourceEscrow {
		p, err := u.repos.Escrows.Get(u.ctx, o.SourceRef)
		if err != nil {
			return err
		}
		if err := p.Complete(); err != nil {
			return err
		}
		if err := u.repos.Escrows.Save(u.ctx, p); err != nil {
			return err
		}
	}

	u.emit(
		domain.NewEvent(domain.EventOrderCompleted, o.BuyerID, o.OrderID, domain.SeverityInfo,
			"Purchase completed", fmt.Sprintf("Listing %s is now yours. %s was paid to the seller.", o.ListingID, o.Price.StringFixed(2))),
		domain.NewEvent(domain.EventOrderCompleted, o.SellerID, o.OrderID, domain.SeverityInfo,
			"Sale settled", fmt.Sprintf("%s was credited to your wallet for listing %s (commission %s).",
				net.StringFixed(2), o.ListingID, commission.StringFixed(2))),
	)
	return nil
}
