package application

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/pkg/idgen"
)

// CreateEscrowCommand 买家发起担保支付
type CreateEscrowCommand struct {
	BuyerID   string
	ListingID string
	Amount    decimal.Decimal
}

// EscrowService 担保支付（安全支付）：买家冻结资金，卖家凭支付码提取后转为购买订单
type EscrowService struct {
	exec *executor
}

// NewEscrowService 创建担保支付服务
func NewEscrowService(d Dependencies) *EscrowService {
	return &EscrowService{exec: newExecutor(d)}
}

var paymentCodeSpace = big.NewInt(100_000_000)

// newPaymentCode 生成 8 位数字支付码
func newPaymentCode() (string, error) {
	n, err := rand.Int(rand.Reader, paymentCodeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", domain.PaymentCodeLength, n.Int64()), nil
}

// Create 冻结金额并生成支付码，买家线下把支付码交给卖家
func (s *EscrowService) Create(ctx context.Context, cmd CreateEscrowCommand) (*EscrowDTO, error) {
	if err := domain.ValidateAmount("escrow amount", cmd.Amount); err != nil {
		return nil, err
	}
	if cmd.BuyerID == "" {
		return nil, fmt.Errorf("buyer is required: %w", domain.ErrInvalidArgument)
	}
	var payment *domain.EscrowPayment
	keys := []string{listingKey(cmd.ListingID), accountKey(cmd.BuyerID)}
	_, err := s.exec.run(ctx, "escrow.create", keys, func(u *unit) error {
		listing, err := u.repos.Listings.Get(u.ctx, cmd.ListingID)
		if err != nil {
			return err
		}
		if listing.SaleMode == domain.SaleModeAuction {
			return fmt.Errorf("listing %s is sold by auction: %w", listing.ListingID, domain.ErrInvalidState)
		}
		if !listing.IsAvailable() {
			return domain.ErrListingSold
		}
		if listing.SellerID == cmd.BuyerID {
			return fmt.Errorf("seller cannot pay for own listing: %w", domain.ErrInvalidArgument)
		}
		buyer, err := u.account(cmd.BuyerID)
		if err != nil {
			return err
		}
		if buyer.Suspended {
			return domain.ErrAccountSuspended
		}
		code, err := newPaymentCode()
		if err != nil {
			return err
		}
		payment = domain.NewEscrowPayment(fmt.Sprintf("ESC%d", idgen.GenID()), code, cmd.BuyerID, listing, cmd.Amount)
		if err := buyer.Reserve(cmd.Amount, u.movement(domain.LedgerKindPurchaseReserve, payment.PaymentID,
			"secure payment for listing "+listing.ListingID)); err != nil {
			return err
		}
		if err := u.saveAccount(buyer); err != nil {
			return err
		}
		// 支付码重复时返回 ErrConflict，重试会生成新支付码
		if err := u.repos.Escrows.Create(u.ctx, payment); err != nil {
			return err
		}
		u.emit(domain.NewEvent(domain.EventEscrowCreated, cmd.BuyerID, payment.PaymentID, domain.SeverityInfo,
			"Secure payment created", fmt.Sprintf("%s is held for listing %s. Give code %s to the seller.",
				cmd.Amount.StringFixed(2), listing.ListingID, code)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "secure payment created", "payment_id", payment.PaymentID, "listing_id", cmd.ListingID, "buyer_id", cmd.BuyerID)
	return toEscrowDTO(payment), nil
}

func (s *EscrowService) codeKeys(code string) keyFunc {
	return func(ctx context.Context) ([]string, error) {
		p, err := s.exec.repos.Escrows.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		return []string{listingKey(p.ListingID), accountKey(p.BuyerID), accountKey(p.SellerID)}, nil
	}
}

// Withdraw 卖家凭支付码提取，生成购买订单，冻结款转到订单名下
func (s *EscrowService) Withdraw(ctx context.Context, sellerID, code string) (*OrderDTO, error) {
	var order *domain.PurchaseOrder
	_, err := s.exec.runWith(ctx, "escrow.withdraw", s.codeKeys(code), func(u *unit) error {
		p, err := u.repos.Escrows.GetByCode(u.ctx, code)
		if err != nil {
			return err
		}
		listing, err := u.repos.Listings.Get(u.ctx, p.ListingID)
		if err != nil {
			return err
		}
		if listing.SellerID != sellerID {
			return domain.ErrNotParticipant
		}
		if err := requireOpenListing(u, listing); err != nil {
			return err
		}
		seller, err := u.account(sellerID)
		if err != nil {
			return err
		}
		if seller.Suspended {
			return domain.ErrAccountSuspended
		}

		orderID := fmt.Sprintf("ORD%d", idgen.GenID())
		if err := p.Withdraw(sellerID, orderID, u.now); err != nil {
			return err
		}
		if err := u.repos.Escrows.Save(u.ctx, p); err != nil {
			return err
		}
		order = domain.NewPurchaseOrder(orderID, listing, p.BuyerID, domain.OrderSourceEscrow, p.PaymentID,
			p.Amount, p.Amount, u.now.Add(u.rules.ActivationWindow))
		if err := u.repos.Orders.Create(u.ctx, order); err != nil {
			return err
		}
		u.emit(domain.NewEvent(domain.EventEscrowWithdrawn, p.BuyerID, p.PaymentID, domain.SeverityInfo,
			"Secure payment accepted", fmt.Sprintf("The seller accepted your payment for listing %s.", listing.ListingID)))
		u.emit(orderCreatedEvents(order)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "secure payment withdrawn", "order_id", order.OrderID, "seller_id", sellerID)
	return toOrderDTO(order), nil
}

// Cancel 卖家提取前买家取消，退还冻结款
func (s *EscrowService) Cancel(ctx context.Context, buyerID, code string) (*EscrowDTO, error) {
	var payment *domain.EscrowPayment
	_, err := s.exec.runWith(ctx, "escrow.cancel", s.codeKeys(code), func(u *unit) error {
		p, err := u.repos.Escrows.GetByCode(u.ctx, code)
		if err != nil {
			return err
		}
		if p.BuyerID != buyerID {
			return domain.ErrNotParticipant
		}
		if p.Withdrawn() {
			return fmt.Errorf("payment %s was already withdrawn: %w", p.PaymentID, domain.ErrInvalidState)
		}
		if err := p.Cancel(); err != nil {
			return err
		}
		if err := u.repos.Escrows.Save(u.ctx, p); err != nil {
			return err
		}
		if err := refundReservation(u, buyerID, p.Amount, p.PaymentID, "secure payment cancelled"); err != nil {
			return err
		}
		u.emit(domain.NewEvent(domain.EventEscrowCancelled, buyerID, p.PaymentID, domain.SeverityInfo,
			"Secure payment cancelled", fmt.Sprintf("%s was returned to your wallet.", p.Amount.StringFixed(2))))
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toEscrowDTO(payment), nil
}

// Get 按支付码查询，仅买卖双方可见
func (s *EscrowService) Get(ctx context.Context, accountID, code string) (*EscrowDTO, error) {
	p, err := s.exec.repos.Escrows.GetByCode(ctx, code)
	if err != nil {
		return nil, classify(err)
	}
	if p.BuyerID != accountID && p.SellerID != accountID {
		return nil, domain.ErrNotParticipant
	}
	return toEscrowDTO(p), nil
}
