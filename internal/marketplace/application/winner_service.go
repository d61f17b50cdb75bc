package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/pkg/idgen"
)

// WinnerService 中标队列：付款与超时递补
type WinnerService struct {
	exec *executor
}

// NewWinnerService 创建中标队列服务
func NewWinnerService(d Dependencies) *WinnerService {
	return &WinnerService{exec: newExecutor(d)}
}

// queueKeys 锁定挂牌、指定账户以及队列中仍为 pending 的账户
func (s *WinnerService) queueKeys(auctionID string, accountIDs ...string) keyFunc {
	return func(ctx context.Context) ([]string, error) {
		auction, err := s.exec.repos.Auctions.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		entries, err := s.exec.repos.Winners.ListByAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		keys := []string{listingKey(auction.ListingID)}
		for _, id := range accountIDs {
			keys = append(keys, accountKey(id))
		}
		for _, e := range entries {
			if e.PaymentStatus == domain.PaymentStatusPending {
				keys = append(keys, accountKey(e.AccountID))
			}
		}
		return keys, nil
	}
}

// Queue 查询中标队列
func (s *WinnerService) Queue(ctx context.Context, auctionID string) ([]*WinnerDTO, error) {
	if _, err := s.exec.repos.Auctions.Get(ctx, auctionID); err != nil {
		return nil, classify(err)
	}
	entries, err := s.exec.repos.Winners.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, classify(err)
	}
	return toWinnerDTOs(entries), nil
}

// Pay 当前付款人支付剩余款项：冻结剩余金额，保证金转为购买款，生成购买订单。
// 其余休眠名次作废并退还保证金。
func (s *WinnerService) Pay(ctx context.Context, auctionID, accountID string) (*OrderDTO, error) {
	var order *domain.PurchaseOrder
	_, err := s.exec.runWith(ctx, "winner.pay", s.queueKeys(auctionID, accountID), func(u *unit) error {
		auction, err := u.repos.Auctions.Get(u.ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status != domain.AuctionStatusPendingPayment {
			return fmt.Errorf("auction %s is %s: %w", auctionID, auction.Status, domain.ErrInvalidState)
		}
		entries, err := u.repos.Winners.ListByAuction(u.ctx, auctionID)
		if err != nil {
			return err
		}
		var payer *domain.WinnerQueueEntry
		for _, e := range entries {
			if e.Active && e.PaymentStatus == domain.PaymentStatusPending {
				payer = e
				break
			}
		}
		if payer == nil || payer.AccountID != accountID {
			return domain.ErrNotCurrentWinner
		}
		if u.now.After(payer.PaymentDeadline) {
			return fmt.Errorf("payment deadline %s passed: %w", payer.PaymentDeadline.Format(time.RFC3339), domain.ErrInvalidState)
		}

		buyer, err := u.account(accountID)
		if err != nil {
			return err
		}
		mv := u.movement(domain.LedgerKindPurchaseReserve, auctionID, "remaining payment for auction "+auctionID)
		if err := buyer.Reserve(payer.RemainingAmount, mv); err != nil {
			return err
		}
		if err := u.saveAccount(buyer); err != nil {
			return err
		}
		dep, err := u.repos.Deposits.Get(u.ctx, accountID, auctionID)
		if err != nil {
			return err
		}
		if err := dep.Apply(); err != nil {
			return err
		}
		if err := u.repos.Deposits.Save(u.ctx, dep); err != nil {
			return err
		}
		if err := payer.Complete(); err != nil {
			return err
		}
		if err := u.repos.Winners.Save(u.ctx, payer); err != nil {
			return err
		}

		for _, e := range entries {
			if e.Rank == payer.Rank || e.PaymentStatus != domain.PaymentStatusPending {
				continue
			}
			if err := u.requireLocks(e.AccountID); err != nil {
				return err
			}
			if err := e.Skip(); err != nil {
				return err
			}
			if err := u.repos.Winners.Save(u.ctx, e); err != nil {
				return err
			}
			if _, err := releaseDeposit(u, e.AccountID, auctionID, "auction paid by a higher rank"); err != nil {
				return err
			}
		}

		if err := auction.Complete(); err != nil {
			return err
		}
		if err := u.repos.Auctions.Save(u.ctx, auction); err != nil {
			return err
		}
		listing, err := u.repos.Listings.Get(u.ctx, auction.ListingID)
		if err != nil {
			return err
		}
		if !listing.IsAvailable() {
			return domain.ErrListingSold
		}

		reserved := payer.RemainingAmount.Add(dep.Amount)
		order = domain.NewPurchaseOrder(fmt.Sprintf("ORD%d", idgen.GenID()), listing, accountID,
			domain.OrderSourceAuction, auctionID, payer.BidAmount, reserved, u.now.Add(u.rules.ActivationWindow))
		if err := u.repos.Orders.Create(u.ctx, order); err != nil {
			return err
		}

		u.emit(
			domain.NewEvent(domain.EventWinnerPaid, accountID, order.OrderID, domain.SeverityInfo,
				"Payment received", fmt.Sprintf("Your payment for listing %s is held until the line is delivered.", listing.ListingID)),
			domain.NewEvent(domain.EventOrderCreated, listing.SellerID, order.OrderID, domain.SeverityCritical,
				"Deliver the sold line", fmt.Sprintf("Listing %s was paid. Deliver the line before %s.",
					listing.ListingID, order.ActivationDeadline.Format(time.RFC3339))),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "auction winner paid", "auction_id", auctionID, "account_id", accountID, "order_id", order.OrderID)
	return toOrderDTO(order), nil
}

// escalate 处理一条付款超时的中标条目：没收保证金，递补下一名或流拍
func (s *WinnerService) escalate(ctx context.Context, auctionID string, rank int, accountID string) ([]domain.Event, error) {
	return s.exec.runWith(ctx, "winner.escalate", s.queueKeys(auctionID, accountID), func(u *unit) error {
		auction, err := u.repos.Auctions.Get(u.ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status != domain.AuctionStatusPendingPayment {
			return nil
		}
		entries, err := u.repos.Winners.ListByAuction(u.ctx, auctionID)
		if err != nil {
			return err
		}
		var failed *domain.WinnerQueueEntry
		for _, e := range entries {
			if e.Rank == rank {
				failed = e
			}
		}
		if failed == nil {
			return domain.ErrWinnerNotFound
		}
		// 已付款或已被其他扫描处理
		if !failed.IsOverdue(u.now) {
			return nil
		}

		if err := failed.Fail(); err != nil {
			return err
		}
		if err := u.repos.Winners.Save(u.ctx, failed); err != nil {
			return err
		}
		burned, err := burnDeposit(u, failed.AccountID, auctionID)
		if err != nil {
			return err
		}
		p, err := u.repos.Participants.Get(u.ctx, auctionID, failed.AccountID)
		switch {
		case err == nil:
			p.DepositBlocked = false
			if err := u.repos.Participants.Save(u.ctx, p); err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		u.emit(domain.NewEvent(domain.EventWinnerPaymentFailed, failed.AccountID, auctionID, domain.SeverityCritical,
			"Payment deadline missed", fmt.Sprintf("You did not pay for listing %s in time. Your deposit of %s was forfeited.",
				auction.ListingID, burned.StringFixed(2))))

		next := domain.NextPending(entries, failed.Rank)
		if next != nil {
			if err := next.Activate(u.now.Add(u.rules.PaymentWindow)); err != nil {
				return err
			}
			if err := u.repos.Winners.Save(u.ctx, next); err != nil {
				return err
			}
			u.emit(domain.NewEvent(domain.EventWinnerPromoted, next.AccountID, auctionID, domain.SeverityCritical,
				"You can now buy this number", fmt.Sprintf("The previous winner defaulted. Pay %s for listing %s before %s.",
					next.RemainingAmount.StringFixed(2), auction.ListingID, next.PaymentDeadline.Format(time.RFC3339))))
			return nil
		}

		if err := auction.Cancel(u.now); err != nil {
			return err
		}
		if err := u.repos.Auctions.Save(u.ctx, auction); err != nil {
			return err
		}
		u.emit(
			domain.NewEvent(domain.EventAuctionCancelled, u.rules.AdminAccountID, auctionID, domain.SeverityCritical,
				"Auction cancelled", fmt.Sprintf("All winners of auction %s (listing %s) defaulted.", auctionID, auction.ListingID)),
			domain.NewEvent(domain.EventAuctionCancelled, auction.SellerID, auctionID, domain.SeverityWarning,
				"Auction cancelled", fmt.Sprintf("No winner paid for listing %s.", auction.ListingID)),
		)
		return nil
	})
}

// EscalateExpiredPayments 扫描付款超时的当前付款人并逐个递补
func (s *WinnerService) EscalateExpiredPayments(ctx context.Context, limit int) (SweepResult, error) {
	start := time.Now()
	var res SweepResult
	entries, err := s.exec.repos.Winners.ListExpiredActive(ctx, s.exec.clock.Now(), limit)
	if err != nil {
		return res, classify(err)
	}
	for _, e := range entries {
		if _, err := s.escalate(ctx, e.AuctionID, e.Rank, e.AccountID); err != nil {
			res.Failed++
			s.exec.logger.ErrorContext(ctx, "failed to escalate winner", "auction_id", e.AuctionID, "rank", e.Rank, "error", err)
			continue
		}
		res.Processed++
	}
	res.Duration = time.Since(start)
	s.exec.metrics.ObserveSweep("payment_escalation", res.Processed, res.Failed)
	return res, nil
}
