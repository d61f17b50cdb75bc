package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// ResolveResult 结拍结果
type ResolveResult struct {
	AuctionID string         `json:"auction_id"`
	Status    string         `json:"status"`
	Winners   []*WinnerDTO   `json:"winners"`
	Events    []domain.Event `json:"-"`
}

// AuctionResolver 结拍：排名、退还落选者保证金、生成中标队列
type AuctionResolver struct {
	exec *executor
}

// NewAuctionResolver 创建结拍服务
func NewAuctionResolver(d Dependencies) *AuctionResolver {
	return &AuctionResolver{exec: newExecutor(d)}
}

// auctionKeys 锁定拍卖对应的挂牌及全部参与者账户
func (r *AuctionResolver) auctionKeys(auctionID string) keyFunc {
	return func(ctx context.Context) ([]string, error) {
		auction, err := r.exec.repos.Auctions.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		participants, err := r.exec.repos.Participants.ListByAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		keys := []string{listingKey(auction.ListingID)}
		for _, p := range participants {
			keys = append(keys, accountKey(p.BidderID))
		}
		return keys, nil
	}
}

// Resolve 结拍。已结拍的拍卖重复调用无副作用；未到结束时间返回 ErrAuctionNotEnded。
func (r *AuctionResolver) Resolve(ctx context.Context, auctionID string) (*ResolveResult, error) {
	res := &ResolveResult{AuctionID: auctionID}
	events, err := r.exec.runWith(ctx, "auction.resolve", r.auctionKeys(auctionID), func(u *unit) error {
		auction, err := u.repos.Auctions.Get(u.ctx, auctionID)
		if err != nil {
			return err
		}
		res.Status = string(auction.Status)
		if auction.Status != domain.AuctionStatusActive {
			return nil
		}
		if !auction.IsExpired(u.now) {
			return fmt.Errorf("auction %s ends at %s: %w", auctionID, auction.EndTime.Format(time.RFC3339), domain.ErrAuctionNotEnded)
		}

		participants, err := u.repos.Participants.ListByAuction(u.ctx, auctionID)
		if err != nil {
			return err
		}
		if len(participants) == 0 {
			if err := auction.Cancel(u.now); err != nil {
				return err
			}
			if err := u.repos.Auctions.Save(u.ctx, auction); err != nil {
				return err
			}
			u.emit(domain.NewEvent(domain.EventAuctionCancelled, auction.SellerID, auctionID, domain.SeverityWarning,
				"Auction ended without bids", fmt.Sprintf("Auction for listing %s closed with no bidders.", auction.ListingID)))
			res.Status = string(auction.Status)
			return nil
		}

		ranked := domain.RankParticipants(participants)
		deadline := u.now.Add(u.rules.PaymentWindow)
		var queue []*domain.WinnerQueueEntry
		for _, p := range ranked {
			if err := u.requireLocks(p.BidderID); err != nil {
				return err
			}
			if p.IsTop3 {
				queue = append(queue, domain.NewWinnerQueueEntry(auctionID, p, deadline))
			} else if p.DepositBlocked {
				if _, err := releaseDeposit(u, p.BidderID, auctionID, fmt.Sprintf("auction lost, final rank %d", p.Rank)); err != nil {
					return err
				}
				p.DepositBlocked = false
			}
			if err := u.repos.Participants.Save(u.ctx, p); err != nil {
				return err
			}
		}
		if err := u.repos.Winners.Create(u.ctx, queue...); err != nil {
			return err
		}
		if err := auction.MarkPendingPayment(u.now); err != nil {
			return err
		}
		if err := u.repos.Auctions.Save(u.ctx, auction); err != nil {
			return err
		}

		first := queue[0]
		u.emit(
			domain.NewEvent(domain.EventWinnerPaymentRequired, first.AccountID, auctionID, domain.SeverityCritical,
				"You won the auction", fmt.Sprintf("Pay the remaining %s for listing %s before %s.",
					first.RemainingAmount.StringFixed(2), auction.ListingID, first.PaymentDeadline.Format(time.RFC3339))),
			domain.NewEvent(domain.EventAuctionResolved, auction.SellerID, auctionID, domain.SeverityInfo,
				"Auction closed", fmt.Sprintf("Listing %s closed at %s with %d bidder(s).", auction.ListingID, first.BidAmount.StringFixed(2), len(ranked))),
		)
		res.Status = string(auction.Status)
		res.Winners = toWinnerDTOs(queue)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Events = events
	if len(events) > 0 {
		r.exec.logger.InfoContext(ctx, "auction resolved", "auction_id", auctionID, "status", res.Status, "winners", len(res.Winners))
	}
	return res, nil
}

// ResolveExpiredAuctions 扫描已到结束时间的拍卖并逐个结拍，单个失败不影响其他拍卖
func (r *AuctionResolver) ResolveExpiredAuctions(ctx context.Context, limit int) (SweepResult, error) {
	start := time.Now()
	var res SweepResult
	auctions, err := r.exec.repos.Auctions.ListExpired(ctx, r.exec.clock.Now(), limit)
	if err != nil {
		return res, classify(err)
	}
	for _, a := range auctions {
		if _, err := r.Resolve(ctx, a.AuctionID); err != nil {
			res.Failed++
			r.exec.logger.ErrorContext(ctx, "failed to resolve auction", "auction_id", a.AuctionID, "error", err)
			continue
		}
		res.Processed++
	}
	res.Duration = time.Since(start)
	r.exec.metrics.ObserveSweep("auction_resolution", res.Processed, res.Failed)
	return res, nil
}
