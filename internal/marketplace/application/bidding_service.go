package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// PlaceBidCommand 出价命令
type PlaceBidCommand struct {
	ListingID string
	BidderID  string
	Amount    decimal.Decimal
}

// BidResult 出价结果
type BidResult struct {
	AuctionID  string `json:"auction_id"`
	ListingID  string `json:"listing_id"`
	CurrentBid string `json:"current_bid"`
	FirstBid   bool   `json:"first_bid"`
	// 本次冻结的保证金，非首次出价为 0
	Deposit decimal.Decimal `json:"deposit"`
	Events  []domain.Event  `json:"-"`
}

// BiddingService 出价引擎
type BiddingService struct {
	exec *executor
}

// NewBiddingService 创建出价服务
func NewBiddingService(d Dependencies) *BiddingService {
	return &BiddingService{exec: newExecutor(d)}
}

// PlaceBid 出价。首次出价冻结保证金（起拍价 × 保证金比例），之后出价不再校验资金。
func (s *BiddingService) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*BidResult, error) {
	if err := domain.ValidateAmount("bid amount", cmd.Amount); err != nil {
		return nil, err
	}
	if cmd.BidderID == "" {
		return nil, fmt.Errorf("bidder is required: %w", domain.ErrInvalidArgument)
	}

	res := &BidResult{ListingID: cmd.ListingID, Deposit: decimal.Zero}
	keys := []string{listingKey(cmd.ListingID), accountKey(cmd.BidderID)}
	events, err := s.exec.run(ctx, "bid.place", keys, func(u *unit) error {
		auction, err := u.repos.Auctions.GetByListing(u.ctx, cmd.ListingID)
		if err != nil {
			return err
		}
		if auction.SellerID == cmd.BidderID {
			return domain.ErrSelfBid
		}
		bidder, err := u.account(cmd.BidderID)
		if err != nil {
			return err
		}
		if bidder.Suspended {
			return domain.ErrAccountSuspended
		}

		previous, err := auction.AcceptBid(cmd.BidderID, cmd.Amount, u.now)
		if err != nil {
			return err
		}

		participant, err := u.repos.Participants.Get(u.ctx, auction.AuctionID, cmd.BidderID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			participant, err = s.blockDeposit(u, auction, bidder)
			if err != nil {
				return err
			}
			res.FirstBid = true
			res.Deposit = participant.DepositAmount
		case err != nil:
			return err
		}

		participant.RecordBid(cmd.Amount, u.now)
		if err := u.repos.Participants.Save(u.ctx, participant); err != nil {
			return err
		}
		if err := u.repos.Bids.Append(u.ctx, &domain.Bid{
			AuctionID: auction.AuctionID,
			ListingID: auction.ListingID,
			BidderID:  cmd.BidderID,
			Amount:    cmd.Amount,
			PlacedAt:  u.now,
		}); err != nil {
			return err
		}
		if err := u.repos.Auctions.Save(u.ctx, auction); err != nil {
			return err
		}

		amount := cmd.Amount.StringFixed(2)
		if previous != "" && previous != cmd.BidderID {
			u.emit(domain.NewEvent(domain.EventBidOutbid, previous, auction.AuctionID, domain.SeverityWarning,
				"You have been outbid", fmt.Sprintf("A higher bid of %s was placed on listing %s.", amount, auction.ListingID)))
		}
		u.emit(
			domain.NewEvent(domain.EventBidPlaced, cmd.BidderID, auction.AuctionID, domain.SeverityInfo,
				"Bid placed", fmt.Sprintf("Your bid of %s on listing %s is the highest.", amount, auction.ListingID)),
			domain.NewEvent(domain.EventBidReceived, auction.SellerID, auction.AuctionID, domain.SeverityInfo,
				"New bid received", fmt.Sprintf("Listing %s received a bid of %s.", auction.ListingID, amount)),
		)

		res.AuctionID = auction.AuctionID
		res.CurrentBid = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Events = events
	return res, nil
}

// blockDeposit 首次出价冻结保证金，余额差额在容差内时按可用余额冻结
func (s *BiddingService) blockDeposit(u *unit, auction *domain.Auction, bidder *domain.Account) (*domain.Participant, error) {
	deposit := u.rules.DepositFor(auction.BasePrice)
	if bidder.WalletBalance.Add(u.rules.FundsTolerance).LessThan(deposit) {
		return nil, fmt.Errorf("deposit %s exceeds wallet %s: %w", deposit, bidder.WalletBalance, domain.ErrInsufficientFunds)
	}
	reserve := decimal.Min(deposit, bidder.WalletBalance)
	mv := u.movement(domain.LedgerKindDepositBlock, auction.AuctionID, "guarantee deposit for auction "+auction.AuctionID)
	if err := bidder.Reserve(reserve, mv); err != nil {
		return nil, err
	}
	if err := u.saveAccount(bidder); err != nil {
		return nil, err
	}
	if err := u.repos.Deposits.Create(u.ctx, &domain.GuaranteeDeposit{
		AccountID: bidder.AccountID,
		AuctionID: auction.AuctionID,
		Amount:    reserve,
		Status:    domain.DepositStatusBlocked,
	}); err != nil {
		return nil, err
	}
	return &domain.Participant{
		AuctionID:      auction.AuctionID,
		BidderID:       bidder.AccountID,
		HighestBid:     decimal.Zero,
		DepositAmount:  reserve,
		DepositBlocked: true,
	}, nil
}
