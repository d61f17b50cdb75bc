package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/pkg/idgen"
)

// CreateListingCommand 创建挂牌命令
type CreateListingCommand struct {
	SellerID  string
	Number    string
	BasePrice decimal.Decimal
	SaleMode  domain.SaleMode
	LineType  domain.LineType
	// 拍卖结束时间，仅拍卖方式需要
	EndTime time.Time
}

// ListingService 挂牌登记（Listing Registry）
type ListingService struct {
	exec *executor
}

// NewListingService 创建挂牌服务
func NewListingService(d Dependencies) *ListingService {
	return &ListingService{exec: newExecutor(d)}
}

// Create 卖家挂牌，拍卖方式同时开拍
func (s *ListingService) Create(ctx context.Context, cmd CreateListingCommand) (*ListingDTO, error) {
	listingID := fmt.Sprintf("LST%d", idgen.GenID())
	listing, err := domain.NewListing(listingID, cmd.SellerID, cmd.Number, cmd.BasePrice, cmd.SaleMode, cmd.LineType)
	if err != nil {
		return nil, err
	}

	var auction *domain.Auction
	_, err = s.exec.run(ctx, "listing.create", []string{accountKey(cmd.SellerID), listingKey(listingID)}, func(u *unit) error {
		seller, err := u.account(cmd.SellerID)
		if err != nil {
			return err
		}
		if seller.Suspended {
			return domain.ErrAccountSuspended
		}
		if err := u.repos.Listings.Create(u.ctx, listing); err != nil {
			return err
		}
		if listing.SaleMode != domain.SaleModeAuction {
			return nil
		}
		if !cmd.EndTime.After(u.now) {
			return fmt.Errorf("auction end time must be in the future: %w", domain.ErrInvalidArgument)
		}
		auction = domain.NewAuction(fmt.Sprintf("AUC%d", idgen.GenID()), listing, cmd.EndTime)
		return u.repos.Auctions.Create(u.ctx, auction)
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "listing created", "listing_id", listingID, "seller_id", cmd.SellerID, "sale_mode", cmd.SaleMode)
	return toListingDTO(listing, auction), nil
}

// Get 查询挂牌（拍卖方式附带拍卖状态）
func (s *ListingService) Get(ctx context.Context, listingID string) (*ListingDTO, error) {
	listing, err := s.exec.repos.Listings.Get(ctx, listingID)
	if err != nil {
		return nil, classify(err)
	}
	var auction *domain.Auction
	if listing.SaleMode == domain.SaleModeAuction {
		auction, err = s.exec.repos.Auctions.GetByListing(ctx, listingID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, classify(err)
		}
	}
	return toListingDTO(listing, auction), nil
}

// SetStatus 修改挂牌状态。sold 只能由结算产生，已售挂牌不能重新上架。
func (s *ListingService) SetStatus(ctx context.Context, listingID string, status domain.ListingStatus) (*ListingDTO, error) {
	if status == domain.ListingStatusSold {
		return nil, fmt.Errorf("listing can only be sold through settlement: %w", domain.ErrInvalidState)
	}
	if status != domain.ListingStatusAvailable {
		return nil, fmt.Errorf("unknown listing status %q: %w", status, domain.ErrInvalidArgument)
	}
	var listing *domain.Listing
	_, err := s.exec.run(ctx, "listing.set_status", []string{listingKey(listingID)}, func(u *unit) error {
		var err error
		if listing, err = u.repos.Listings.Get(u.ctx, listingID); err != nil {
			return err
		}
		if listing.Status == domain.ListingStatusSold {
			return domain.ErrListingSold
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toListingDTO(listing, nil), nil
}

// RelistCommand 重新开拍命令
type RelistCommand struct {
	ListingID string
	SellerID  string
	EndTime   time.Time
}

// Relist 卖家为未售出的拍卖挂牌重新开拍。上一场必须已流拍，或已成交但订单被取消。
func (s *ListingService) Relist(ctx context.Context, cmd RelistCommand) (*ListingDTO, error) {
	var listing *domain.Listing
	var auction *domain.Auction
	_, err := s.exec.run(ctx, "listing.relist", []string{accountKey(cmd.SellerID), listingKey(cmd.ListingID)}, func(u *unit) error {
		var err error
		if listing, err = u.repos.Listings.Get(u.ctx, cmd.ListingID); err != nil {
			return err
		}
		if listing.SellerID != cmd.SellerID {
			return fmt.Errorf("only the seller can relist %s: %w", cmd.ListingID, domain.ErrInvalidArgument)
		}
		if listing.SaleMode != domain.SaleModeAuction {
			return fmt.Errorf("listing %s is sold at a fixed price: %w", cmd.ListingID, domain.ErrInvalidState)
		}
		seller, err := u.account(cmd.SellerID)
		if err != nil {
			return err
		}
		if seller.Suspended {
			return domain.ErrAccountSuspended
		}
		if err := requireOpenListing(u, listing); err != nil {
			return err
		}
		prev, err := u.repos.Auctions.GetByListing(u.ctx, cmd.ListingID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if prev != nil && prev.IsLive() {
			return fmt.Errorf("auction %s is still %s: %w", prev.AuctionID, prev.Status, domain.ErrInvalidState)
		}
		if !cmd.EndTime.After(u.now) {
			return fmt.Errorf("auction end time must be in the future: %w", domain.ErrInvalidArgument)
		}
		auction = domain.NewAuction(fmt.Sprintf("AUC%d", idgen.GenID()), listing, cmd.EndTime)
		return u.repos.Auctions.Create(u.ctx, auction)
	})
	if err != nil {
		return nil, err
	}
	s.exec.logger.InfoContext(ctx, "listing relisted", "listing_id", cmd.ListingID, "auction_id", auction.AuctionID)
	return toListingDTO(listing, auction), nil
}
