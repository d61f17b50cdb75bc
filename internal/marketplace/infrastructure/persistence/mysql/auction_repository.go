package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"gorm.io/gorm/clause"
)

type auctionRepository struct{ base }

func (r *auctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	return translate(r.getDB(ctx).Create(a).Error, domain.ErrAuctionNotFound, "auction for listing "+a.ListingID)
}

func (r *auctionRepository) Get(ctx context.Context, id string) (*domain.Auction, error) {
	var a domain.Auction
	if err := r.forUpdate(ctx).Where("auction_id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, domain.ErrAuctionNotFound, id)
	}
	return &a, nil
}

func (r *auctionRepository) GetByListing(ctx context.Context, listingID string) (*domain.Auction, error) {
	var a domain.Auction
	if err := r.forUpdate(ctx).Where("listing_id = ?", listingID).Order("id DESC").First(&a).Error; err != nil {
		return nil, translate(err, domain.ErrAuctionNotFound, "listing "+listingID)
	}
	return &a, nil
}

func (r *auctionRepository) Save(ctx context.Context, a *domain.Auction) error {
	return casSave(r.getDB(ctx), a, &a.Version, "auction "+a.AuctionID)
}

func (r *auctionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	var out []*domain.Auction
	err := r.getDB(ctx).
		Where("status = ? AND end_time <= ?", domain.AuctionStatusActive, now).
		Order("end_time ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

type bidRepository struct{ base }

func (r *bidRepository) Append(ctx context.Context, b *domain.Bid) error {
	return r.getDB(ctx).Create(b).Error
}

func (r *bidRepository) ListByAuction(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	var out []*domain.Bid
	err := r.getDB(ctx).Where("auction_id = ?", auctionID).Order("id ASC").Find(&out).Error
	return out, err
}

type participantRepository struct{ base }

func (r *participantRepository) Get(ctx context.Context, auctionID, bidderID string) (*domain.Participant, error) {
	var p domain.Participant
	err := r.forUpdate(ctx).Where("auction_id = ? AND bidder_id = ?", auctionID, bidderID).First(&p).Error
	if err != nil {
		return nil, translate(err, domain.ErrNotFound, fmt.Sprintf("participant %s in %s", bidderID, auctionID))
	}
	return &p, nil
}

// Save 以 (auction_id, bidder_id) 为唯一键插入或更新
func (r *participantRepository) Save(ctx context.Context, p *domain.Participant) error {
	db := r.getDB(ctx)
	if p.ID != 0 {
		return db.Save(p).Error
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "auction_id"}, {Name: "bidder_id"}},
		UpdateAll: true,
	}).Create(p).Error
}

func (r *participantRepository) ListByAuction(ctx context.Context, auctionID string) ([]*domain.Participant, error) {
	var out []*domain.Participant
	err := r.forUpdate(ctx).Where("auction_id = ?", auctionID).Order("id ASC").Find(&out).Error
	return out, err
}

type depositRepository struct{ base }

func (r *depositRepository) Get(ctx context.Context, accountID, auctionID string) (*domain.GuaranteeDeposit, error) {
	var d domain.GuaranteeDeposit
	err := r.forUpdate(ctx).Where("account_id = ? AND auction_id = ?", accountID, auctionID).First(&d).Error
	if err != nil {
		return nil, translate(err, domain.ErrDepositNotFound, fmt.Sprintf("%s in %s", accountID, auctionID))
	}
	return &d, nil
}

// Create 依赖 uk_account_auction 保证同一拍卖只冻结一次
func (r *depositRepository) Create(ctx context.Context, d *domain.GuaranteeDeposit) error {
	return translate(r.getDB(ctx).Create(d).Error, domain.ErrDepositNotFound, fmt.Sprintf("deposit %s in %s", d.AccountID, d.AuctionID))
}

func (r *depositRepository) Save(ctx context.Context, d *domain.GuaranteeDeposit) error {
	return casSave(r.getDB(ctx), d, &d.Version, fmt.Sprintf("deposit %s in %s", d.AccountID, d.AuctionID))
}

type winnerRepository struct{ base }

func (r *winnerRepository) Create(ctx context.Context, entries ...*domain.WinnerQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return translate(r.getDB(ctx).Create(entries).Error, domain.ErrWinnerNotFound, "winner queue for "+entries[0].AuctionID)
}

func (r *winnerRepository) Save(ctx context.Context, e *domain.WinnerQueueEntry) error {
	return casSave(r.getDB(ctx), e, &e.Version, fmt.Sprintf("winner %s rank %d", e.AuctionID, e.Rank))
}

func (r *winnerRepository) ListByAuction(ctx context.Context, auctionID string) ([]*domain.WinnerQueueEntry, error) {
	var out []*domain.WinnerQueueEntry
	err := r.forUpdate(ctx).Where("auction_id = ?", auctionID).Order("queue_rank ASC").Find(&out).Error
	return out, err
}

func (r *winnerRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*domain.WinnerQueueEntry, error) {
	var out []*domain.WinnerQueueEntry
	err := r.getDB(ctx).
		Where("active = ? AND payment_status = ? AND payment_deadline < ?", true, domain.PaymentStatusPending, now).
		Order("payment_deadline ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
