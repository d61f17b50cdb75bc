package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuctionStatus 拍卖状态
type AuctionStatus string

const (
	AuctionStatusActive         AuctionStatus = "active"          // 竞拍中
	AuctionStatusPendingPayment AuctionStatus = "pending_payment" // 已结拍，等待中标者付款
	AuctionStatusCompleted      AuctionStatus = "completed"       // 中标者已付款
	AuctionStatusCancelled      AuctionStatus = "cancelled"       // 流拍
)

// WinnerQueueSize 中标队列长度
const WinnerQueueSize = 3

// Auction 拍卖聚合根。一个拍卖挂牌同一时间最多一场进行中（active / pending_payment）的拍卖，
// 流拍或成交订单被取消后可由卖家重新开拍
type Auction struct {
	gorm.Model
	AuctionID       string          `gorm:"column:auction_id;type:varchar(64);uniqueIndex;not null" json:"auction_id"`
	ListingID       string          `gorm:"column:listing_id;type:varchar(64);index;not null" json:"listing_id"`
	SellerID        string          `gorm:"column:seller_id;type:varchar(64);index;not null" json:"seller_id"`
	BasePrice       decimal.Decimal `gorm:"column:base_price;type:decimal(20,2);not null" json:"base_price"`
	CurrentBid      decimal.Decimal `gorm:"column:current_bid;type:decimal(20,2);not null" json:"current_bid"`
	HighestBidderID string          `gorm:"column:highest_bidder_id;type:varchar(64)" json:"highest_bidder_id"`
	EndTime         time.Time       `gorm:"column:end_time;index;not null" json:"end_time"`
	Status          AuctionStatus   `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	ResolvedAt      *time.Time      `gorm:"column:resolved_at" json:"resolved_at"`
	Version         int64           `gorm:"column:version;default:0;not null" json:"version"`
}

// TableName 表名
func (Auction) TableName() string {
	return "auctions"
}

// NewAuction 为拍卖挂牌开拍，当前价从起拍价开始
func NewAuction(auctionID string, listing *Listing, endTime time.Time) *Auction {
	return &Auction{
		AuctionID:  auctionID,
		ListingID:  listing.ListingID,
		SellerID:   listing.SellerID,
		BasePrice:  listing.BasePrice,
		CurrentBid: listing.BasePrice,
		EndTime:    endTime,
		Status:     AuctionStatusActive,
	}
}

// IsExpired 是否已到结拍时间
func (a *Auction) IsExpired(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// AcceptBid 接受出价，返回被超越的前最高出价者（可能为空）
func (a *Auction) AcceptBid(bidderID string, amount decimal.Decimal, now time.Time) (string, error) {
	if a.Status != AuctionStatusActive || a.IsExpired(now) {
		return "", ErrAuctionClosed
	}
	if !amount.GreaterThan(a.CurrentBid) {
		return "", fmt.Errorf("%s <= %s: %w", amount, a.CurrentBid, ErrBidTooLow)
	}
	prev := a.HighestBidderID
	a.CurrentBid = amount
	a.HighestBidderID = bidderID
	return prev, nil
}

// MarkPendingPayment 结拍，进入等待付款
func (a *Auction) MarkPendingPayment(now time.Time) error {
	if a.Status != AuctionStatusActive {
		return fmt.Errorf("auction %s is %s: %w", a.AuctionID, a.Status, ErrInvalidState)
	}
	a.Status = AuctionStatusPendingPayment
	a.ResolvedAt = &now
	return nil
}

// Cancel 流拍（无人出价或全部中标者违约）
func (a *Auction) Cancel(now time.Time) error {
	switch a.Status {
	case AuctionStatusActive, AuctionStatusPendingPayment:
	default:
		return fmt.Errorf("auction %s is %s: %w", a.AuctionID, a.Status, ErrInvalidState)
	}
	a.Status = AuctionStatusCancelled
	if a.ResolvedAt == nil {
		a.ResolvedAt = &now
	}
	return nil
}

// IsLive 拍卖仍在进行或等待付款
func (a *Auction) IsLive() bool {
	return a.Status == AuctionStatusActive || a.Status == AuctionStatusPendingPayment
}

// Complete 中标者付款完成
func (a *Auction) Complete() error {
	if a.Status != AuctionStatusPendingPayment {
		return fmt.Errorf("auction %s is %s: %w", a.AuctionID, a.Status, ErrInvalidState)
	}
	a.Status = AuctionStatusCompleted
	return nil
}

// Bid 出价记录（只追加）
type Bid struct {
	gorm.Model
	AuctionID string          `gorm:"column:auction_id;type:varchar(64);index;not null" json:"auction_id"`
	ListingID string          `gorm:"column:listing_id;type:varchar(64);index;not null" json:"listing_id"`
	BidderID  string          `gorm:"column:bidder_id;type:varchar(64);index;not null" json:"bidder_id"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	PlacedAt  time.Time       `gorm:"column:placed_at;not null" json:"placed_at"`
}

// TableName 表名
func (Bid) TableName() string {
	return "bids"
}

// Participant 竞拍参与者（每个拍卖每个出价人一条）
type Participant struct {
	gorm.Model
	AuctionID      string          `gorm:"column:auction_id;type:varchar(64);uniqueIndex:uk_auction_bidder;not null" json:"auction_id"`
	BidderID       string          `gorm:"column:bidder_id;type:varchar(64);uniqueIndex:uk_auction_bidder;not null" json:"bidder_id"`
	HighestBid     decimal.Decimal `gorm:"column:highest_bid;type:decimal(20,2);not null" json:"highest_bid"`
	BidCount       int             `gorm:"column:bid_count;default:0;not null" json:"bid_count"`
	DepositAmount  decimal.Decimal `gorm:"column:deposit_amount;type:decimal(20,2);not null" json:"deposit_amount"`
	DepositBlocked bool            `gorm:"column:deposit_blocked;default:false;not null" json:"deposit_blocked"`
	Rank           int             `gorm:"column:final_rank;default:0;not null" json:"rank"`
	IsTop3         bool            `gorm:"column:is_top3;default:false;not null" json:"is_top3"`
	LastBidAt      time.Time       `gorm:"column:last_bid_at;not null" json:"last_bid_at"`
}

// TableName 表名
func (Participant) TableName() string {
	return "auction_participants"
}

// RecordBid 记录一次出价
func (p *Participant) RecordBid(amount decimal.Decimal, at time.Time) {
	p.HighestBid = amount
	p.BidCount++
	p.LastBidAt = at
}

// RankParticipants 按最高出价降序排名，同价时先出价者在前，再按出价人 ID 排序。
// 排名写回 Rank / IsTop3。
func RankParticipants(ps []*Participant) []*Participant {
	out := make([]*Participant, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].HighestBid.Cmp(out[j].HighestBid); c != 0 {
			return c > 0
		}
		if !out[i].LastBidAt.Equal(out[j].LastBidAt) {
			return out[i].LastBidAt.Before(out[j].LastBidAt)
		}
		return out[i].BidderID < out[j].BidderID
	})
	for i, p := range out {
		p.Rank = i + 1
		p.IsTop3 = i < WinnerQueueSize
	}
	return out
}

// DepositStatus 保证金状态
type DepositStatus string

const (
	DepositStatusBlocked  DepositStatus = "blocked"  // 冻结中
	DepositStatusReleased DepositStatus = "released" // 已退还
	DepositStatusBurned   DepositStatus = "burned"   // 已没收
	DepositStatusApplied  DepositStatus = "applied"  // 已抵扣购买款
)

// GuaranteeDeposit 竞拍保证金，每个 (账户, 拍卖) 至多一条
type GuaranteeDeposit struct {
	gorm.Model
	AccountID string          `gorm:"column:account_id;type:varchar(64);uniqueIndex:uk_account_auction;not null" json:"account_id"`
	AuctionID string          `gorm:"column:auction_id;type:varchar(64);uniqueIndex:uk_account_auction;not null" json:"auction_id"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Status    DepositStatus   `gorm:"column:status;type:varchar(16);not null" json:"status"`
	Version   int64           `gorm:"column:version;default:0;not null" json:"version"`
}

// TableName 表名
func (GuaranteeDeposit) TableName() string {
	return "guarantee_deposits"
}

func (d *GuaranteeDeposit) settle(to DepositStatus) error {
	if d.Status != DepositStatusBlocked {
		return fmt.Errorf("deposit %s/%s is %s: %w", d.AccountID, d.AuctionID, d.Status, ErrInvalidState)
	}
	d.Status = to
	return nil
}

// Release 退还
func (d *GuaranteeDeposit) Release() error { return d.settle(DepositStatusReleased) }

// Burn 没收
func (d *GuaranteeDeposit) Burn() error { return d.settle(DepositStatusBurned) }

// Apply 抵扣购买款
func (d *GuaranteeDeposit) Apply() error { return d.settle(DepositStatusApplied) }

// PaymentStatus 中标付款状态
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusSkipped   PaymentStatus = "skipped" // 前序名次已付款，本名次无需再付
)

// WinnerQueueEntry 中标队列条目
// 同一拍卖只有 Active 的条目是当前应付款人，其余 pending 条目处于休眠。
type WinnerQueueEntry struct {
	gorm.Model
	AuctionID       string          `gorm:"column:auction_id;type:varchar(64);uniqueIndex:uk_auction_rank;not null" json:"auction_id"`
	Rank            int             `gorm:"column:queue_rank;uniqueIndex:uk_auction_rank;not null" json:"rank"`
	AccountID       string          `gorm:"column:account_id;type:varchar(64);index;not null" json:"account_id"`
	BidAmount       decimal.Decimal `gorm:"column:bid_amount;type:decimal(20,2);not null" json:"bid_amount"`
	DepositAmount   decimal.Decimal `gorm:"column:deposit_amount;type:decimal(20,2);not null" json:"deposit_amount"`
	RemainingAmount decimal.Decimal `gorm:"column:remaining_amount;type:decimal(20,2);not null" json:"remaining_amount"`
	PaymentStatus   PaymentStatus   `gorm:"column:payment_status;type:varchar(16);index;not null" json:"payment_status"`
	PaymentDeadline time.Time       `gorm:"column:payment_deadline;index;not null" json:"payment_deadline"`
	Active          bool            `gorm:"column:active;default:false;not null" json:"active"`
	Version         int64           `gorm:"column:version;default:0;not null" json:"version"`
}

// TableName 表名
func (WinnerQueueEntry) TableName() string {
	return "winner_queue_entries"
}

// NewWinnerQueueEntry 由排名后的参与者生成队列条目
func NewWinnerQueueEntry(auctionID string, p *Participant, deadline time.Time) *WinnerQueueEntry {
	return &WinnerQueueEntry{
		AuctionID:       auctionID,
		Rank:            p.Rank,
		AccountID:       p.BidderID,
		BidAmount:       p.HighestBid,
		DepositAmount:   p.DepositAmount,
		RemainingAmount: p.HighestBid.Sub(p.DepositAmount),
		PaymentStatus:   PaymentStatusPending,
		PaymentDeadline: deadline,
		Active:          p.Rank == 1,
	}
}

// IsOverdue 当前付款人是否已超过付款截止时间
func (e *WinnerQueueEntry) IsOverdue(now time.Time) bool {
	return e.Active && e.PaymentStatus == PaymentStatusPending && now.After(e.PaymentDeadline)
}

// Activate 晋升为当前付款人，并重置截止时间
func (e *WinnerQueueEntry) Activate(deadline time.Time) error {
	if e.PaymentStatus != PaymentStatusPending {
		return fmt.Errorf("winner rank %d is %s: %w", e.Rank, e.PaymentStatus, ErrInvalidState)
	}
	e.Active = true
	e.PaymentDeadline = deadline
	return nil
}

// Fail 付款违约
func (e *WinnerQueueEntry) Fail() error {
	if !e.Active || e.PaymentStatus != PaymentStatusPending {
		return fmt.Errorf("winner rank %d is %s: %w", e.Rank, e.PaymentStatus, ErrInvalidState)
	}
	e.PaymentStatus = PaymentStatusFailed
	e.Active = false
	return nil
}

// Complete 付款完成
func (e *WinnerQueueEntry) Complete() error {
	if !e.Active || e.PaymentStatus != PaymentStatusPending {
		return ErrNotCurrentWinner
	}
	e.PaymentStatus = PaymentStatusCompleted
	e.Active = false
	return nil
}

// Skip 前序名次已付款，休眠条目作废
func (e *WinnerQueueEntry) Skip() error {
	if e.Active || e.PaymentStatus != PaymentStatusPending {
		return fmt.Errorf("winner rank %d is %s: %w", e.Rank, e.PaymentStatus, ErrInvalidState)
	}
	e.PaymentStatus = PaymentStatusSkipped
	return nil
}

// NextPending 返回名次大于 rank 的最小 pending 条目，entries 需按名次升序
func NextPending(entries []*WinnerQueueEntry, rank int) *WinnerQueueEntry {
	for _, e := range entries {
		if e.Rank > rank && e.PaymentStatus == PaymentStatusPending {
			return e
		}
	}
	return nil
}

// AuctionRepository 拍卖仓储接口
type AuctionRepository interface {
	Create(ctx context.Context, auction *Auction) error
	Get(ctx context.Context, auctionID string) (*Auction, error)
	// GetByListing 返回挂牌最近一场拍卖
	GetByListing(ctx context.Context, listingID string) (*Auction, error)
	Save(ctx context.Context, auction *Auction) error
	// ListExpired 返回已到结拍时间仍为 active 的拍卖
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Auction, error)
}

// BidRepository 出价仓储接口
type BidRepository interface {
	Append(ctx context.Context, bid *Bid) error
	ListByAuction(ctx context.Context, auctionID string) ([]*Bid, error)
}

// ParticipantRepository 参与者仓储接口
type ParticipantRepository interface {
	Get(ctx context.Context, auctionID, bidderID string) (*Participant, error)
	// Save 插入或更新
	Save(ctx context.Context, p *Participant) error
	ListByAuction(ctx context.Context, auctionID string) ([]*Participant, error)
}

// DepositRepository 保证金仓储接口
type DepositRepository interface {
	Get(ctx context.Context, accountID, auctionID string) (*GuaranteeDeposit, error)
	// Create 重复的 (账户, 拍卖) 返回 ErrConflict
	Create(ctx context.Context, d *GuaranteeDeposit) error
	Save(ctx context.Context, d *GuaranteeDeposit) error
}

// WinnerQueueRepository 中标队列仓储接口
type WinnerQueueRepository interface {
	Create(ctx context.Context, entries ...*WinnerQueueEntry) error
	Save(ctx context.Context, e *WinnerQueueEntry) error
	// ListByAuction 按名次升序
	ListByAuction(ctx context.Context, auctionID string) ([]*WinnerQueueEntry, error)
	// ListExpiredActive 返回已过付款截止时间的当前付款人
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*WinnerQueueEntry, error)
}
