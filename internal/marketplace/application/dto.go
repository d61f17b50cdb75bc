package application

import (
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// AccountDTO 账户视图
type AccountDTO struct {
	AccountID      string `json:"account_id"`
	WalletBalance  string `json:"wallet_balance"`
	BlockedBalance string `json:"blocked_balance"`
	NegativeScore  int    `json:"negative_score"`
	Suspended      bool   `json:"suspended"`
}

func toAccountDTO(a *domain.Account) *AccountDTO {
	return &AccountDTO{
		AccountID:      a.AccountID,
		WalletBalance:  a.WalletBalance.StringFixed(2),
		BlockedBalance: a.BlockedBalance.StringFixed(2),
		NegativeScore:  a.NegativeScore,
		Suspended:      a.Suspended,
	}
}

// LedgerEntryDTO 流水视图
type LedgerEntryDTO struct {
	EntryID      string `json:"entry_id"`
	Kind         string `json:"kind"`
	SignedAmount string `json:"signed_amount"`
	BlockedDelta string `json:"blocked_delta"`
	Reference    string `json:"reference"`
	Description  string `json:"description"`
	OccurredAt   int64  `json:"occurred_at"`
}

// LedgerPage 分页流水
type LedgerPage struct {
	Entries []*LedgerEntryDTO `json:"entries"`
	Total   int64             `json:"total"`
}

func toLedgerDTO(e *domain.LedgerEntry) *LedgerEntryDTO {
	return &LedgerEntryDTO{
		EntryID:      e.EntryID,
		Kind:         string(e.Kind),
		SignedAmount: e.SignedAmount.StringFixed(2),
		BlockedDelta: e.BlockedDelta.StringFixed(2),
		Reference:    e.Reference,
		Description:  e.Description,
		OccurredAt:   e.OccurredAt.Unix(),
	}
}

// ListingDTO 挂牌视图
type ListingDTO struct {
	ListingID string      `json:"listing_id"`
	Number    string      `json:"number"`
	BasePrice string      `json:"base_price"`
	SaleMode  string      `json:"sale_mode"`
	LineType  string      `json:"line_type"`
	Status    string      `json:"status"`
	SellerID  string      `json:"seller_id"`
	Auction   *AuctionDTO `json:"auction,omitempty"`
}

func toListingDTO(l *domain.Listing, a *domain.Auction) *ListingDTO {
	dto := &ListingDTO{
		ListingID: l.ListingID,
		Number:    l.Number,
		BasePrice: l.BasePrice.StringFixed(2),
		SaleMode:  string(l.SaleMode),
		LineType:  string(l.LineType),
		Status:    string(l.Status),
		SellerID:  l.SellerID,
	}
	if a != nil {
		dto.Auction = toAuctionDTO(a)
	}
	return dto
}

// AuctionDTO 拍卖视图
type AuctionDTO struct {
	AuctionID       string `json:"auction_id"`
	ListingID       string `json:"listing_id"`
	CurrentBid      string `json:"current_bid"`
	HighestBidderID string `json:"highest_bidder_id"`
	EndTime         int64  `json:"end_time"`
	Status          string `json:"status"`
}

func toAuctionDTO(a *domain.Auction) *AuctionDTO {
	return &AuctionDTO{
		AuctionID:       a.AuctionID,
		ListingID:       a.ListingID,
		CurrentBid:      a.CurrentBid.StringFixed(2),
		HighestBidderID: a.HighestBidderID,
		EndTime:         a.EndTime.Unix(),
		Status:          string(a.Status),
	}
}

// WinnerDTO 中标队列视图
type WinnerDTO struct {
	Rank            int    `json:"rank"`
	AccountID       string `json:"account_id"`
	BidAmount       string `json:"bid_amount"`
	RemainingAmount string `json:"remaining_amount"`
	PaymentStatus   string `json:"payment_status"`
	PaymentDeadline int64  `json:"payment_deadline"`
	Active          bool   `json:"active"`
}

func toWinnerDTOs(entries []*domain.WinnerQueueEntry) []*WinnerDTO {
	out := make([]*WinnerDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, &WinnerDTO{
			Rank:            e.Rank,
			AccountID:       e.AccountID,
			BidAmount:       e.BidAmount.StringFixed(2),
			RemainingAmount: e.RemainingAmount.StringFixed(2),
			PaymentStatus:   string(e.PaymentStatus),
			PaymentDeadline: e.PaymentDeadline.Unix(),
			Active:          e.Active,
		})
	}
	return out
}

// OrderDTO 购买订单视图
type OrderDTO struct {
	OrderID             string `json:"order_id"`
	ListingID           string `json:"listing_id"`
	BuyerID             string `json:"buyer_id"`
	SellerID            string `json:"seller_id"`
	LineType            string `json:"line_type"`
	Source              string `json:"source"`
	Status              string `json:"status"`
	Price               string `json:"price"`
	CommissionAmount    string `json:"commission_amount"`
	SellerNetAmount     string `json:"seller_net_amount"`
	BuyerReservedAmount string `json:"buyer_reserved_amount"`
	ActivationDeadline  int64  `json:"activation_deadline"`
	DocumentRef         string `json:"document_ref,omitempty"`
	RejectReason        string `json:"reject_reason,omitempty"`
}

func toOrderDTO(o *domain.PurchaseOrder) *OrderDTO {
	return &OrderDTO{
		OrderID:             o.OrderID,
		ListingID:           o.ListingID,
		BuyerID:             o.BuyerID,
		SellerID:            o.SellerID,
		LineType:            string(o.LineType),
		Source:              string(o.Source),
		Status:              string(o.Status),
		Price:               o.Price.StringFixed(2),
		CommissionAmount:    o.CommissionAmount.StringFixed(2),
		SellerNetAmount:     o.SellerNetAmount.StringFixed(2),
		BuyerReservedAmount: o.BuyerReservedAmount.StringFixed(2),
		ActivationDeadline:  o.ActivationDeadline.Unix(),
		DocumentRef:         o.DocumentRef,
		RejectReason:        o.RejectReason,
	}
}

// EscrowDTO 担保支付视图
type EscrowDTO struct {
	PaymentID   string `json:"payment_id"`
	Code        string `json:"code"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	ListingID   string `json:"listing_id"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	OrderID     string `json:"order_id,omitempty"`
	WithdrawnAt *int64 `json:"withdrawn_at,omitempty"`
}

func toEscrowDTO(p *domain.EscrowPayment) *EscrowDTO {
	dto := &EscrowDTO{
		PaymentID: p.PaymentID,
		Code:      p.Code,
		BuyerID:   p.BuyerID,
		SellerID:  p.SellerID,
		ListingID: p.ListingID,
		Amount:    p.Amount.StringFixed(2),
		Status:    string(p.Status),
		OrderID:   p.OrderID,
	}
	if p.WithdrawnAt != nil {
		ts := p.WithdrawnAt.Unix()
		dto.WithdrawnAt = &ts
	}
	return dto
}

// SweepResult 一轮扫描结果
type SweepResult struct {
	Processed int
	Failed    int
	Duration  time.Duration
}
