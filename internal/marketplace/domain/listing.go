package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleMode 销售方式
type SaleMode string

const (
	SaleModeFixed   SaleMode = "fixed"   // 一口价
	SaleModeAuction SaleMode = "auction" // 拍卖
	SaleModeInquiry SaleMode = "inquiry" // 询价（担保交易）
)

// LineType 号码线路类型
type LineType string

const (
	LineTypeActive   LineType = "active"   // 已开通，需卖家提交证件由管理员审核
	LineTypeInactive LineType = "inactive" // 未开通，需卖家提供激活码
)

// ListingStatus 挂牌状态
type ListingStatus string

const (
	ListingStatusAvailable ListingStatus = "available"
	ListingStatusSold      ListingStatus = "sold"
)

// Listing 号码挂牌
type Listing struct {
	gorm.Model
	ListingID string          `gorm:"column:listing_id;type:varchar(64);uniqueIndex;not null" json:"listing_id"`
	Number    string          `gorm:"column:number;type:varchar(32);index;not null" json:"number"`
	BasePrice decimal.Decimal `gorm:"column:base_price;type:decimal(20,2);not null" json:"base_price"`
	SaleMode  SaleMode        `gorm:"column:sale_mode;type:varchar(16);not null" json:"sale_mode"`
	LineType  LineType        `gorm:"column:line_type;type:varchar(16);not null" json:"line_type"`
	Status    ListingStatus   `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	SellerID  string          `gorm:"column:seller_id;type:varchar(64);index;not null" json:"seller_id"`
	Version   int64           `gorm:"column:version;default:0;not null" json:"version"`
}

// TableName 表名
func (Listing) TableName() string {
	return "listings"
}

// NewListing 创建挂牌
func NewListing(listingID, sellerID, number string, basePrice decimal.Decimal, mode SaleMode, lineType LineType) (*Listing, error) {
	number = strings.TrimSpace(number)
	if listingID == "" || sellerID == "" || number == "" {
		return nil, fmt.Errorf("listing id, seller and number are required: %w", ErrInvalidArgument)
	}
	if err := ValidateAmount("base price", basePrice); err != nil {
		return nil, err
	}
	switch mode {
	case SaleModeFixed, SaleModeAuction, SaleModeInquiry:
	default:
		return nil, fmt.Errorf("unknown sale mode %q: %w", mode, ErrInvalidArgument)
	}
	switch lineType {
	case LineTypeActive, LineTypeInactive:
	default:
		return nil, fmt.Errorf("unknown line type %q: %w", lineType, ErrInvalidArgument)
	}
	return &Listing{
		ListingID: listingID,
		Number:    number,
		BasePrice: basePrice,
		SaleMode:  mode,
		LineType:  lineType,
		Status:    ListingStatusAvailable,
		SellerID:  sellerID,
	}, nil
}

// IsAvailable 是否可售
func (l *Listing) IsAvailable() bool {
	return l.Status == ListingStatusAvailable
}

// MarkSold 标记已售，仅由结算引擎调用
func (l *Listing) MarkSold() error {
	if l.Status == ListingStatusSold {
		return ErrListingSold
	}
	l.Status = ListingStatusSold
	return nil
}

// ListingRepository 挂牌仓储接口
type ListingRepository interface {
	Create(ctx context.Context, listing *Listing) error
	Get(ctx context.Context, listingID string) (*Listing, error)
	Save(ctx context.Context, listing *Listing) error
}
