package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommissionRecord 平台佣金记录，仅用于报表
type CommissionRecord struct {
	gorm.Model
	OrderID    string          `gorm:"column:order_id;type:varchar(64);uniqueIndex;not null" json:"order_id"`
	ListingID  string          `gorm:"column:listing_id;type:varchar(64);index;not null" json:"listing_id"`
	Price      decimal.Decimal `gorm:"column:price;type:decimal(20,2);not null" json:"price"`
	Commission decimal.Decimal `gorm:"column:commission;type:decimal(20,2);not null" json:"commission"`
	SettledAt  time.Time       `gorm:"column:settled_at;not null" json:"settled_at"`
}

// TableName 表名
func (CommissionRecord) TableName() string {
	return "commission_records"
}

// CommissionRepository 佣金记录仓储接口
type CommissionRepository interface {
	Create(ctx context.Context, r *CommissionRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]*CommissionRecord, error)
}
