// Package mysql 基于 GORM 的市场仓储实现。
// 事务中的读取使用 SELECT ... FOR UPDATE，聚合保存按 version 比较并交换。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type base struct {
	db *gorm.DB
}

func (b base) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return b.db.WithContext(ctx)
}

// forUpdate 事务内加行锁，事务外普通读取
func (b base) forUpdate(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return b.db.WithContext(ctx)
}

// translate 将 GORM 错误映射为领域错误
func translate(err error, notFound error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", subject, notFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s already exists: %w", subject, domain.ErrConflict)
	default:
		return err
	}
}

// casSave 按 version 更新全部字段，未命中时返回 ErrConflict
func casSave(db *gorm.DB, model any, version *int64, subject string) error {
	current := *version
	*version = current + 1
	res := db.Model(model).
		Where("version = ?", current).
		Select("*").
		Omit("id", "created_at", "deleted_at").
		Updates(model)
	if res.Error != nil {
		*version = current
		return res.Error
	}
	if res.RowsAffected == 0 {
		*version = current
		return fmt.Errorf("%s version %d is stale: %w", subject, current, domain.ErrConflict)
	}
	return nil
}

// TxManager GORM 事务管理，事务句柄通过 contextx 传递给仓储
type TxManager struct {
	db *gorm.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTx 在事务中执行 fn；ctx 已携带事务时直接复用
func (m *TxManager) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return fn(ctx)
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextx.WithTx(ctx, tx))
	})
}

// NewRepositories 创建全部仓储
func NewRepositories(db *gorm.DB) domain.Repositories {
	b := base{db: db}
	return domain.Repositories{
		Accounts:     &accountRepository{b},
		Ledger:       &ledgerRepository{b},
		Listings:     &listingRepository{b},
		Auctions:     &auctionRepository{b},
		Bids:         &bidRepository{b},
		Participants: &participantRepository{b},
		Deposits:     &depositRepository{b},
		Winners:      &winnerRepository{b},
		Orders:       &orderRepository{b},
		Activations:  &activationRepository{b},
		Escrows:      &escrowRepository{b},
		Commissions:  &commissionRepository{b},
		Outbox:       &outboxRepository{b},
	}
}

// Models 需要建表的全部模型
func Models() []any {
	return []any{
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Listing{},
		&domain.Auction{},
		&domain.Bid{},
		&domain.Participant{},
		&domain.GuaranteeDeposit{},
		&domain.WinnerQueueEntry{},
		&domain.PurchaseOrder{},
		&domain.ActivationRequest{},
		&domain.EscrowPayment{},
		&domain.CommissionRecord{},
		&domain.OutboxMessage{},
	}
}

// Migrate 自动建表
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(Models()...)
}
