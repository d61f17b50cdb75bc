// Package domain 号码交易市场（拍卖、担保交易、结算）的领域模型
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerKind 资金流水类型
type LedgerKind string

const (
	LedgerKindTopUp            LedgerKind = "TOP_UP"            // 外部支付渠道充值
	LedgerKindDepositBlock     LedgerKind = "DEPOSIT_BLOCK"     // 冻结竞拍保证金
	LedgerKindDepositRelease   LedgerKind = "DEPOSIT_RELEASE"   // 退还保证金
	LedgerKindDepositBurn      LedgerKind = "DEPOSIT_BURN"      // 没收保证金
	LedgerKindPurchaseReserve  LedgerKind = "PURCHASE_RESERVE"  // 冻结购买款
	LedgerKindPurchaseRefund   LedgerKind = "PURCHASE_REFUND"   // 退还购买款
	LedgerKindSettlementDebit  LedgerKind = "SETTLEMENT_DEBIT"  // 结算扣减买家冻结款
	LedgerKindSettlementCredit LedgerKind = "SETTLEMENT_CREDIT" // 结算入账卖家
)

// Account 资金账户
// WalletBalance 为可用余额，BlockedBalance 为冻结余额（保证金、待结算购买款）。
type Account struct {
	gorm.Model
	// 账户 ID (业务主键)
	AccountID string `gorm:"column:account_id;type:varchar(64);uniqueIndex;not null" json:"account_id"`
	// 可用余额
	WalletBalance decimal.Decimal `gorm:"column:wallet_balance;type:decimal(20,2);default:0;not null" json:"wallet_balance"`
	// 冻结余额，等于该账户所有有效冻结之和
	BlockedBalance decimal.Decimal `gorm:"column:blocked_balance;type:decimal(20,2);default:0;not null" json:"blocked_balance"`
	// 卖家违约计分
	NegativeScore int `gorm:"column:negative_score;default:0;not null" json:"negative_score"`
	// 是否暂停
	Suspended bool `gorm:"column:suspended;default:false;not null" json:"suspended"`
	// 乐观锁版本号
	Version int64 `gorm:"column:version;default:0;not null" json:"version"`

	entries []*LedgerEntry `gorm:"-"`
}

// TableName 表名
func (Account) TableName() string {
	return "accounts"
}

// Movement 描述一次余额变动的流水信息
type Movement struct {
	Kind        LedgerKind
	Reference   string
	Description string
	At          time.Time
}

// NewAccount 开户
func NewAccount(accountID string) *Account {
	return &Account{
		AccountID:      accountID,
		WalletBalance:  decimal.Zero,
		BlockedBalance: decimal.Zero,
	}
}

// Credit 可用余额入账
func (a *Account) Credit(amount decimal.Decimal, mv Movement) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive: %w", ErrInvalidArgument)
	}
	a.WalletBalance = a.WalletBalance.Add(amount)
	a.record(amount, decimal.Zero, mv)
	return nil
}

// Reserve 冻结：整笔金额从可用余额移入冻结余额，不足则整体失败
func (a *Account) Reserve(amount decimal.Decimal, mv Movement) error {
	if amount.IsNegative() {
		return fmt.Errorf("reserve amount must not be negative: %w", ErrInvalidArgument)
	}
	if a.WalletBalance.LessThan(amount) {
		return fmt.Errorf("account %s needs %s, wallet %s: %w", a.AccountID, amount, a.WalletBalance, ErrInsufficientFunds)
	}
	if amount.IsZero() {
		return nil
	}
	a.WalletBalance = a.WalletBalance.Sub(amount)
	a.BlockedBalance = a.BlockedBalance.Add(amount)
	a.record(amount.Neg(), amount, mv)
	return nil
}

// Release 解冻：冻结余额退回可用余额
func (a *Account) Release(amount decimal.Decimal, mv Movement) error {
	if err := a.checkBlocked(amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	a.BlockedBalance = a.BlockedBalance.Sub(amount)
	a.WalletBalance = a.WalletBalance.Add(amount)
	a.record(amount, amount.Neg(), mv)
	return nil
}

// Consume 扣除冻结资金且不退回可用余额（没收保证金、结算扣款）
func (a *Account) Consume(amount decimal.Decimal, mv Movement) error {
	if err := a.checkBlocked(amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	a.BlockedBalance = a.BlockedBalance.Sub(amount)
	a.record(decimal.Zero, amount.Neg(), mv)
	return nil
}

// Penalize 卖家违约计分 +1，达到阈值时暂停账户。返回本次是否触发暂停。
func (a *Account) Penalize(threshold int) bool {
	a.NegativeScore++
	if threshold > 0 && !a.Suspended && a.NegativeScore >= threshold {
		a.Suspended = true
		return true
	}
	return false
}

// TakeEntries 取出尚未持久化的流水
func (a *Account) TakeEntries() []*LedgerEntry {
	out := a.entries
	a.entries = nil
	return out
}

// Exposure 账户总资金（可用 + 冻结）
func (a *Account) Exposure() decimal.Decimal {
	return a.WalletBalance.Add(a.BlockedBalance)
}

func (a *Account) checkBlocked(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("amount must not be negative: %w", ErrInvalidArgument)
	}
	if a.BlockedBalance.LessThan(amount) {
		return fmt.Errorf("account %s blocked %s below %s: %w", a.AccountID, a.BlockedBalance, amount, ErrInvalidState)
	}
	return nil
}

func (a *Account) record(walletDelta, blockedDelta decimal.Decimal, mv Movement) {
	at := mv.At
	if at.IsZero() {
		at = time.Now()
	}
	a.entries = append(a.entries, &LedgerEntry{
		EntryID:      uuid.NewString(),
		AccountID:    a.AccountID,
		SignedAmount: walletDelta,
		BlockedDelta: blockedDelta,
		Kind:         mv.Kind,
		Reference:    mv.Reference,
		Description:  mv.Description,
		OccurredAt:   at,
	})
}

// LedgerEntry 资金流水（只追加，不修改）
type LedgerEntry struct {
	gorm.Model
	EntryID   string `gorm:"column:entry_id;type:varchar(64);uniqueIndex;not null" json:"entry_id"`
	AccountID string `gorm:"column:account_id;type:varchar(64);index;not null" json:"account_id"`
	// 可用余额变动（正为入账）
	SignedAmount decimal.Decimal `gorm:"column:signed_amount;type:decimal(20,2);not null" json:"signed_amount"`
	// 冻结余额变动
	BlockedDelta decimal.Decimal `gorm:"column:blocked_delta;type:decimal(20,2);not null" json:"blocked_delta"`
	Kind         LedgerKind      `gorm:"column:kind;type:varchar(32);index;not null" json:"kind"`
	Reference    string          `gorm:"column:reference;type:varchar(64);index" json:"reference"`
	Description  string          `gorm:"column:description;type:varchar(255)" json:"description"`
	OccurredAt   time.Time       `gorm:"column:occurred_at;not null" json:"occurred_at"`
}

// TableName 表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// AccountRepository 账户仓储接口
// 在事务上下文中 Get 需锁定行（SELECT ... FOR UPDATE），Save 按 version 做比较并交换。
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, accountID string) (*Account, error)
	Save(ctx context.Context, account *Account) error
}

// LedgerRepository 资金流水仓储接口
type LedgerRepository interface {
	Append(ctx context.Context, entries ...*LedgerEntry) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*LedgerEntry, int64, error)
	ExistsByReference(ctx context.Context, accountID string, kind LedgerKind, reference string) (bool, error)
}

// AccountCache 账户读缓存（可选）
type AccountCache interface {
	Get(ctx context.Context, accountID string) (*Account, error)
	Save(ctx context.Context, account *Account) error
	Delete(ctx context.Context, accountIDs ...string) error
}
