// Package memory 进程内存储，实现全部仓储接口，用于单元测试与本地开发。
// 事务期间独占整个存储，失败时回滚到快照。
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

type txKey struct{}

type dataset struct {
	nextID       uint
	accounts     map[string]domain.Account
	ledger       []domain.LedgerEntry
	listings     map[string]domain.Listing
	auctions     map[string]domain.Auction
	bids         []domain.Bid
	participants map[string]domain.Participant
	deposits     map[string]domain.GuaranteeDeposit
	winners      map[string]domain.WinnerQueueEntry
	orders       map[string]domain.PurchaseOrder
	activations  []domain.ActivationRequest
	escrows      map[string]domain.EscrowPayment
	commissions  []domain.CommissionRecord
	outbox       map[string]domain.OutboxMessage
	outboxOrder  []string
}

func newDataset() *dataset {
	return &dataset{
		accounts:     make(map[string]domain.Account),
		listings:     make(map[string]domain.Listing),
		auctions:     make(map[string]domain.Auction),
		participants: make(map[string]domain.Participant),
		deposits:     make(map[string]domain.GuaranteeDeposit),
		winners:      make(map[string]domain.WinnerQueueEntry),
		orders:       make(map[string]domain.PurchaseOrder),
		escrows:      make(map[string]domain.EscrowPayment),
		outbox:       make(map[string]domain.OutboxMessage),
	}
}

func (d *dataset) clone() *dataset {
	return &dataset{
		nextID:       d.nextID,
		accounts:     maps.Clone(d.accounts),
		ledger:       slices.Clone(d.ledger),
		listings:     maps.Clone(d.listings),
		auctions:     maps.Clone(d.auctions),
		bids:         slices.Clone(d.bids),
		participants: maps.Clone(d.participants),
		deposits:     maps.Clone(d.deposits),
		winners:      maps.Clone(d.winners),
		orders:       maps.Clone(d.orders),
		activations:  slices.Clone(d.activations),
		escrows:      maps.Clone(d.escrows),
		commissions:  slices.Clone(d.commissions),
		outbox:       maps.Clone(d.outbox),
		outboxOrder:  slices.Clone(d.outboxOrder),
	}
}

func (d *dataset) id() uint {
	d.nextID++
	return d.nextID
}

// Store 内存存储
type Store struct {
	mu   sync.Mutex
	data *dataset
	now  func() time.Time
}

// NewStore 创建空存储
func NewStore() *Store {
	return &Store{data: newDataset(), now: time.Now}
}

// WithTx 实现 domain.TxManager。嵌套调用复用外层事务。
func (s *Store) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// do 在事务内直接访问数据，事务外加锁访问
func (s *Store) do(ctx context.Context, fn func(d *dataset) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}

// Repositories 返回基于本存储的全部仓储
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Accounts:     &accountRepo{s},
		Ledger:       &ledgerRepo{s},
		Listings:     &listingRepo{s},
		Auctions:     &auctionRepo{s},
		Bids:         &bidRepo{s},
		Participants: &participantRepo{s},
		Deposits:     &depositRepo{s},
		Winners:      &winnerRepo{s},
		Orders:       &orderRepo{s},
		Activations:  &activationRepo{s},
		Escrows:      &escrowRepo{s},
		Commissions:  &commissionRepo{s},
		Outbox:       &outboxRepo{s},
	}
}
