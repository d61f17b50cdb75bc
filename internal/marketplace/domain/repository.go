package domain

import "context"

// TxManager 事务管理。fn 收到的 ctx 携带事务，仓储在其中读写同一事务。
type TxManager interface {
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Locker 按 key 加互斥锁，返回释放函数。多个 key 由实现方排序去重后依次加锁。
// 锁被占用时返回 ErrConflict。
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// Repositories 市场上下文全部仓储
type Repositories struct {
	Accounts     AccountRepository
	Ledger       LedgerRepository
	Listings     ListingRepository
	Auctions     AuctionRepository
	Bids         BidRepository
	Participants ParticipantRepository
	Deposits     DepositRepository
	Winners      WinnerQueueRepository
	Orders       PurchaseOrderRepository
	Activations  ActivationRepository
	Escrows      EscrowRepository
	Commissions  CommissionRepository
	Outbox       OutboxRepository
}
