package application

import "github.com/wyfcoding/numbermarket/internal/marketplace/domain"

// Marketplace 汇总市场上下文的全部应用服务，供接口层与定时任务使用
type Marketplace struct {
	Accounts   *AccountService
	Listings   *ListingService
	Bidding    *BiddingService
	Resolver   *AuctionResolver
	Winners    *WinnerService
	Orders     *PurchaseOrderService
	Settlement *SettlementService
	Escrow     *EscrowService
	Dispatcher *NotificationDispatcher
}

// NewMarketplace 用同一组依赖创建全部服务
func NewMarketplace(d Dependencies, notifier domain.Notifier) *Marketplace {
	d.normalize()
	return &Marketplace{
		Accounts:   NewAccountService(d),
		Listings:   NewListingService(d),
		Bidding:    NewBiddingService(d),
		Resolver:   NewAuctionResolver(d),
		Winners:    NewWinnerService(d),
		Orders:     NewPurchaseOrderService(d),
		Settlement: NewSettlementService(d),
		Escrow:     NewEscrowService(d),
		Dispatcher: NewNotificationDispatcher(d, notifier),
	}
}
