package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rules 市场业务参数
type Rules struct {
	// 保证金比例（起拍价的 5%）
	DepositRate decimal.Decimal
	// 平台佣金比例（成交价的 2%）
	CommissionRate decimal.Decimal
	// 中标者付款窗口
	PaymentWindow time.Duration
	// 卖家交付（激活）窗口
	ActivationWindow time.Duration
	// 余额校验容差，吸收舍入误差
	FundsTolerance decimal.Decimal
	// 卖家违约计分达到该值后暂停账户，0 表示不暂停
	SuspendThreshold int
	// 管理员通知接收账户
	AdminAccountID string
}

// DefaultRules 返回默认业务参数
func DefaultRules() Rules {
	return Rules{
		DepositRate:      decimal.NewFromFloat(0.05),
		CommissionRate:   decimal.NewFromFloat(0.02),
		PaymentWindow:    48 * time.Hour,
		ActivationWindow: 48 * time.Hour,
		FundsTolerance:   decimal.NewFromInt(1),
		SuspendThreshold: 3,
		AdminAccountID:   "admin",
	}
}

// DepositFor 计算保证金 floor(basePrice × DepositRate)
func (r Rules) DepositFor(basePrice decimal.Decimal) decimal.Decimal {
	return basePrice.Mul(r.DepositRate).Floor()
}

// CommissionFor 计算佣金 floor(price × CommissionRate) 与卖家净收入
func (r Rules) CommissionFor(price decimal.Decimal) (commission, net decimal.Decimal) {
	commission = price.Mul(r.CommissionRate).Floor()
	return commission, price.Sub(commission)
}
