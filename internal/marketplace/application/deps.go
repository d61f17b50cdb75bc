package application

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/pkg/config"
)

// Metrics 应用层使用的指标接口，由 pkg/metrics 实现
type Metrics interface {
	ObserveCommand(command string, d time.Duration, err error)
	ObserveRetry(command string)
	ObserveSweep(sweep string, processed, failed int)
	ObserveNotification(err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommand(string, time.Duration, error) {}
func (noopMetrics) ObserveRetry(string)                         {}
func (noopMetrics) ObserveSweep(string, int, int)               {}
func (noopMetrics) ObserveNotification(error)                   {}

// Dependencies 应用服务依赖
type Dependencies struct {
	Repos  domain.Repositories
	Tx     domain.TxManager
	Locker domain.Locker
	// 账户读缓存，可为空
	Cache     domain.AccountCache
	Clock     domain.Clock
	Rules     domain.Rules
	TxTimeout time.Duration
	Logger    *slog.Logger
	Metrics   Metrics
}

func (d *Dependencies) normalize() {
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.TxTimeout <= 0 {
		d.TxTimeout = 5 * time.Second
	}
	if d.Rules.DepositRate.IsZero() {
		d.Rules = domain.DefaultRules()
	}
}

// RulesFromConfig 由配置构造业务参数
func RulesFromConfig(c config.MarketplaceConfig) domain.Rules {
	r := domain.DefaultRules()
	if c.DepositRate > 0 {
		r.DepositRate = decimal.NewFromFloat(c.DepositRate)
	}
	if c.CommissionRate >= 0 {
		r.CommissionRate = decimal.NewFromFloat(c.CommissionRate)
	}
	if c.PaymentWindow > 0 {
		r.PaymentWindow = c.PaymentWindow
	}
	if c.ActivationWindow > 0 {
		r.ActivationWindow = c.ActivationWindow
	}
	if c.FundsTolerance >= 0 {
		r.FundsTolerance = decimal.NewFromFloat(c.FundsTolerance)
	}
	r.SuspendThreshold = c.SuspendThreshold
	if c.AdminAccountID != "" {
		r.AdminAccountID = c.AdminAccountID
	}
	return r
}
