// Package job 定时扫描：结拍、付款超时递补、交付超时、通知投递
package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/wyfcoding/numbermarket/internal/marketplace/application"
	"github.com/wyfcoding/numbermarket/pkg/config"
)

// SweepFunc 一轮扫描
type SweepFunc func(ctx context.Context, limit int) (application.SweepResult, error)

// Sweep 命名的扫描任务
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      SweepFunc
}

// Sweeps 市场的全部扫描任务，按依赖顺序排列
func Sweeps(mp *application.Marketplace, cfg config.SchedulerConfig) []Sweep {
	return []Sweep{
		{Name: "auction_resolution", Interval: cfg.AuctionInterval, Run: mp.Resolver.ResolveExpiredAuctions},
		{Name: "payment_escalation", Interval: cfg.PaymentInterval, Run: mp.Winners.EscalateExpiredPayments},
		{Name: "activation_expiry", Interval: cfg.ActivationInterval, Run: mp.Orders.ExpireOverdue},
		{Name: "outbox_relay", Interval: cfg.OutboxInterval, Run: mp.Dispatcher.RelayOutbox},
	}
}

// Scheduler 基于 gocron 的扫描调度器
type Scheduler struct {
	scheduler gocron.Scheduler
	sweeps    []Sweep
	batchSize int
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler 创建调度器并注册扫描任务
func NewScheduler(sweeps []Sweep, batchSize int, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	sch := &Scheduler{scheduler: s, sweeps: sweeps, batchSize: batchSize, logger: logger, ctx: ctx, cancel: cancel}

	for _, sw := range sweeps {
		if sw.Interval <= 0 {
			logger.Warn("sweep disabled", "sweep", sw.Name)
			continue
		}
		_, err := s.NewJob(
			gocron.DurationJob(sw.Interval),
			gocron.NewTask(sch.execute, sw),
			gocron.WithName(sw.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to register sweep %s: %w", sw.Name, err)
		}
	}
	return sch, nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "sweeps", len(s.sweeps))
}

// Stop 停止调度，等待正在执行的扫描结束
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) execute(sw Sweep) {
	res, err := sw.Run(s.ctx, s.batchSize)
	if err != nil {
		s.logger.Error("sweep failed", "sweep", sw.Name, "error", err)
		return
	}
	if res.Processed > 0 || res.Failed > 0 {
		s.logger.Info("sweep finished", "sweep", sw.Name, "processed", res.Processed, "failed", res.Failed, "duration", res.Duration)
	}
}

// RunOnce 依次执行一轮全部扫描，用于命令行手动触发
func RunOnce(ctx context.Context, sweeps []Sweep, limit int) (map[string]application.SweepResult, error) {
	out := make(map[string]application.SweepResult, len(sweeps))
	for _, sw := range sweeps {
		res, err := sw.Run(ctx, limit)
		if err != nil {
			return out, fmt.Errorf("sweep %s: %w", sw.Name, err)
		}
		out[sw.Name] = res
	}
	return out, nil
}
