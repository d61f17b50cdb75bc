// Package grpc 提供 gRPC 服务端：健康检查与反射，依赖探测结果驱动服务状态
package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wyfcoding/numbermarket/pkg/config"
	"github.com/wyfcoding/numbermarket/pkg/metrics"
	"github.com/wyfcoding/numbermarket/pkg/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName 健康检查中的市场服务名
const ServiceName = "numbermarket.marketplace.v1.Marketplace"

// Check 依赖探测，例如数据库 Ping
type Check struct {
	Name  string
	Ping func(ctx context.Context) error
}

// Server gRPC 服务端
type Server struct {
	srv    *grpc.Server
	health *health.Server
	checks []Check
	logger *slog.Logger
}

// NewServer 创建服务端并注册健康检查与反射
func NewServer(cfg config.GRPCConfig, m *metrics.Metrics, logger *slog.Logger, checks ...Check) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(),
			middleware.GRPCLoggingInterceptor(m),
		),
	}
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.MaxConcurrentStreams)))
	}
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{srv: srv, health: hs, checks: checks, logger: logger}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s
}

// CheckDependencies 检查全部依赖并更新服务状态，返回汇总的失败
func (s *Server) CheckDependencies(ctx context.Context) error {
	var errs []error
	for _, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	if len(errs) > 0 {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		err := errors.Join(errs...)
		s.logger.Warn("dependency check failed", "error", err)
		return err
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// WatchDependencies 周期探测，直到 ctx 结束
func (s *Server) WatchDependencies(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			_ = s.CheckDependencies(checkCtx)
			cancel()
		}
	}
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve 在监听器上提供服务，阻塞直到停止
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server starting", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop 标记下线并优雅停止
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
