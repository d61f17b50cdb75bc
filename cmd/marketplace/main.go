package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/numbermarket/internal/marketplace/bootstrap"
	grpcserver "github.com/wyfcoding/numbermarket/internal/marketplace/interfaces/grpc"
	httpserver "github.com/wyfcoding/numbermarket/internal/marketplace/interfaces/http"
	"github.com/wyfcoding/numbermarket/internal/marketplace/interfaces/job"
	"github.com/wyfcoding/numbermarket/pkg/config"
	"github.com/wyfcoding/numbermarket/pkg/logger"
	"github.com/wyfcoding/numbermarket/pkg/middleware"
	"github.com/wyfcoding/numbermarket/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/marketplace/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	log := logger.Get().With("service", cfg.ServiceName, "version", cfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 初始化基础设施与应用服务
	rt, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		log.Error("failed to bootstrap", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error("failed to release resources", "error", err)
		}
	}()

	// 4. 初始化接口层
	// gRPC
	grpcSrv := grpcserver.NewServer(cfg.GRPC, rt.Metrics, log, rt.Checks()...)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecoveryMiddleware(), middleware.GinLoggingMiddleware())
	if cfg.Metrics.Enabled {
		r.Use(middleware.GinMetricsMiddleware(rt.Metrics))
		r.GET(cfg.Metrics.Path, gin.WrapH(rt.Metrics.Handler()))
	}
	r.GET("/health", func(c *gin.Context) {
		if err := grpcSrv.CheckDependencies(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var bidGuards []gin.HandlerFunc
	if rt.RateLimiter != nil {
		bidGuards = append(bidGuards, middleware.RateLimitMiddleware(rt.RateLimiter, "bid",
			ratelimit.BidLimit(cfg.RateLimit),
			middleware.HeaderKey(httpserver.AccountHeader)))
	}
	httpserver.NewMarketplaceHandler(rt.Marketplace, bidGuards...).RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 定时扫描
	var sched *job.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = job.NewScheduler(job.Sweeps(rt.Marketplace, cfg.Scheduler), cfg.Scheduler.BatchSize, log)
		if err != nil {
			log.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
	}

	// 5. 启动服务
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			log.Error("failed to listen gRPC", "addr", cfg.GRPC.Addr(), "error", err)
			os.Exit(1)
		}
		g.Go(func() error { return grpcSrv.Serve(lis) })
		g.Go(func() error {
			grpcSrv.WatchDependencies(gctx, 15*time.Second)
			return nil
		})
	}

	if sched != nil {
		sched.Start()
	}

	// 6. 优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if sched != nil {
			if err := sched.Stop(); err != nil {
				log.Error("scheduler shutdown failed", "error", err)
			}
		}
		grpcSrv.Stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
	}
	log.Info("server exited")
}
