// Package bootstrap 按配置装配市场上下文：存储、Redis、Kafka、指标与应用服务
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/application"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/lock"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/notifier"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/memory"
	mysqlrepo "github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/mysql"
	redisrepo "github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/redis"
	grpcserver "github.com/wyfcoding/numbermarket/internal/marketplace/interfaces/grpc"
	"github.com/wyfcoding/numbermarket/pkg/cache"
	"github.com/wyfcoding/numbermarket/pkg/config"
	"github.com/wyfcoding/numbermarket/pkg/db"
	"github.com/wyfcoding/numbermarket/pkg/metrics"
	"github.com/wyfcoding/numbermarket/pkg/mq"
	"github.com/wyfcoding/numbermarket/pkg/ratelimit"
)

// Runtime 装配完成的依赖
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Marketplace *application.Marketplace
	// RateLimiter 未启用 Redis 或限流时为空
	RateLimiter ratelimit.RateLimiter

	DB    *db.DB
	Redis *cache.RedisCache

	closers []func() error
}

// Options 装配选项
type Options struct {
	// 外部注入的 Redis 客户端（测试中使用 miniredis），为空时按配置连接
	Redis *cache.RedisCache
	Clock domain.Clock
}

// New 按配置装配运行时，失败时释放已建立的连接
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (rt *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()
	rt = r

	rt.Metrics = metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err = rt.Metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	deps := application.Dependencies{
		Rules:     application.RulesFromConfig(cfg.Marketplace),
		TxTimeout: cfg.Marketplace.TxTimeout,
		Logger:    logger,
		Metrics:   rt.Metrics,
		Clock:     opts.Clock,
	}

	switch cfg.Database.Driver {
	case "mysql":
		rt.DB, err = db.Init(db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.DB.Close)
		if cfg.Database.AutoMigrate {
			if err = mysqlrepo.Migrate(ctx, rt.DB.DB); err != nil {
				return nil, err
			}
		}
		deps.Repos = mysqlrepo.NewRepositories(rt.DB.DB)
		deps.Tx = mysqlrepo.NewTxManager(rt.DB.DB)
	default:
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.NewStore()
		deps.Repos = store.Repositories()
		deps.Tx = store
	}

	rt.Redis = opts.Redis
	if rt.Redis == nil && cfg.Redis.Enabled {
		rt.Redis, err = cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.Redis.Close)
	}
	if rt.Redis != nil {
		deps.Locker = lock.NewRedisLocker(rt.Redis, time.Duration(cfg.Redis.LockTTL)*time.Millisecond, logger)
		deps.Cache = redisrepo.NewAccountCache(rt.Redis.GetClient(), time.Duration(cfg.Redis.CacheTTL)*time.Second)
		if cfg.RateLimit.Enabled {
			rt.RateLimiter = ratelimit.NewRedisRateLimiter(rt.Redis.GetClient())
		}
	} else {
		deps.Locker = lock.NewMemoryLocker()
	}

	var n domain.Notifier = notifier.NewLogNotifier(logger)
	if cfg.Kafka.Enabled {
		producer, perr := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if perr != nil {
			return nil, perr
		}
		rt.closers = append(rt.closers, producer.Close)
		n = notifier.NewKafkaNotifier(producer, cfg.Kafka.NotificationTopic)
	}

	rt.Marketplace = application.NewMarketplace(deps, n)
	return rt, nil
}

// Checks 依赖探测，供健康检查使用
func (r *Runtime) Checks() []grpcserver.Check {
	var checks []grpcserver.Check
	if r.DB != nil {
		checks = append(checks, grpcserver.Check{Name: "database", Ping: r.DB.Ping})
	}
	if r.Redis != nil {
		checks = append(checks, grpcserver.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return r.Redis.GetClient().Ping(ctx).Err()
		}})
	}
	return checks
}

// Close 按建立的逆序释放连接
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
