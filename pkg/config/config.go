// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wyfcoding/numbermarket/pkg/logger"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// gRPC 服务配置
	GRPC GRPCConfig `mapstructure:"grpc"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger logger.Config `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// 市场业务参数
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	// 定时扫描配置
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// Addr 监听地址
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 最大并发流数
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams"`
}

// Addr 监听地址
func (c GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql 或 memory（进程内存储，仅用于本地开发）
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 启动时自动建表
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用（关闭时使用进程内锁且不缓存账户）
	Enabled bool `mapstructure:"enabled"`
	// 主机地址
	Host string `mapstructure:"host"`
	// 端口
	Port int `mapstructure:"port"`
	// 密码
	Password string `mapstructure:"password"`
	// 数据库编号
	DB int `mapstructure:"db"`
	// 最大连接数
	MaxPoolSize int `mapstructure:"max_pool_size"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
	// 账户缓存有效期（秒）
	CacheTTL int `mapstructure:"cache_ttl"`
	// 分布式锁持有时间（毫秒）
	LockTTL int `mapstructure:"lock_ttl"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// 是否启用（关闭时通知只写日志）
	Enabled bool `mapstructure:"enabled"`
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 通知主题
	NotificationTopic string `mapstructure:"notification_topic"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// 指标路径（挂在 HTTP 服务上）
	Path string `mapstructure:"path"`
}

// RateLimitConfig 出价接口限流
type RateLimitConfig struct {
	// 是否启用（需 Redis）
	Enabled bool `mapstructure:"enabled"`
	// 每个账户每秒出价次数
	BidsPerSecond int `mapstructure:"bids_per_second"`
	// 突发容量
	Burst int `mapstructure:"burst"`
}

// MarketplaceConfig 市场业务参数
type MarketplaceConfig struct {
	// 保证金比例
	DepositRate float64 `mapstructure:"deposit_rate"`
	// 平台佣金比例
	CommissionRate float64 `mapstructure:"commission_rate"`
	// 中标付款窗口
	PaymentWindow time.Duration `mapstructure:"payment_window"`
	// 卖家交付窗口
	ActivationWindow time.Duration `mapstructure:"activation_window"`
	// 余额校验容差
	FundsTolerance float64 `mapstructure:"funds_tolerance"`
	// 违约计分暂停阈值
	SuspendThreshold int `mapstructure:"suspend_threshold"`
	// 管理员通知账户
	AdminAccountID string `mapstructure:"admin_account_id"`
	// 单条命令超时
	TxTimeout time.Duration `mapstructure:"tx_timeout"`
}

// SchedulerConfig 定时扫描配置
type SchedulerConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// 结拍扫描间隔
	AuctionInterval time.Duration `mapstructure:"auction_interval"`
	// 付款超时扫描间隔
	PaymentInterval time.Duration `mapstructure:"payment_interval"`
	// 交付超时扫描间隔
	ActivationInterval time.Duration `mapstructure:"activation_interval"`
	// 通知投递间隔
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
	// 每轮最多处理条数
	BatchSize int `mapstructure:"batch_size"`
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖。文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// 环境变量覆盖，APP_DATABASE_DSN -> database.dsn
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for mysql driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("rate limiting requires redis")
	}
	m := c.Marketplace
	if m.DepositRate <= 0 || m.DepositRate >= 1 {
		return fmt.Errorf("invalid deposit_rate: %v", m.DepositRate)
	}
	if m.CommissionRate < 0 || m.CommissionRate >= 1 {
		return fmt.Errorf("invalid commission_rate: %v", m.CommissionRate)
	}
	if m.PaymentWindow <= 0 || m.ActivationWindow <= 0 {
		return fmt.Errorf("payment_window and activation_window must be positive")
	}
	if m.TxTimeout <= 0 {
		return fmt.Errorf("tx_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "marketplace")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.max_concurrent_streams", 1000)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)
	v.SetDefault("redis.cache_ttl", 60)
	v.SetDefault("redis.lock_ttl", 10000)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.notification_topic", "marketplace.notifications")
	v.SetDefault("kafka.write_timeout", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/marketplace.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.bids_per_second", 5)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("marketplace.deposit_rate", 0.05)
	v.SetDefault("marketplace.commission_rate", 0.02)
	v.SetDefault("marketplace.payment_window", "48h")
	v.SetDefault("marketplace.activation_window", "48h")
	v.SetDefault("marketplace.funds_tolerance", 1)
	v.SetDefault("marketplace.suspend_threshold", 3)
	v.SetDefault("marketplace.admin_account_id", "admin")
	v.SetDefault("marketplace.tx_timeout", "5s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.auction_interval", "60s")
	v.SetDefault("scheduler.payment_interval", "5m")
	v.SetDefault("scheduler.activation_interval", "5m")
	v.SetDefault("scheduler.outbox_interval", "5s")
	v.SetDefault("scheduler.batch_size", 100)
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
