package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wyfcoding/numbermarket/internal/marketplace/bootstrap"
	"github.com/wyfcoding/numbermarket/pkg/config"
	"github.com/wyfcoding/numbermarket/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "marketctl",
	Short:         "Operate the number marketplace",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/marketplace/config.toml", "config file path")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

// withRuntime 装配运行时并在命令结束后释放。命令行不做缓存与限流，只连数据库与 Kafka。
func withRuntime(ctx context.Context, fn func(rt *bootstrap.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.RateLimit.Enabled = false
	rt, err := bootstrap.New(ctx, cfg, logger.Get(), bootstrap.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}
