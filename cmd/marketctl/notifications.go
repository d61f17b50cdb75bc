package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/pkg/mq"
)

var (
	tailGroup   string
	tailAccount string
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsTailCmd)
	notificationsTailCmd.Flags().StringVar(&tailGroup, "group", "marketctl", "consumer group")
	notificationsTailCmd.Flags().StringVar(&tailAccount, "account", "", "only show notifications for this account")
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Inspect marketplace notifications",
}

var notificationsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the notification topic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Kafka.Enabled {
			return fmt.Errorf("kafka is disabled in %s", configPath)
		}
		consumer, err := mq.NewConsumer(mq.KafkaConfig{Brokers: cfg.Kafka.Brokers, GroupID: tailGroup}, cfg.Kafka.NotificationTopic)
		if err != nil {
			return err
		}
		defer consumer.Close()

		ctx := cmd.Context()
		enc := json.NewEncoder(cmd.OutOrStdout())
		for {
			msg, err := consumer.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if tailAccount != "" && msg.Key != tailAccount {
				continue
			}
			var n domain.Notification
			if err := msg.UnmarshalPayload(&n); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skip malformed message at offset %d: %v\n", msg.Offset, err)
				continue
			}
			if err := enc.Encode(n); err != nil {
				return err
			}
		}
	},
}
