package main

import (
	"fmt"

	"github.com/spf13/cobra"
	grpcserver "github.com/wyfcoding/numbermarket/internal/marketplace/interfaces/grpc"
	"github.com/wyfcoding/numbermarket/pkg/grpcclient"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var healthAddr string

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "gRPC address, defaults to the configured listener")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the gRPC health of a running marketplace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := healthAddr
		if addr == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr = fmt.Sprintf("127.0.0.1:%d", cfg.GRPC.Port)
		}
		conn, err := grpcclient.NewClient(grpcclient.ClientConfig{Target: addr, ConnTimeout: 3, RequestTimeout: 5, MaxRetries: 2})
		if err != nil {
			return err
		}
		defer conn.Close()

		resp, err := healthpb.NewHealthClient(conn).Check(cmd.Context(), &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
		if err != nil {
			return fmt.Errorf("health check %s: %w", addr, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", addr, resp.GetStatus())
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("marketplace is %s", resp.GetStatus())
		}
		return nil
	},
}
