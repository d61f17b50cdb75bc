package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/wyfcoding/numbermarket/internal/marketplace/bootstrap"
	"github.com/wyfcoding/numbermarket/internal/marketplace/interfaces/job"
)

var sweepLimit int

// 命令行名称到扫描任务名
var sweepAliases = map[string]string{
	"auctions":    "auction_resolution",
	"payments":    "payment_escalation",
	"activations": "activation_expiry",
	"outbox":      "outbox_relay",
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(relayCmd)
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 100, "max items per sweep")
	relayCmd.Flags().IntVar(&sweepLimit, "limit", 100, "max messages to deliver")
}

var sweepCmd = &cobra.Command{
	Use:       "sweep [auctions|payments|activations|outbox|all]...",
	Short:     "Run background sweeps once",
	ValidArgs: []string{"auctions", "payments", "activations", "outbox", "all"},
	Args:      cobra.MatchAll(cobra.MinimumNArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			sweeps := selectSweeps(job.Sweeps(rt.Marketplace, rt.Config.Scheduler), args)
			return runSweeps(cmd, sweeps)
		})
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Deliver pending notifications from the outbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
			sweeps := selectSweeps(job.Sweeps(rt.Marketplace, rt.Config.Scheduler), []string{"outbox"})
			return runSweeps(cmd, sweeps)
		})
	},
}

// selectSweeps 按参数挑选扫描任务，保持注册顺序
func selectSweeps(all []job.Sweep, args []string) []job.Sweep {
	wanted := make(map[string]bool, len(args))
	for _, a := range args {
		if a == "all" {
			return all
		}
		wanted[sweepAliases[a]] = true
	}
	out := make([]job.Sweep, 0, len(wanted))
	for _, sw := range all {
		if wanted[sw.Name] {
			out = append(out, sw)
		}
	}
	return out
}

func runSweeps(cmd *cobra.Command, sweeps []job.Sweep) error {
	results, err := job.RunOnce(cmd.Context(), sweeps, sweepLimit)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res := results[name]
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s processed=%d failed=%d duration=%s\n", name, res.Processed, res.Failed, res.Duration)
	}
	return err
}
