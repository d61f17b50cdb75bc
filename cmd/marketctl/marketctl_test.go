package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wyfcoding/numbermarket/internal/marketplace/application"
	"github.com/wyfcoding/numbermarket/internal/marketplace/interfaces/job"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
service_name = "marketctl_test"

[database]
driver = "memory"

[redis]
enabled = false

[metrics]
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSweepCommandRunsSelectedSweeps(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "sweep", "auctions", "payments", "--config", cfg, "--limit", "10")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "auction_resolution") || !strings.Contains(out, "payment_escalation") {
		t.Fatalf("missing sweep output: %s", out)
	}
	if strings.Contains(out, "activation_expiry") {
		t.Fatalf("unrequested sweep ran: %s", out)
	}
}

func TestSweepRejectsUnknownTarget(t *testing.T) {
	if _, err := execute(t, "sweep", "bids", "--config", writeConfig(t)); err == nil {
		t.Fatal("expected invalid argument error")
	}
}

func TestMigrateNeedsMySQL(t *testing.T) {
	if _, err := execute(t, "migrate", "--config", writeConfig(t)); err == nil {
		t.Fatal("migrate should refuse the memory driver")
	}
}

func TestSelectSweepsKeepsOrder(t *testing.T) {
	noop := func(context.Context, int) (application.SweepResult, error) { return application.SweepResult{}, nil }
	all := []job.Sweep{
		{Name: "auction_resolution", Run: noop},
		{Name: "payment_escalation", Run: noop},
		{Name: "activation_expiry", Run: noop},
		{Name: "outbox_relay", Run: noop},
	}
	got := selectSweeps(all, []string{"outbox", "auctions"})
	if len(got) != 2 || got[0].Name != "auction_resolution" || got[1].Name != "outbox_relay" {
		t.Fatalf("unexpected selection %+v", got)
	}
	if len(selectSweeps(all, []string{"all"})) != 4 {
		t.Fatal("all should select every sweep")
	}
}
