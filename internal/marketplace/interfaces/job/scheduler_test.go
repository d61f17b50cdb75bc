package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wyfcoding/numbermarket/internal/marketplace/application"
)

func countingSweep(name string, interval time.Duration, hits *atomic.Int32) Sweep {
	return Sweep{
		Name:     name,
		Interval: interval,
		Run: func(_ context.Context, limit int) (application.SweepResult, error) {
			hits.Add(1)
			return application.SweepResult{Processed: limit}, nil
		},
	}
}

func TestSchedulerRunsSweeps(t *testing.T) {
	var fast, disabled atomic.Int32
	s, err := NewScheduler([]Sweep{
		countingSweep("fast", 20*time.Millisecond, &fast),
		countingSweep("off", 0, &disabled),
	}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for fast.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if fast.Load() < 2 {
		t.Fatalf("fast sweep ran %d times", fast.Load())
	}
	if disabled.Load() != 0 {
		t.Fatalf("disabled sweep ran")
	}
}

func TestRunOnceStopsOnFirstError(t *testing.T) {
	var a, c atomic.Int32
	boom := Sweep{Name: "boom", Run: func(context.Context, int) (application.SweepResult, error) {
		return application.SweepResult{}, errors.New("db down")
	}}
	out, err := RunOnce(context.Background(), []Sweep{
		countingSweep("a", 0, &a), boom, countingSweep("c", 0, &c),
	}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if a.Load() != 1 || c.Load() != 0 {
		t.Fatalf("unexpected calls a=%d c=%d", a.Load(), c.Load())
	}
	if out["a"].Processed != 5 {
		t.Fatalf("limit not passed through: %+v", out["a"])
	}
}
