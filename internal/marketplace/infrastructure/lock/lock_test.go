package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/pkg/cache"
)

type locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

func exerciseLocker(t *testing.T, l locker) {
	t.Helper()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "account:b", "account:a", "account:a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	busy, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(busy, "account:a"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict while held, got %v", err)
	}

	unlock()
	unlock() // second call is a no-op

	again, err := l.Lock(ctx, "account:a", "listing:x")
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	again()
}

func TestMemoryLocker(t *testing.T) {
	exerciseLocker(t, NewMemoryLocker())
}

func TestMemoryLockerPartialAcquireReleases(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	holdB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "a", "b"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// "a" must have been released by the failed attempt
	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("a still held: %v", err)
	}
	unlockA()
	holdB()
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(cache.NewFromClient(client), time.Second, nil), s
}

func TestRedisLocker(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseLocker(t, l)
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	l, s := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "order:1")
	if err != nil {
		t.Fatal(err)
	}
	// lock expired and was taken by another holder
	if err := s.Set(defaultPrefix+"order:1", "someone-else"); err != nil {
		t.Fatal(err)
	}
	unlock()
	got, err := s.Get(defaultPrefix + "order:1")
	if err != nil || got != "someone-else" {
		t.Fatalf("foreign lock removed: %q %v", got, err)
	}
}

func TestRedisLockerTTL(t *testing.T) {
	l, s := newRedisLocker(t)
	if _, err := l.Lock(context.Background(), "account:z"); err != nil {
		t.Fatal(err)
	}
	if ttl := s.TTL(defaultPrefix + "account:z"); ttl <= 0 || ttl > time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	s.FastForward(2 * time.Second)
	unlock, err := l.Lock(context.Background(), "account:z")
	if err != nil {
		t.Fatalf("expired lock not reclaimed: %v", err)
	}
	unlock()
}
