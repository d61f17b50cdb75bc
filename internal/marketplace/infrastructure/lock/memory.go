// Package lock 提供命令执行器使用的按 key 互斥锁：进程内实现与 Redis 分布式实现。
// 多个 key 统一排序去重后依次获取，避免死锁。
package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
)

// MemoryLocker 进程内锁，每个 key 对应一个容量为 1 的信号量
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock 依次获取全部 key，ctx 结束前未能获取时释放已持有的锁并返回 ErrConflict
func (l *MemoryLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, key := range normalize(keys) {
		ch := l.slot(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("lock %s: %w", key, domain.ErrConflict)
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
