package cache

import (
	"context"
	"sync"
	"time"
)

// AttemptCounter 本地内存的窗口计数器，无 Redis 时用于登录限流
//
// 特点：
// - 首次递增时开始计时，窗口内不续期
// - 过期条目在访问时和定期清理时删除
type AttemptCounter struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
	now     func() time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewAttemptCounter 创建计数器，ctx 结束时停止后台清理
func NewAttemptCounter(ctx context.Context) *AttemptCounter {
	c := &AttemptCounter{
		entries: make(map[string]*counterEntry),
		now:     time.Now,
	}
	go c.cleanupLoop(ctx)
	return c
}

// IncrementAttempts 在窗口内递增计数，返回当前值
func (c *AttemptCounter) IncrementAttempts(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &counterEntry{expiresAt: now.Add(window)}
		c.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// ResetAttempts 清除计数
func (c *AttemptCounter) ResetAttempts(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// cleanupLoop 定期清理过期条目
func (c *AttemptCounter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
