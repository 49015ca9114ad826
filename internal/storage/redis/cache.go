package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailroom/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

const (
	allowlistKey = "admin:ip_allowlist"
)

// Cache 档案、成员关系与白名单的读缓存
type Cache struct {
	client *Client
}

// NewCache 基于客户端创建缓存
func NewCache(client *Client) *Cache {
	return &Cache{client: client}
}

func profileKey(id string) string    { return fmt.Sprintf("profile:%s", id) }
func membershipKey(id string) string { return fmt.Sprintf("membership:%s", id) }
func attemptsKey(key string) string  { return fmt.Sprintf("attempts:%s", key) }

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// ========== 档案缓存 ==========

// CacheProfile 缓存档案
func (c *Cache) CacheProfile(ctx context.Context, profile *domain.Profile, ttl time.Duration) error {
	// PasswordHash 不参与 JSON 序列化，缓存副本不能用于登录校验
	return c.setJSON(ctx, profileKey(profile.ID), profile, ttl)
}

// GetCachedProfile 获取缓存的档案
func (c *Cache) GetCachedProfile(ctx context.Context, id string) (*domain.Profile, error) {
	var profile domain.Profile
	if err := c.getJSON(ctx, profileKey(id), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// DeleteCachedProfile 删除缓存的档案
func (c *Cache) DeleteCachedProfile(ctx context.Context, id string) error {
	return c.client.rdb.Del(ctx, profileKey(id)).Err()
}

// ========== 成员关系缓存 ==========

// CacheMembership 缓存成员关系；member 为 nil 表示确认无成员关系
func (c *Cache) CacheMembership(ctx context.Context, profileID string, member *domain.BusinessMember, ttl time.Duration) error {
	return c.setJSON(ctx, membershipKey(profileID), member, ttl)
}

// GetCachedMembership 返回缓存的成员关系；命中空值时返回 (nil, nil)
func (c *Cache) GetCachedMembership(ctx context.Context, profileID string) (*domain.BusinessMember, error) {
	var member *domain.BusinessMember
	if err := c.getJSON(ctx, membershipKey(profileID), &member); err != nil {
		return nil, err
	}
	return member, nil
}

// DeleteCachedMembership 删除缓存的成员关系
func (c *Cache) DeleteCachedMembership(ctx context.Context, profileID string) error {
	return c.client.rdb.Del(ctx, membershipKey(profileID)).Err()
}

// ========== 白名单缓存 ==========

// CacheAllowlist 缓存管理后台 IP 白名单
func (c *Cache) CacheAllowlist(ctx context.Context, entries []domain.AllowedIP, ttl time.Duration) error {
	return c.setJSON(ctx, allowlistKey, entries, ttl)
}

// GetCachedAllowlist 获取缓存的白名单
func (c *Cache) GetCachedAllowlist(ctx context.Context) ([]domain.AllowedIP, error) {
	var entries []domain.AllowedIP
	if err := c.getJSON(ctx, allowlistKey, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteCachedAllowlist 删除缓存的白名单
func (c *Cache) DeleteCachedAllowlist(ctx context.Context) error {
	return c.client.rdb.Del(ctx, allowlistKey).Err()
}

// ========== 尝试次数计数 ==========

// IncrementAttempts 在窗口内递增计数，返回当前值
func (c *Cache) IncrementAttempts(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, attemptsKey(key))
	pipe.ExpireNX(ctx, attemptsKey(key), window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// ResetAttempts 清除计数
func (c *Cache) ResetAttempts(ctx context.Context, key string) error {
	return c.client.rdb.Del(ctx, attemptsKey(key)).Err()
}
