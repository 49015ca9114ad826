package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/postgres"
	"mailroom/backend/internal/storage/redis"
)

var _ storage.Store = (*Store)(nil)

// Store 混合存储实现，关系库为准，Redis 缓存档案、成员关系与白名单
type Store struct {
	*postgres.Store
	client *redis.Client
	cache  *redis.Cache
	ttl    time.Duration
	log    *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(dbCfg config.DatabaseConfig, redisCfg config.RedisConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dbStore, err := postgres.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client, err := redis.New(&redisCfg, log)
	if err != nil {
		_ = dbStore.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return New(dbStore, client, redisCfg.PrincipalTTL, log), nil
}

// New 组合已有的数据库存储与 Redis 客户端
func New(dbStore *postgres.Store, client *redis.Client, ttl time.Duration, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		Store:  dbStore,
		client: client,
		cache:  redis.NewCache(client),
		ttl:    ttl,
		log:    log.Named("hybrid_store"),
	}
}

// Cache 返回底层缓存
func (s *Store) Cache() *redis.Cache {
	return s.cache
}

// Health 同时检查数据库与 Redis
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close 关闭数据库与 Redis 连接
func (s *Store) Close() error {
	dbErr := s.Store.Close()
	redisErr := s.client.Close()
	return errors.Join(dbErr, redisErr)
}

func (s *Store) warn(msg string, err error, fields ...zap.Field) {
	// 缓存失败不影响主流程
	s.log.Warn(msg, append(fields, zap.Error(err))...)
}

// ========== Profile Repository ==========

// GetProfile 先读 Redis，未命中回源数据库
func (s *Store) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	if profile, err := s.cache.GetCachedProfile(ctx, id); err == nil {
		return profile, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.warn("profile cache read failed", err, zap.String("profile_id", id))
	}

	profile, err := s.Store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheProfile(ctx, profile, s.ttl); err != nil {
		s.warn("profile cache write failed", err, zap.String("profile_id", id))
	}
	return profile, nil
}

// UpdateProfile 写库后失效缓存
func (s *Store) UpdateProfile(ctx context.Context, profile *domain.Profile) error {
	if err := s.Store.UpdateProfile(ctx, profile); err != nil {
		return err
	}
	s.invalidateProfile(ctx, profile.ID)
	return nil
}

// SetReferralCode 写库后失效缓存
func (s *Store) SetReferralCode(ctx context.Context, profileID, code string) (bool, error) {
	written, err := s.Store.SetReferralCode(ctx, profileID, code)
	if err != nil {
		return false, err
	}
	if written {
		s.invalidateProfile(ctx, profileID)
	}
	return written, nil
}

func (s *Store) invalidateProfile(ctx context.Context, id string) {
	if err := s.cache.DeleteCachedProfile(ctx, id); err != nil {
		s.warn("profile cache invalidation failed", err, zap.String("profile_id", id))
	}
}

// ========== Business Repository ==========

// GetMembership 成员关系连同“无成员”结果一起缓存
func (s *Store) GetMembership(ctx context.Context, profileID string) (*domain.BusinessMember, error) {
	member, err := s.cache.GetCachedMembership(ctx, profileID)
	switch {
	case err == nil:
		if member == nil {
			return nil, domain.NotFound("business membership")
		}
		return member, nil
	case !errors.Is(err, redis.ErrCacheMiss):
		s.warn("membership cache read failed", err, zap.String("profile_id", profileID))
	}

	member, err = s.Store.GetMembership(ctx, profileID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if cacheErr := s.cache.CacheMembership(ctx, profileID, member, s.ttl); cacheErr != nil {
		s.warn("membership cache write failed", cacheErr, zap.String("profile_id", profileID))
	}
	return member, err
}

// AddBusinessMember 写库后失效成员关系缓存
func (s *Store) AddBusinessMember(ctx context.Context, member *domain.BusinessMember) error {
	if err := s.Store.AddBusinessMember(ctx, member); err != nil {
		return err
	}
	if err := s.cache.DeleteCachedMembership(ctx, member.ProfileID); err != nil {
		s.warn("membership cache invalidation failed", err, zap.String("profile_id", member.ProfileID))
	}
	return nil
}

// ========== Audit Repository ==========

// ListAllowedIPs 白名单在每个管理请求上读取，优先走缓存
func (s *Store) ListAllowedIPs(ctx context.Context) ([]domain.AllowedIP, error) {
	if entries, err := s.cache.GetCachedAllowlist(ctx); err == nil {
		return entries, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.warn("allowlist cache read failed", err)
	}

	entries, err := s.Store.ListAllowedIPs(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheAllowlist(ctx, entries, s.ttl); err != nil {
		s.warn("allowlist cache write failed", err)
	}
	return entries, nil
}

// AddAllowedIP 写库后失效白名单缓存
func (s *Store) AddAllowedIP(ctx context.Context, entry *domain.AllowedIP) error {
	if err := s.Store.AddAllowedIP(ctx, entry); err != nil {
		return err
	}
	s.invalidateAllowlist(ctx)
	return nil
}

// RemoveAllowedIP 写库后失效白名单缓存
func (s *Store) RemoveAllowedIP(ctx context.Context, id string) error {
	if err := s.Store.RemoveAllowedIP(ctx, id); err != nil {
		return err
	}
	s.invalidateAllowlist(ctx)
	return nil
}

func (s *Store) invalidateAllowlist(ctx context.Context) {
	if err := s.cache.DeleteCachedAllowlist(ctx); err != nil {
		s.warn("allowlist cache invalidation failed", err)
	}
}
