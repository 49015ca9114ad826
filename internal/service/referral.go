package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

const (
	referralBaseLength = 8
	referralHashLength = 11
	referralAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ReferralService 推荐码与返现流水。
type ReferralService struct {
	store   storage.Store
	cfg     config.ReferralConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
	suffix  func(n int) string
}

// NewReferralService 创建推荐业务服务。
func NewReferralService(store storage.Store, cfg config.ReferralConfig, metrics *monitoring.Metrics, log *zap.Logger) *ReferralService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.SuffixLength <= 0 {
		cfg.SuffixLength = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReferralService{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		log:     log.Named("referral"),
		now:     time.Now,
		suffix:  randomSuffix,
	}
}

// ReferralCodeBase 去除非字母数字、转大写后取前 8 位
func ReferralCodeBase(principalID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(principalID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == referralBaseLength {
				break
			}
		}
	}
	return b.String()
}

// FallbackReferralCode 重试耗尽后的确定性编码
func FallbackReferralCode(principalID string) string {
	sum := sha256.Sum256([]byte(principalID))
	return "R" + strings.ToUpper(hex.EncodeToString(sum[:]))[:referralHashLength]
}

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = referralAlphabet[rand.Intn(len(referralAlphabet))]
	}
	return string(b)
}

// GenerateUniqueCode 已有推荐码时原样返回且不写入。
// 唯一约束是正确性的依据：写入冲突与预检命中同样计为一次碰撞。
func (s *ReferralService) GenerateUniqueCode(ctx context.Context, principalID string) (string, error) {
	profile, err := s.store.GetProfile(ctx, principalID)
	if err != nil {
		return "", err
	}
	if profile.ReferralCode != nil {
		return *profile.ReferralCode, nil
	}

	base := ReferralCodeBase(principalID)
	if base == "" {
		base = "REF"
	}

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + s.suffix(s.cfg.SuffixLength)
		}
		code, ok, err := s.tryClaim(ctx, principalID, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			s.recordStrategy(attempt)
			return code, nil
		}
	}

	code, ok, err := s.tryClaim(ctx, principalID, FallbackReferralCode(principalID))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrReferralCodeTaken
	}
	s.metrics.RecordReferralCode("hash")
	s.log.Warn("referral code fell back to hash", zap.String("principal_id", principalID))
	return code, nil
}

// tryClaim 返回最终属于该档案的推荐码；ok 为 false 表示碰撞
func (s *ReferralService) tryClaim(ctx context.Context, principalID, candidate string) (string, bool, error) {
	exists, err := s.store.ReferralCodeExists(ctx, candidate)
	if err != nil {
		return "", false, err
	}
	if exists {
		return "", false, nil
	}

	written, err := s.store.SetReferralCode(ctx, principalID, candidate)
	switch {
	case errors.Is(err, domain.ErrReferralCodeTaken):
		return "", false, nil
	case err != nil:
		return "", false, err
	case written:
		return candidate, true, nil
	}

	// 并发请求已为该档案写入推荐码
	profile, err := s.store.GetProfile(ctx, principalID)
	if err != nil {
		return "", false, err
	}
	if profile.ReferralCode == nil {
		return "", false, domain.Conflict("referral code for %s could not be written", principalID)
	}
	return *profile.ReferralCode, true, nil
}

func (s *ReferralService) recordStrategy(attempt int) {
	if attempt == 0 {
		s.metrics.RecordReferralCode("base")
		return
	}
	s.metrics.RecordReferralCode("suffix")
}

// CreateReferralRecord 被推荐人有推荐人且推荐人已有推荐码时才建立关系，至多一次。
// 推荐人尚未生成推荐码时不记录，之后也不补记。
func (s *ReferralService) CreateReferralRecord(ctx context.Context, referredID string) (*domain.Referral, error) {
	referred, err := s.store.GetProfile(ctx, referredID)
	if err != nil {
		return nil, err
	}
	if referred.ReferredBy == nil || *referred.ReferredBy == "" {
		return nil, nil
	}

	referrer, err := s.store.GetProfile(ctx, *referred.ReferredBy)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if referrer.ReferralCode == nil {
		s.log.Info("referral attribution skipped, referrer has no code",
			zap.String("referred_id", referredID),
			zap.String("referrer_id", referrer.ID),
		)
		return nil, nil
	}

	if existing, err := s.store.GetReferralByReferred(ctx, referredID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	referral := &domain.Referral{
		ID:           uuid.NewString(),
		ReferrerID:   referrer.ID,
		ReferredID:   referredID,
		ReferralCode: *referrer.ReferralCode,
		Status:       domain.ReferralPending,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateReferral(ctx, referral); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.store.GetReferralByReferred(ctx, referredID)
		}
		return nil, err
	}
	return referral, nil
}

// ActivateReferral 被推荐人订阅生效后推荐关系转为 active
func (s *ReferralService) ActivateReferral(ctx context.Context, referredID string) error {
	referral, err := s.store.GetReferralByReferred(ctx, referredID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if referral.Status == domain.ReferralActive {
		return nil
	}
	referral.Status = domain.ReferralActive
	return s.store.UpdateReferral(ctx, referral)
}

// GetReferralStats 每次读取都从完整流水重新计算
func (s *ReferralService) GetReferralStats(ctx context.Context, principalID string) (*domain.ReferralStats, error) {
	referrals, err := s.store.ListReferralsByReferrer(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if len(referrals) == 0 {
		return &domain.ReferralStats{}, nil
	}

	referredIDs := make([]string, 0, len(referrals))
	referralIDs := make([]string, 0, len(referrals))
	for _, r := range referrals {
		referredIDs = append(referredIDs, r.ReferredID)
		referralIDs = append(referralIDs, r.ID)
	}

	var (
		active       map[string]bool
		transactions []domain.ReferralTransaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = s.store.ActiveSubscribers(gctx, referredIDs)
		return err
	})
	g.Go(func() error {
		var err error
		transactions, err = s.store.ListTransactionsByReferrals(gctx, referralIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := domain.ComputeReferralStats(referrals, transactions, active)
	return &stats, nil
}

// ListReferrals 推荐人名下的推荐关系
func (s *ReferralService) ListReferrals(ctx context.Context, principalID string) ([]domain.Referral, error) {
	return s.store.ListReferralsByReferrer(ctx, principalID)
}

// RecordTransaction 追加一条待支付的返现流水
func (s *ReferralService) RecordTransaction(ctx context.Context, admin *domain.Principal, referralID string, amount int64, description string) (*domain.ReferralTransaction, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, domain.Validation("transaction amount must be positive")
	}
	tx := &domain.ReferralTransaction{
		ID:          uuid.NewString(),
		ReferralID:  referralID,
		Amount:      amount,
		Status:      domain.TransactionPending,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateReferralTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// MarkTransactionPaid pending -> paid 只发生一次，重复调用返回当前记录
func (s *ReferralService) MarkTransactionPaid(ctx context.Context, admin *domain.Principal, id string) (*domain.ReferralTransaction, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	changed, err := s.store.MarkTransactionPaid(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	tx, err := s.store.GetReferralTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.Info("referral transaction paid",
			zap.String("transaction_id", id),
			zap.Int64("amount", tx.Amount),
		)
	}
	return tx, nil
}
