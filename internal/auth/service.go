package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailroom/backend/internal/auth/jwt"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
)

const (
	// MaxLoginAttempts 窗口内允许的登录次数
	MaxLoginAttempts = 5
	// LoginAttemptWindow 登录计数窗口
	LoginAttemptWindow = 15 * time.Minute
)

// ErrInvalidCredentials 凭证无效，不区分账号不存在与密码错误
var ErrInvalidCredentials = domain.Unauthorized("invalid credentials")

// ErrTooManyAttempts 登录次数超限
var ErrTooManyAttempts = domain.Unauthorized("too many login attempts, try again later")

// ProfileStore 认证所需的档案存储
type ProfileStore interface {
	CreateProfile(ctx context.Context, profile *domain.Profile) error
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, profile *domain.Profile) error
}

// AttemptLimiter 登录尝试计数，Redis 与本地计数器均实现此接口
type AttemptLimiter interface {
	IncrementAttempts(ctx context.Context, key string, window time.Duration) (int64, error)
	ResetAttempts(ctx context.Context, key string) error
}

// ReferralRecorder 邮箱确认后建立推荐关系
type ReferralRecorder interface {
	CreateReferralRecord(ctx context.Context, referredID string) (*domain.Referral, error)
}

// Service 认证服务
type Service struct {
	store     ProfileStore
	tokens    *jwt.Manager
	attempts  AttemptLimiter
	referrals ReferralRecorder
	metrics   *monitoring.Metrics
	log       *zap.Logger
	cost      int
	now       func() time.Time
}

// NewService 创建认证服务；attempts 为 nil 时不做登录限流
func NewService(store ProfileStore, tokens *jwt.Manager, attempts AttemptLimiter, referrals ReferralRecorder, metrics *monitoring.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     store,
		tokens:    tokens,
		attempts:  attempts,
		referrals: referrals,
		metrics:   metrics,
		log:       log.Named("auth"),
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
	}
}

// RegisterInput 注册输入
type RegisterInput struct {
	Email      string
	Password   string
	ReferrerID string
}

// Result 登录或注册的结果
type Result struct {
	Profile *domain.Profile `json:"profile"`
	Tokens  *jwt.TokenPair  `json:"tokens"`
}

// Register 用户注册，新档案为 END_USER/FREE/NOT_STARTED
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Result, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !domain.ValidateEmail(email) {
		return nil, domain.Validation("invalid email format")
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	var referredBy *string
	if id := strings.TrimSpace(input.ReferrerID); id != "" {
		if _, err := s.store.GetProfile(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.Validation("unknown referrer")
			}
			return nil, err
		}
		referredBy = &id
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	profile := &domain.Profile{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleEndUser,
		PlanType:     domain.PlanFree,
		KYCStatus:    domain.KYCNotStarted,
		ReferredBy:   referredBy,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	s.metrics.RecordUserRegistered()

	return s.issue(profile)
}

// Login 邮箱密码登录；窗口内第 MaxLoginAttempts 次之后直接拒绝
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if s.attempts != nil {
		count, err := s.attempts.IncrementAttempts(ctx, "login:"+email, LoginAttemptWindow)
		if err != nil {
			// 计数不可用时不阻断登录
			s.log.Warn("login attempt counter unavailable", zap.Error(err))
		} else if count > MaxLoginAttempts {
			s.metrics.RecordRateLimitBlock("login")
			return nil, ErrTooManyAttempts
		}
	}

	profile, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !profile.IsActive {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if s.attempts != nil {
		if err := s.attempts.ResetAttempts(ctx, "login:"+email); err != nil {
			s.log.Warn("failed to reset login attempts", zap.Error(err))
		}
	}
	return s.issue(profile)
}

// Refresh 使用刷新令牌换发新的令牌对，档案须仍有效
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	claims, err := s.tokens.ValidateToken(refreshToken, jwt.TokenRefresh)
	if err != nil {
		return nil, domain.Unauthorized("invalid refresh token")
	}
	profile, err := s.store.GetProfile(ctx, claims.ProfileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Unauthorized("invalid refresh token")
		}
		return nil, err
	}
	if !profile.IsActive {
		return nil, domain.Unauthorized("invalid refresh token")
	}
	return s.issue(profile)
}

// ValidateAccessToken 返回访问令牌中的档案 ID
func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.tokens.ValidateToken(token, jwt.TokenAccess)
	if err != nil {
		return "", err
	}
	return claims.ProfileID, nil
}

// ConfirmEmail 标记邮箱已确认并尝试建立推荐关系，重复确认幂等
func (s *Service) ConfirmEmail(ctx context.Context, principal *domain.Principal) (*domain.Profile, error) {
	if principal == nil {
		return nil, domain.Unauthorized("authentication required")
	}
	profile, err := s.store.GetProfile(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	if !profile.EmailConfirmed {
		profile.EmailConfirmed = true
		profile.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateProfile(ctx, profile); err != nil {
			return nil, err
		}
	}

	if s.referrals != nil {
		if _, err := s.referrals.CreateReferralRecord(ctx, profile.ID); err != nil {
			s.log.Warn("referral attribution failed", zap.String("profile_id", profile.ID), zap.Error(err))
		}
	}
	return profile, nil
}

// Me 当前主体的档案
func (s *Service) Me(ctx context.Context, principal *domain.Principal) (*domain.Profile, error) {
	if principal == nil {
		return nil, domain.Unauthorized("authentication required")
	}
	return s.store.GetProfile(ctx, principal.ID)
}

func (s *Service) issue(profile *domain.Profile) (*Result, error) {
	tokens, err := s.tokens.GenerateTokenPair(profile.ID, profile.Email, string(profile.Role))
	if err != nil {
		return nil, err
	}
	return &Result{Profile: profile, Tokens: tokens}, nil
}
