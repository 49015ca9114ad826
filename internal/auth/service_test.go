package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"mailroom/backend/internal/auth/jwt"
	"mailroom/backend/internal/cache"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage/memory"
)

// MockReferrals 模拟推荐关系记录
type MockReferrals struct {
	mock.Mock
}

func (m *MockReferrals) CreateReferralRecord(ctx context.Context, referredID string) (*domain.Referral, error) {
	args := m.Called(ctx, referredID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Referral), args.Error(1)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *MockReferrals) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewStore()
	referrals := &MockReferrals{}
	tokens := jwt.NewManager("test-secret-0123456789abcdef0123456789", "mailroom", 15*time.Minute, 7*24*time.Hour)
	svc := NewService(store, tokens, cache.NewAttemptCounter(ctx), referrals, nil, nil)
	svc.cost = bcrypt.MinCost
	return svc, store, referrals
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	t.Run("注册成功", func(t *testing.T) {
		res, err := svc.Register(ctx, RegisterInput{Email: " Alice@Example.com ", Password: "Password123!"})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", res.Profile.Email)
		assert.Equal(t, domain.RoleEndUser, res.Profile.Role)
		assert.Equal(t, domain.PlanFree, res.Profile.PlanType)
		assert.Equal(t, domain.KYCNotStarted, res.Profile.KYCStatus)
		assert.NotEmpty(t, res.Tokens.AccessToken)

		id, err := svc.ValidateAccessToken(res.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, res.Profile.ID, id)
	})

	t.Run("邮箱重复", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrEmailExists)
	})

	t.Run("输入校验", func(t *testing.T) {
		tests := []struct {
			name  string
			input RegisterInput
		}{
			{"邮箱格式错误", RegisterInput{Email: "not-an-email", Password: "Password123!"}},
			{"密码过短", RegisterInput{Email: "bob@example.com", Password: "short"}},
			{"推荐人不存在", RegisterInput{Email: "bob@example.com", Password: "Password123!", ReferrerID: "ghost"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Register(ctx, tt.input)
				assert.ErrorIs(t, err, domain.ErrValidation)
			})
		}
	})

	t.Run("记录推荐人", func(t *testing.T) {
		referrer, err := store.GetProfileByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		res, err := svc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "Password123!", ReferrerID: referrer.ID})
		require.NoError(t, err)
		require.NotNil(t, res.Profile.ReferredBy)
		assert.Equal(t, referrer.ID, *res.Profile.ReferredBy)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	_, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "Password123!"})
	require.NoError(t, err)

	t.Run("登录成功", func(t *testing.T) {
		res, err := svc.Login(ctx, "ALICE@example.com", "Password123!")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Tokens.RefreshToken)
	})

	t.Run("密码错误与账号不存在不可区分", func(t *testing.T) {
		_, err := svc.Login(ctx, "alice@example.com", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = svc.Login(ctx, "nobody@example.com", "Password123!")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("停用账号不能登录", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterInput{Email: "carol@example.com", Password: "Password123!"})
		require.NoError(t, err)
		profile, err := store.GetProfileByEmail(ctx, "carol@example.com")
		require.NoError(t, err)
		profile.IsActive = false
		require.NoError(t, store.UpdateProfile(ctx, profile))

		_, err = svc.Login(ctx, "carol@example.com", "Password123!")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("超过次数后锁定", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterInput{Email: "dave@example.com", Password: "Password123!"})
		require.NoError(t, err)
		for i := 0; i < MaxLoginAttempts; i++ {
			_, err := svc.Login(ctx, "dave@example.com", "wrong-password")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		}
		_, err = svc.Login(ctx, "dave@example.com", "Password123!")
		assert.ErrorIs(t, err, ErrTooManyAttempts)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	res, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "Password123!"})
	require.NoError(t, err)

	t.Run("换发令牌", func(t *testing.T) {
		refreshed, err := svc.Refresh(ctx, res.Tokens.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, res.Profile.ID, refreshed.Profile.ID)
	})

	t.Run("访问令牌不能用于刷新", func(t *testing.T) {
		_, err := svc.Refresh(ctx, res.Tokens.AccessToken)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("档案停用后不能刷新", func(t *testing.T) {
		profile, err := store.GetProfile(ctx, res.Profile.ID)
		require.NoError(t, err)
		profile.IsActive = false
		require.NoError(t, store.UpdateProfile(ctx, profile))

		_, err = svc.Refresh(ctx, res.Tokens.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestService_ConfirmEmail(t *testing.T) {
	ctx := context.Background()
	svc, _, referrals := newTestService(t)
	res, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "Password123!"})
	require.NoError(t, err)
	principal := &domain.Principal{ID: res.Profile.ID, Email: res.Profile.Email, Role: domain.RoleEndUser}

	referrals.On("CreateReferralRecord", mock.Anything, res.Profile.ID).Return(nil, nil).Twice()

	profile, err := svc.ConfirmEmail(ctx, principal)
	require.NoError(t, err)
	assert.True(t, profile.EmailConfirmed)

	profile, err = svc.ConfirmEmail(ctx, principal)
	require.NoError(t, err)
	assert.True(t, profile.EmailConfirmed)
	referrals.AssertExpectations(t)

	t.Run("未认证", func(t *testing.T) {
		_, err := svc.ConfirmEmail(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		_, err = svc.Me(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("查询自己", func(t *testing.T) {
		me, err := svc.Me(ctx, principal)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", me.Email)
	})
}
