package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
)

func TestReferralCodeBase(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"UUID 取前八位", "3f2a-9b1c-77de-4410", "3F2A9B1C"},
		{"去除符号并转大写", "a.b_c-d!e", "ABCDE"},
		{"全部为符号", "---", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReferralCodeBase(tt.id))
		})
	}

	t.Run("哈希兜底格式", func(t *testing.T) {
		code := FallbackReferralCode("user-1")
		assert.Len(t, code, 12)
		assert.Equal(t, "R", code[:1])
		assert.Equal(t, code, FallbackReferralCode("user-1"))
	})
}

func TestReferralService_GenerateUniqueCode(t *testing.T) {
	ctx := context.Background()

	t.Run("首次生成基础码且幂等", func(t *testing.T) {
		f := newFixture(t)
		f.seedProfile(t, "abcdefgh-1234", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)

		code, err := f.referrals.GenerateUniqueCode(ctx, "abcdefgh-1234")
		require.NoError(t, err)
		assert.Equal(t, "ABCDEFGH", code)

		again, err := f.referrals.GenerateUniqueCode(ctx, "abcdefgh-1234")
		require.NoError(t, err)
		assert.Equal(t, code, again)
	})

	t.Run("碰撞后追加后缀", func(t *testing.T) {
		f := newFixture(t)
		f.seedProfile(t, "abcdefgh-1", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)
		f.seedProfile(t, "abcdefgh-2", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)
		_, err := f.referrals.GenerateUniqueCode(ctx, "abcdefgh-1")
		require.NoError(t, err)

		f.referrals.suffix = func(n int) string { return "ZZZZ"[:n] }
		code, err := f.referrals.GenerateUniqueCode(ctx, "abcdefgh-2")
		require.NoError(t, err)
		assert.Equal(t, "ABCDEFGHZZZZ", code)
	})

	t.Run("重试耗尽后使用哈希码", func(t *testing.T) {
		f := newFixture(t)
		f.seedProfile(t, "abcdefgh-1", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)
		f.seedProfile(t, "abcdefgh-2", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)
		f.seedProfile(t, "abcdefgh-3", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)

		f.referrals.suffix = func(int) string { return "AAAA" }
		_, err := f.referrals.GenerateUniqueCode(ctx, "abcdefgh-1")
		require.NoError(t, err)
		_, err = f.referrals.GenerateUniqueCode(ctx, "abcdefgh-2")
		require.NoError(t, err)

		code, err := f.referrals.GenerateUniqueCode(ctx, "abcdefgh-3")
		require.NoError(t, err)
		assert.Equal(t, FallbackReferralCode("abcdefgh-3"), code)
	})

	t.Run("档案不存在", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.referrals.GenerateUniqueCode(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestReferralService_CreateReferralRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedProfile(t, "referrer", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)
	f.seedProfile(t, "lonely", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)

	referred := func(id string) {
		by := "referrer"
		require.NoError(t, f.store.CreateProfile(ctx, &domain.Profile{ID: id, Email: id + "@example.com", ReferredBy: &by, IsActive: true}))
	}
	referred("early")
	referred("late")

	t.Run("无推荐人时不记录", func(t *testing.T) {
		r, err := f.referrals.CreateReferralRecord(ctx, "lonely")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("推荐人尚无推荐码时不记录", func(t *testing.T) {
		r, err := f.referrals.CreateReferralRecord(ctx, "early")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	code, err := f.referrals.GenerateUniqueCode(ctx, "referrer")
	require.NoError(t, err)

	t.Run("记录至多一次", func(t *testing.T) {
		first, err := f.referrals.CreateReferralRecord(ctx, "late")
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, code, first.ReferralCode)
		assert.Equal(t, domain.ReferralPending, first.Status)

		second, err := f.referrals.CreateReferralRecord(ctx, "late")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		list, err := f.referrals.ListReferrals(ctx, "referrer")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestReferralService_Stats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.sysadmin(t)
	f.seedProfile(t, "referrer", domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted)
	_, err := f.referrals.GenerateUniqueCode(ctx, "referrer")
	require.NoError(t, err)

	referralIDs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("friend-%d", i)
		by := "referrer"
		require.NoError(t, f.store.CreateProfile(ctx, &domain.Profile{ID: id, Email: id + "@example.com", ReferredBy: &by, IsActive: true}))
		r, err := f.referrals.CreateReferralRecord(ctx, id)
		require.NoError(t, err)
		referralIDs = append(referralIDs, r.ID)
	}
	f.activeSubscription(t, "friend-0")

	paid, err := f.referrals.RecordTransaction(ctx, admin, referralIDs[0], 500, "first month")
	require.NoError(t, err)
	_, err = f.referrals.RecordTransaction(ctx, admin, referralIDs[1], 300, "signup bonus")
	require.NoError(t, err)

	tx, err := f.referrals.MarkTransactionPaid(ctx, admin, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPaid, tx.Status)
	require.NotNil(t, tx.PaidAt)
	firstPaidAt := *tx.PaidAt

	f.referrals.now = func() time.Time { return time.Now().Add(time.Hour) }
	tx, err = f.referrals.MarkTransactionPaid(ctx, admin, paid.ID)
	require.NoError(t, err, "重复支付幂等")
	assert.Equal(t, firstPaidAt, *tx.PaidAt)

	stats, err := f.referrals.GetReferralStats(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralStats{
		TotalReferrals:  3,
		ActiveReferrals: 1,
		TotalEarnings:   500,
		PendingEarnings: 300,
	}, *stats)

	t.Run("无推荐时统计为零", func(t *testing.T) {
		empty, err := f.referrals.GetReferralStats(ctx, "friend-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ReferralStats{}, *empty)
	})

	t.Run("金额必须为正", func(t *testing.T) {
		_, err := f.referrals.RecordTransaction(ctx, admin, referralIDs[2], 0, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
