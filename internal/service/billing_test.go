package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/payment"
)

func (f *fixture) seedPlan(t *testing.T, admin *domain.Principal, planType domain.PlanType, monthly int64) *domain.Plan {
	t.Helper()
	plan, err := f.billing.CreatePlan(context.Background(), admin, PlanInput{
		PlanType:     planType,
		Name:         string(planType) + " plan",
		MonthlyPrice: monthly,
	})
	require.NoError(t, err)
	return plan
}

func signedCallback(t *testing.T, subscriptionID string, status payment.CallbackStatus) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(payment.Callback{ExternalID: subscriptionID, Status: status})
	require.NoError(t, err)
	return payload, payment.Sign(payload, callbackSecret)
}

func TestBillingService_Plans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.sysadmin(t)
	op := f.operator(t)

	plan := f.seedPlan(t, admin, domain.PlanBasic, 1000)
	assert.Equal(t, "USD", plan.Currency)
	assert.True(t, plan.IsActive)

	t.Run("套餐类型重复", func(t *testing.T) {
		_, err := f.billing.CreatePlan(ctx, admin, PlanInput{PlanType: domain.PlanBasic, Name: "again"})
		assert.ErrorIs(t, err, domain.ErrPlanTypeExists)
	})

	t.Run("运营不能管理套餐", func(t *testing.T) {
		_, err := f.billing.CreatePlan(ctx, op, PlanInput{PlanType: domain.PlanPremium, Name: "premium"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("下架后不在可售列表", func(t *testing.T) {
		inactive := false
		_, err := f.billing.UpdatePlan(ctx, admin, domain.PlanBasic, PlanInput{IsActive: &inactive})
		require.NoError(t, err)

		active, err := f.billing.ListPlans(ctx, true)
		require.NoError(t, err)
		assert.Empty(t, active)

		all, err := f.billing.ListPlans(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestBillingService_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("按周期计价并保存账单链接", func(t *testing.T) {
		f := newFixture(t)
		f.seedPlan(t, f.sysadmin(t), domain.PlanBasic, 1000)
		user := f.seedProfile(t, "alice", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)

		f.gateway.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(req payment.InvoiceRequest) bool {
			return req.Amount == 3000 && req.Currency == "USD" && req.PayerEmail == "alice@example.com"
		})).Return(&payment.Invoice{ID: "inv-1", InvoiceURL: "https://pay.example.com/inv-1"}, nil).Once()

		sub, err := f.billing.Checkout(ctx, user, CheckoutInput{PlanType: domain.PlanBasic, BillingCycle: domain.CycleQuarterly})
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionInactive, sub.Status)
		require.NotNil(t, sub.InvoiceURL)
		assert.Equal(t, "https://pay.example.com/inv-1", *sub.InvoiceURL)
		f.gateway.AssertExpectations(t)
	})

	t.Run("网关失败时无账单链接", func(t *testing.T) {
		f := newFixture(t)
		f.seedPlan(t, f.sysadmin(t), domain.PlanBasic, 1000)
		user := f.seedProfile(t, "alice", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)
		f.gateway.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()

		_, err := f.billing.Checkout(ctx, user, CheckoutInput{PlanType: domain.PlanBasic, BillingCycle: domain.CycleMonthly})
		assert.ErrorIs(t, err, domain.ErrUpstream)

		subs, err := f.billing.ListSubscriptions(ctx, user)
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, domain.SubscriptionInactive, subs[0].Status)
		assert.Nil(t, subs[0].InvoiceURL)
	})

	t.Run("免费套餐不能购买", func(t *testing.T) {
		f := newFixture(t)
		user := f.seedProfile(t, "alice", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)
		_, err := f.billing.Checkout(ctx, user, CheckoutInput{PlanType: domain.PlanFree, BillingCycle: domain.CycleMonthly})
		assert.ErrorIs(t, err, domain.ErrValidation)
		f.gateway.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	})

	t.Run("未知周期", func(t *testing.T) {
		f := newFixture(t)
		f.seedPlan(t, f.sysadmin(t), domain.PlanBasic, 1000)
		user := f.seedProfile(t, "alice", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)
		_, err := f.billing.Checkout(ctx, user, CheckoutInput{PlanType: domain.PlanBasic, BillingCycle: "WEEKLY"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestBillingService_PaymentCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.sysadmin(t)
	f.seedPlan(t, admin, domain.PlanPremium, 2000)
	_, box := f.seedLocker(t, admin)

	f.seedProfile(t, "referrer", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)
	_, err := f.referrals.GenerateUniqueCode(ctx, "referrer")
	require.NoError(t, err)
	by := "referrer"
	require.NoError(t, f.store.CreateProfile(ctx, &domain.Profile{
		ID: "alice", Email: "alice@example.com", ReferredBy: &by, IsActive: true,
		Role: domain.RoleEndUser, PlanType: domain.PlanFree, KYCStatus: domain.KYCApproved,
	}))
	_, err = f.referrals.CreateReferralRecord(ctx, "alice")
	require.NoError(t, err)
	alice := &domain.Principal{ID: "alice", Email: "alice@example.com", Role: domain.RoleEndUser, PlanType: domain.PlanFree}

	f.gateway.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&payment.Invoice{ID: "inv-1", InvoiceURL: "https://pay.example.com/inv-1"}, nil)
	parcel := domain.MailboxParcelLocker
	sub, err := f.billing.Checkout(ctx, alice, CheckoutInput{
		PlanType: domain.PlanPremium, BillingCycle: domain.CycleMonthly, MailboxType: &parcel,
	})
	require.NoError(t, err)

	t.Run("签名错误", func(t *testing.T) {
		payload, _ := signedCallback(t, sub.ID, payment.CallbackPaid)
		_, err := f.billing.HandlePaymentCallback(ctx, payload, "sha256=deadbeef")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("支付失败订阅保持未生效", func(t *testing.T) {
		payload, sig := signedCallback(t, sub.ID, payment.CallbackFailed)
		got, err := f.billing.HandlePaymentCallback(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionInactive, got.Status)
	})

	t.Run("支付成功后生效", func(t *testing.T) {
		payload, sig := signedCallback(t, sub.ID, payment.CallbackPaid)
		got, err := f.billing.HandlePaymentCallback(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionActive, got.Status)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.NextBillingDate)
		assert.Equal(t, got.StartedAt.AddDate(0, 1, 0), *got.NextBillingDate)
		require.NotNil(t, got.MailboxID)
		assert.Equal(t, box.ID, *got.MailboxID)

		profile, err := f.store.GetProfile(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.PlanPremium, profile.PlanType)

		referral, err := f.store.GetReferralByReferred(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.ReferralActive, referral.Status)
	})

	t.Run("重复回调为空操作", func(t *testing.T) {
		before, err := f.store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)

		payload, sig := signedCallback(t, sub.ID, payment.CallbackPaid)
		got, err := f.billing.HandlePaymentCallback(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, before.StartedAt, got.StartedAt)
		assert.Equal(t, before.MailboxID, got.MailboxID)
	})

	t.Run("取消后释放信箱并回落免费套餐", func(t *testing.T) {
		other := &domain.Principal{ID: "referrer", Role: domain.RoleEndUser}
		_, err := f.billing.Cancel(ctx, other, sub.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got, err := f.billing.Cancel(ctx, alice, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionCancelled, got.Status)
		assert.Nil(t, got.MailboxID)

		mailbox, err := f.store.GetMailbox(ctx, box.ID)
		require.NoError(t, err)
		assert.False(t, mailbox.IsOccupied)

		profile, err := f.store.GetProfile(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.PlanFree, profile.PlanType)

		payload, sig := signedCallback(t, sub.ID, payment.CallbackPaid)
		_, err = f.billing.HandlePaymentCallback(ctx, payload, sig)
		assert.ErrorIs(t, err, domain.ErrConflict, "已取消订阅不再生效")
	})
}

func TestBillingService_ActivateWithoutVacantMailbox(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPlan(t, f.sysadmin(t), domain.PlanBasic, 1000)
	user := f.seedProfile(t, "alice", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)
	f.gateway.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&payment.Invoice{ID: "inv-1", InvoiceURL: "https://pay.example.com/inv-1"}, nil)

	large := domain.MailboxLarge
	sub, err := f.billing.Checkout(ctx, user, CheckoutInput{PlanType: domain.PlanBasic, BillingCycle: domain.CycleYearly, MailboxType: &large})
	require.NoError(t, err)

	got, err := f.billing.Activate(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, got.Status)
	assert.Nil(t, got.MailboxID)
}

func TestBillingService_ConcurrentActivate(t *testing.T) {
	ctx := context.Background()
	f, racing := newRacingFixture(t)
	admin := f.sysadmin(t)
	f.seedPlan(t, admin, domain.PlanPremium, 2000)
	cluster, first := f.seedLocker(t, admin)
	second, err := f.lockers.CreateMailbox(ctx, admin, MailboxInput{
		ClusterID: cluster.ID,
		BoxNumber: "102",
		Type:      domain.MailboxParcelLocker,
		Width:     30, Height: 20, Depth: 10,
		Unit: domain.UnitCM,
	})
	require.NoError(t, err)
	user := f.seedProfile(t, "alice", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)

	f.gateway.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&payment.Invoice{ID: "inv-1", InvoiceURL: "https://pay.example.com/inv-1"}, nil)
	parcel := domain.MailboxParcelLocker
	sub, err := f.billing.Checkout(ctx, user, CheckoutInput{
		PlanType: domain.PlanPremium, BillingCycle: domain.CycleMonthly, MailboxType: &parcel,
	})
	require.NoError(t, err)

	t.Run("重复回调并发到达只分配一个信箱", func(t *testing.T) {
		// 两次激活都读到未生效的订阅后才继续
		racing.subReads.arm(2)
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.billing.Activate(ctx, sub.ID)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}

		occupied := 0
		for _, box := range []*domain.Mailbox{first, second} {
			got, err := f.store.GetMailbox(ctx, box.ID)
			require.NoError(t, err)
			if got.IsOccupied {
				occupied++
			}
		}
		assert.Equal(t, 1, occupied)

		got, err := f.store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionActive, got.Status)
		require.NotNil(t, got.MailboxID)
	})
}
