package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/payment"
	"mailroom/backend/internal/storage"
)

// BillingService 套餐、订阅与支付回调。
type BillingService struct {
	store     storage.Store
	gateway   payment.Gateway
	lockers   *LockerService
	referrals *ReferralService
	cfg       config.PaymentConfig
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewBillingService 创建计费业务服务。
func NewBillingService(store storage.Store, gateway payment.Gateway, lockers *LockerService, referrals *ReferralService, cfg config.PaymentConfig, metrics *monitoring.Metrics, log *zap.Logger) *BillingService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingService{
		store:     store,
		gateway:   gateway,
		lockers:   lockers,
		referrals: referrals,
		cfg:       cfg,
		metrics:   metrics,
		log:       log.Named("billing"),
		now:       time.Now,
	}
}

// PlanInput 创建或修改套餐的输入
type PlanInput struct {
	PlanType     domain.PlanType
	Name         string
	MonthlyPrice int64
	Currency     string
	IsActive     *bool
}

// CheckoutInput 下单输入
type CheckoutInput struct {
	PlanType     domain.PlanType
	BillingCycle domain.BillingCycle
	MailboxType  *domain.MailboxType
}

// CreatePlan 套餐类型唯一
func (s *BillingService) CreatePlan(ctx context.Context, admin *domain.Principal, input PlanInput) (*domain.Plan, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if !input.PlanType.Valid() {
		return nil, domain.Validation("unknown plan type %q", input.PlanType)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domain.Validation("plan name is required")
	}
	if input.MonthlyPrice < 0 {
		return nil, domain.Validation("monthly price must not be negative")
	}

	now := s.now().UTC()
	plan := &domain.Plan{
		ID:           uuid.NewString(),
		PlanType:     input.PlanType,
		Name:         name,
		MonthlyPrice: input.MonthlyPrice,
		Currency:     s.currency(input.Currency),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if input.IsActive != nil {
		plan.IsActive = *input.IsActive
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlans activeOnly 为 true 时只返回可售套餐
func (s *BillingService) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return plans, nil
	}
	out := make([]domain.Plan, 0, len(plans))
	for _, plan := range plans {
		if plan.IsActive {
			out = append(out, plan)
		}
	}
	return out, nil
}

// UpdatePlan 修改名称、价格与上架状态，类型不可变
func (s *BillingService) UpdatePlan(ctx context.Context, admin *domain.Principal, planType domain.PlanType, input PlanInput) (*domain.Plan, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlanByType(ctx, planType)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		plan.Name = name
	}
	if input.MonthlyPrice < 0 {
		return nil, domain.Validation("monthly price must not be negative")
	}
	if input.MonthlyPrice > 0 {
		plan.MonthlyPrice = input.MonthlyPrice
	}
	if input.Currency != "" {
		plan.Currency = s.currency(input.Currency)
	}
	if input.IsActive != nil {
		plan.IsActive = *input.IsActive
	}
	plan.UpdatedAt = s.now().UTC()
	if err := s.store.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Checkout 创建 INACTIVE 订阅并向网关申请账单；网关失败时订阅保持 INACTIVE 且无账单链接。
func (s *BillingService) Checkout(ctx context.Context, principal *domain.Principal, input CheckoutInput) (*domain.Subscription, error) {
	if principal == nil {
		return nil, domain.Unauthorized("authentication required")
	}
	if !input.PlanType.IsPaid() {
		return nil, domain.Validation("plan %q cannot be purchased", input.PlanType)
	}
	if !input.BillingCycle.Valid() {
		return nil, domain.Validation("unknown billing cycle %q", input.BillingCycle)
	}
	if input.MailboxType != nil && !input.MailboxType.Valid() {
		return nil, domain.Validation("unknown mailbox type %q", *input.MailboxType)
	}

	plan, err := s.store.GetPlanByType(ctx, input.PlanType)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, domain.Validation("plan %q is not available", plan.PlanType)
	}

	now := s.now().UTC()
	sub := &domain.Subscription{
		ID:           uuid.NewString(),
		ProfileID:    principal.ID,
		MailboxType:  input.MailboxType,
		PlanType:     plan.PlanType,
		BillingCycle: input.BillingCycle,
		Status:       domain.SubscriptionInactive,
		Amount:       plan.PriceFor(input.BillingCycle),
		Currency:     s.currency(plan.Currency),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	invoice, err := s.gateway.CreateInvoice(callCtx, payment.InvoiceRequest{
		ExternalID:  sub.ID,
		Amount:      sub.Amount,
		Currency:    sub.Currency,
		PayerEmail:  principal.Email,
		Description: fmt.Sprintf("%s plan, %s", plan.Name, strings.ToLower(string(sub.BillingCycle))),
	})
	if err != nil {
		s.metrics.RecordUpstreamFailure(payment.Collaborator)
		s.log.Warn("invoice creation failed",
			zap.String("subscription_id", sub.ID),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrUpstream) {
			return nil, err
		}
		return nil, domain.Upstream(payment.Collaborator, err)
	}

	url := invoice.InvoiceURL
	sub.InvoiceURL = &url
	sub.UpdatedAt = s.now().UTC()
	err = s.store.TransitionSubscription(ctx, sub, domain.SubscriptionInactive)
	if errors.Is(err, domain.ErrSubscriptionChanged) {
		// 回调先于发票写回到达，保留回调结果
		return s.store.GetSubscription(ctx, sub.ID)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// HandlePaymentCallback 验签后处理网关回调；已生效订阅的重复 paid 回调为空操作
func (s *BillingService) HandlePaymentCallback(ctx context.Context, payload []byte, signature string) (*domain.Subscription, error) {
	cb, err := payment.VerifyCallback(payload, signature, s.cfg.CallbackSecret)
	if err != nil {
		return nil, err
	}

	switch cb.Status {
	case payment.CallbackPaid:
		return s.Activate(ctx, cb.ExternalID)
	case payment.CallbackFailed, payment.CallbackExpired:
		sub, err := s.store.GetSubscription(ctx, cb.ExternalID)
		if err != nil {
			return nil, err
		}
		s.log.Info("payment not completed",
			zap.String("subscription_id", sub.ID),
			zap.String("status", string(cb.Status)),
		)
		return sub, nil
	}
	return nil, domain.Validation("unknown callback status %q", cb.Status)
}

// Activate 订阅生效：更新档案套餐、分配信箱、激活推荐关系
func (s *BillingService) Activate(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case domain.SubscriptionActive:
		return sub, nil
	case domain.SubscriptionCancelled:
		return nil, domain.Conflict("subscription %s is cancelled", sub.ID)
	case domain.SubscriptionInactive:
	}

	now := s.now().UTC()
	next := sub.BillingCycle.NextBillingAfter(now)
	sub.Status = domain.SubscriptionActive
	sub.StartedAt = &now
	sub.NextBillingDate = &next
	sub.UpdatedAt = now
	err = s.store.TransitionSubscription(ctx, sub, domain.SubscriptionInactive)
	if errors.Is(err, domain.ErrSubscriptionChanged) {
		// 重复回调并发到达，只有先写入的一方继续分配信箱
		current, getErr := s.store.GetSubscription(ctx, subscriptionID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == domain.SubscriptionActive {
			return current, nil
		}
		return nil, domain.Conflict("subscription %s is cancelled", current.ID)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSubscriptionActivated()

	profile, err := s.store.GetProfile(ctx, sub.ProfileID)
	if err != nil {
		return nil, err
	}
	profile.PlanType = sub.PlanType
	profile.UpdatedAt = now
	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}

	if sub.MailboxType != nil && s.lockers != nil {
		mailbox, err := s.lockers.AssignVacant(ctx, sub.ID, *sub.MailboxType)
		switch {
		case err != nil:
			s.log.Error("mailbox assignment failed", zap.String("subscription_id", sub.ID), zap.Error(err))
		case mailbox == nil:
			s.log.Warn("no vacant mailbox for subscription",
				zap.String("subscription_id", sub.ID),
				zap.String("mailbox_type", string(*sub.MailboxType)),
			)
		}
	}

	if s.referrals != nil {
		if err := s.referrals.ActivateReferral(ctx, sub.ProfileID); err != nil {
			s.log.Warn("referral activation failed", zap.String("profile_id", sub.ProfileID), zap.Error(err))
		}
	}

	s.log.Info("subscription activated",
		zap.String("subscription_id", sub.ID),
		zap.String("plan_type", string(sub.PlanType)),
	)
	return s.store.GetSubscription(ctx, sub.ID)
}

// Cancel 取消订阅并释放信箱；没有其他生效订阅时套餐回落为 FREE
func (s *BillingService) Cancel(ctx context.Context, principal *domain.Principal, subscriptionID string) (*domain.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if principal == nil || (sub.ProfileID != principal.ID && !principal.IsSystemAdmin()) {
		return nil, domain.NotFound("subscription")
	}
	if sub.Status == domain.SubscriptionCancelled {
		return sub, nil
	}

	now := s.now().UTC()
	from := sub.Status
	sub.Status = domain.SubscriptionCancelled
	sub.UpdatedAt = now
	err = s.store.TransitionSubscription(ctx, sub, from)
	if errors.Is(err, domain.ErrSubscriptionChanged) {
		current, getErr := s.store.GetSubscription(ctx, subscriptionID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == domain.SubscriptionCancelled {
			return current, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if s.lockers != nil {
		if err := s.lockers.ReleaseMailbox(ctx, sub.ID); err != nil {
			return nil, err
		}
	}

	active, err := s.store.ActiveSubscribers(ctx, []string{sub.ProfileID})
	if err != nil {
		return nil, err
	}
	if !active[sub.ProfileID] {
		profile, err := s.store.GetProfile(ctx, sub.ProfileID)
		if err != nil {
			return nil, err
		}
		profile.PlanType = domain.PlanFree
		profile.UpdatedAt = now
		if err := s.store.UpdateProfile(ctx, profile); err != nil {
			return nil, err
		}
	}
	return s.store.GetSubscription(ctx, sub.ID)
}

// ListSubscriptions 主体自己的订阅
func (s *BillingService) ListSubscriptions(ctx context.Context, principal *domain.Principal) ([]domain.Subscription, error) {
	if principal == nil {
		return nil, domain.Unauthorized("authentication required")
	}
	return s.store.ListSubscriptionsByProfile(ctx, principal.ID)
}

func (s *BillingService) currency(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		v = s.cfg.Currency
	}
	if v == "" {
		v = "USD"
	}
	return v
}
