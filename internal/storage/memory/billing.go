package memory

import (
	"context"
	"sort"
	"time"

	"mailroom/backend/internal/domain"
)

// ========== Billing Repository ==========

// CreatePlan 创建套餐，类型重复返回 ErrPlanTypeExists
func (s *Store) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.plans {
		if existing.PlanType == plan.PlanType {
			return domain.ErrPlanTypeExists
		}
	}
	clone := *plan
	s.plans[plan.ID] = &clone
	return nil
}

// GetPlanByType 按类型获取套餐
func (s *Store) GetPlanByType(ctx context.Context, planType domain.PlanType) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, plan := range s.plans {
		if plan.PlanType == planType {
			clone := *plan
			return &clone, nil
		}
	}
	return nil, domain.NotFound("plan")
}

// ListPlans 按月价升序列出套餐
func (s *Store) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		out = append(out, *plan)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthlyPrice == out[j].MonthlyPrice {
			return out[i].PlanType < out[j].PlanType
		}
		return out[i].MonthlyPrice < out[j].MonthlyPrice
	})
	return out, nil
}

// UpdatePlan 更新套餐
func (s *Store) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[plan.ID]; !ok {
		return domain.NotFound("plan")
	}
	for id, existing := range s.plans {
		if id != plan.ID && existing.PlanType == plan.PlanType {
			return domain.ErrPlanTypeExists
		}
	}
	clone := *plan
	s.plans[plan.ID] = &clone
	return nil
}

// CreateSubscription 创建订阅
func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID]; exists {
		return domain.Conflict("subscription %s already exists", sub.ID)
	}
	clone := *sub
	s.subscriptions[sub.ID] = &clone
	return nil
}

// GetSubscription 获取订阅
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, domain.NotFound("subscription")
	}
	clone := *sub
	return &clone, nil
}

// TransitionSubscription 状态仍为 from 时写入
func (s *Store) TransitionSubscription(ctx context.Context, sub *domain.Subscription, from domain.SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID]
	if !ok {
		return domain.NotFound("subscription")
	}
	if existing.Status != from {
		return domain.ErrSubscriptionChanged
	}
	clone := *sub
	clone.MailboxID = existing.MailboxID
	s.subscriptions[sub.ID] = &clone
	return nil
}

// ListSubscriptionsByProfile 按创建时间倒序列出档案的订阅
func (s *Store) ListSubscriptionsByProfile(ctx context.Context, profileID string) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.ProfileID == profileID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ActiveSubscribers 返回拥有 ACTIVE 订阅的档案集合
func (s *Store) ActiveSubscribers(ctx context.Context, profileIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(profileIDs))
	for _, id := range profileIDs {
		wanted[id] = true
	}
	out := make(map[string]bool)
	for _, sub := range s.subscriptions {
		if sub.Status == domain.SubscriptionActive && wanted[sub.ProfileID] {
			out[sub.ProfileID] = true
		}
	}
	return out, nil
}

// ========== Referral Repository ==========

// CreateReferral 每个被推荐人至多一条记录
func (s *Store) CreateReferral(ctx context.Context, referral *domain.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReferred[referral.ReferredID]; exists {
		return domain.Conflict("referral for %s already exists", referral.ReferredID)
	}
	clone := *referral
	s.referrals[referral.ID] = &clone
	s.byReferred[referral.ReferredID] = referral.ID
	return nil
}

// GetReferralByReferred 按被推荐人获取推荐记录
func (s *Store) GetReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReferred[referredID]
	if !ok {
		return nil, domain.NotFound("referral")
	}
	clone := *s.referrals[id]
	return &clone, nil
}

// GetReferral 获取推荐记录
func (s *Store) GetReferral(ctx context.Context, id string) (*domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	referral, ok := s.referrals[id]
	if !ok {
		return nil, domain.NotFound("referral")
	}
	clone := *referral
	return &clone, nil
}

// UpdateReferral 更新推荐记录状态
func (s *Store) UpdateReferral(ctx context.Context, referral *domain.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.referrals[referral.ID]
	if !ok {
		return domain.NotFound("referral")
	}
	existing.Status = referral.Status
	existing.Earnings = referral.Earnings
	return nil
}

// ListReferralsByReferrer 列出推荐人的全部推荐记录
func (s *Store) ListReferralsByReferrer(ctx context.Context, referrerID string) ([]domain.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Referral, 0)
	for _, referral := range s.referrals {
		if referral.ReferrerID == referrerID {
			out = append(out, *referral)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateReferralTransaction 追加返现流水
func (s *Store) CreateReferralTransaction(ctx context.Context, tx *domain.ReferralTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.referrals[tx.ReferralID]; !ok {
		return domain.NotFound("referral")
	}
	clone := *tx
	s.transactions[tx.ID] = &clone
	return nil
}

// MarkTransactionPaid 条件更新 pending -> paid
func (s *Store) MarkTransactionPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return false, domain.NotFound("referral transaction")
	}
	if tx.Status != domain.TransactionPending {
		return false, nil
	}
	t := paidAt
	tx.Status = domain.TransactionPaid
	tx.PaidAt = &t
	return true, nil
}

// GetReferralTransaction 获取返现流水
func (s *Store) GetReferralTransaction(ctx context.Context, id string) (*domain.ReferralTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, domain.NotFound("referral transaction")
	}
	clone := *tx
	return &clone, nil
}

// ListTransactionsByReferrals 列出指定推荐记录的全部流水
func (s *Store) ListTransactionsByReferrals(ctx context.Context, referralIDs []string) ([]domain.ReferralTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(referralIDs))
	for _, id := range referralIDs {
		wanted[id] = true
	}
	out := make([]domain.ReferralTransaction, 0)
	for _, tx := range s.transactions {
		if wanted[tx.ReferralID] {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
