package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"mailroom/backend/internal/domain"
)

// ========== Billing Repository ==========

// CreatePlan 创建套餐
func (s *Store) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	return conflictAs(s.db.WithContext(ctx).Create(plan).Error, domain.ErrPlanTypeExists, "plan")
}

// GetPlanByType 按类型获取套餐
func (s *Store) GetPlanByType(ctx context.Context, planType domain.PlanType) (*domain.Plan, error) {
	var plan domain.Plan
	if err := s.db.WithContext(ctx).Where("plan_type = ?", planType).First(&plan).Error; err != nil {
		return nil, translate(err, "plan")
	}
	return &plan, nil
}

// ListPlans 按月价升序列出套餐
func (s *Store) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := s.db.WithContext(ctx).Order("monthly_price").Order("plan_type").Find(&plans).Error
	return plans, err
}

// UpdatePlan 更新套餐
func (s *Store) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	result := s.db.WithContext(ctx).Model(&domain.Plan{}).
		Where("id = ?", plan.ID).
		Select("plan_type", "name", "monthly_price", "currency", "is_active", "updated_at").
		Updates(plan)
	if result.Error != nil {
		return conflictAs(result.Error, domain.ErrPlanTypeExists, "plan")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("plan")
	}
	return nil
}

// CreateSubscription 创建订阅
func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	return translate(s.db.WithContext(ctx).Create(sub).Error, "subscription")
}

// GetSubscription 获取订阅
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, translate(err, "subscription")
	}
	return &sub, nil
}

// TransitionSubscription 以 status = from 为条件更新，mailbox_id 不写回
func (s *Store) TransitionSubscription(ctx context.Context, sub *domain.Subscription, from domain.SubscriptionStatus) error {
	db := s.db.WithContext(ctx)
	result := db.Model(&domain.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, from).
		Select("*").
		Omit("id", "profile_id", "mailbox_id", "created_at").
		Updates(sub)
	if result.Error != nil {
		return translate(result.Error, "subscription")
	}
	if result.RowsAffected == 0 {
		if err := mustExist(db, &domain.Subscription{}, sub.ID, "subscription"); err != nil {
			return err
		}
		return domain.ErrSubscriptionChanged
	}
	return nil
}

// ListSubscriptionsByProfile 按创建时间倒序列出档案的订阅
func (s *Store) ListSubscriptionsByProfile(ctx context.Context, profileID string) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("created_at DESC").Order("id").
		Find(&subs).Error
	return subs, err
}

// ActiveSubscribers 返回拥有 ACTIVE 订阅的档案集合
func (s *Store) ActiveSubscribers(ctx context.Context, profileIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(profileIDs) == 0 {
		return out, nil
	}

	var ids []string
	err := s.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("profile_id IN ? AND status = ?", profileIDs, domain.SubscriptionActive).
		Distinct().
		Pluck("profile_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// ========== Referral Repository ==========

// CreateReferral 被推荐人唯一
func (s *Store) CreateReferral(ctx context.Context, referral *domain.Referral) error {
	return translate(s.db.WithContext(ctx).Create(referral).Error, "referral")
}

// GetReferralByReferred 按被推荐人获取推荐记录
func (s *Store) GetReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error) {
	var referral domain.Referral
	if err := s.db.WithContext(ctx).Where("referred_id = ?", referredID).First(&referral).Error; err != nil {
		return nil, translate(err, "referral")
	}
	return &referral, nil
}

// GetReferral 获取推荐记录
func (s *Store) GetReferral(ctx context.Context, id string) (*domain.Referral, error) {
	var referral domain.Referral
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&referral).Error; err != nil {
		return nil, translate(err, "referral")
	}
	return &referral, nil
}

// UpdateReferral 更新推荐记录状态
func (s *Store) UpdateReferral(ctx context.Context, referral *domain.Referral) error {
	result := s.db.WithContext(ctx).Model(&domain.Referral{}).
		Where("id = ?", referral.ID).
		Updates(map[string]interface{}{
			"status":   referral.Status,
			"earnings": referral.Earnings,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetReferral(ctx, referral.ID); err != nil {
			return err
		}
	}
	return nil
}

// ListReferralsByReferrer 列出推荐人的全部推荐记录
func (s *Store) ListReferralsByReferrer(ctx context.Context, referrerID string) ([]domain.Referral, error) {
	var referrals []domain.Referral
	err := s.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at").Order("id").
		Find(&referrals).Error
	return referrals, err
}

// CreateReferralTransaction 追加返现流水
func (s *Store) CreateReferralTransaction(ctx context.Context, tx *domain.ReferralTransaction) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&domain.Referral{}).Where("id = ?", tx.ReferralID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.NotFound("referral")
		}
		return translate(db.Create(tx).Error, "referral transaction")
	})
}

// MarkTransactionPaid 条件更新 pending -> paid
func (s *Store) MarkTransactionPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&domain.ReferralTransaction{}).
		Where("id = ? AND status = ?", id, domain.TransactionPending).
		Updates(map[string]interface{}{
			"status":  domain.TransactionPaid,
			"paid_at": paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.GetReferralTransaction(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// GetReferralTransaction 获取返现流水
func (s *Store) GetReferralTransaction(ctx context.Context, id string) (*domain.ReferralTransaction, error) {
	var tx domain.ReferralTransaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, translate(err, "referral transaction")
	}
	return &tx, nil
}

// ListTransactionsByReferrals 列出指定推荐记录的全部流水
func (s *Store) ListTransactionsByReferrals(ctx context.Context, referralIDs []string) ([]domain.ReferralTransaction, error) {
	if len(referralIDs) == 0 {
		return []domain.ReferralTransaction{}, nil
	}
	var txs []domain.ReferralTransaction
	err := s.db.WithContext(ctx).
		Where("referral_id IN ?", referralIDs).
		Order("created_at").Order("id").
		Find(&txs).Error
	return txs, err
}
