package postgres

import (
	"context"

	"gorm.io/gorm"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

var openActionStatuses = []domain.ActionStatus{
	domain.ActionPending,
	domain.ActionInProgress,
	domain.ActionRequiresApproval,
}

// ========== Mail Repository ==========

// CreateMailItem 登记邮件
func (s *Store) CreateMailItem(ctx context.Context, item *domain.MailItem) error {
	return translate(s.db.WithContext(ctx).Create(item).Error, "mail item")
}

// GetMailItem 获取邮件
func (s *Store) GetMailItem(ctx context.Context, id string) (*domain.MailItem, error) {
	var item domain.MailItem
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err, "mail item")
	}
	return &item, nil
}

// PatchMailItem 只写用户可编辑的列
func (s *Store) PatchMailItem(ctx context.Context, item *domain.MailItem) error {
	result := s.db.WithContext(ctx).Model(&domain.MailItem{}).
		Where("id = ?", item.ID).
		Select("is_archived", "tags", "category", "notes", "updated_at").
		Updates(item)
	if result.Error != nil {
		return translate(result.Error, "mail item")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("mail item")
	}
	return nil
}

// TransitionMailItem 以 status = from 为条件更新
func (s *Store) TransitionMailItem(ctx context.Context, item *domain.MailItem, from domain.MailStatus) error {
	return transitionMailItem(s.db.WithContext(ctx), item, from)
}

func transitionMailItem(db *gorm.DB, item *domain.MailItem, from domain.MailStatus) error {
	result := db.Model(&domain.MailItem{}).
		Where("id = ? AND status = ?", item.ID, from).
		Select("*").
		Omit("id", "received_at", "created_at").
		Updates(item)
	if result.Error != nil {
		return translate(result.Error, "mail item")
	}
	if result.RowsAffected == 0 {
		if err := mustExist(db, &domain.MailItem{}, item.ID, "mail item"); err != nil {
			return err
		}
		return domain.ErrMailItemChanged
	}
	return nil
}

// mustExist 条件更新未命中时区分记录不存在
func mustExist(db *gorm.DB, model interface{}, id, entity string) error {
	var count int64
	if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.NotFound(entity)
	}
	return nil
}

// ListMailItems 按 receivedAt 倒序返回范围内的原始记录
func (s *Store) ListMailItems(ctx context.Context, scope domain.MailScope, limit int) ([]domain.MailItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&domain.MailItem{})
	if scope.ProfileID != "" {
		query = query.Where("owner_id = ? AND business_account_id IS NULL", scope.ProfileID)
	} else {
		query = query.Where("business_account_id = ?", scope.BusinessAccountID)
	}
	query = query.Order("received_at DESC").Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []domain.MailItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CreateActionRequest 创建操作请求
func (s *Store) CreateActionRequest(ctx context.Context, req *domain.ActionRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.MailItem{}).Where("id = ?", req.MailItemID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.NotFound("mail item")
		}
		return translate(tx.Create(req).Error, "action request")
	})
}

// GetActionRequest 获取操作请求
func (s *Store) GetActionRequest(ctx context.Context, id string) (*domain.ActionRequest, error) {
	var req domain.ActionRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translate(err, "action request")
	}
	return &req, nil
}

// UpdateActionRequest 更新操作请求
func (s *Store) UpdateActionRequest(ctx context.Context, req *domain.ActionRequest) error {
	return updateActionRequest(s.db.WithContext(ctx), req)
}

func updateActionRequest(db *gorm.DB, req *domain.ActionRequest) error {
	result := db.Model(&domain.ActionRequest{}).
		Where("id = ?", req.ID).
		Select("*").
		Omit("id", "mail_item_id", "requested_by", "requested_at").
		Updates(req)
	if result.Error != nil {
		return translate(result.Error, "action request")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("action request")
	}
	return nil
}

// FindOpenActionRequest 查找同一邮件同类型最早的未完成请求
func (s *Store) FindOpenActionRequest(ctx context.Context, mailItemID string, action domain.ActionType) (*domain.ActionRequest, error) {
	var req domain.ActionRequest
	err := s.db.WithContext(ctx).
		Where("mail_item_id = ? AND action_type = ? AND status IN ?", mailItemID, action, openActionStatuses).
		Order("requested_at").
		First(&req).Error
	if err != nil {
		return nil, translate(err, "action request")
	}
	return &req, nil
}

// ListActionRequests 按请求时间正序列出操作请求
func (s *Store) ListActionRequests(ctx context.Context, filter storage.ActionFilter) ([]domain.ActionRequest, error) {
	query := s.db.WithContext(ctx).Model(&domain.ActionRequest{})
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if len(filter.MailItemIDs) > 0 {
		query = query.Where("mail_item_id IN ?", filter.MailItemIDs)
	}
	query = query.Order("requested_at").Order("id")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var reqs []domain.ActionRequest
	if err := query.Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// SaveActionOutcome 在同一事务中条件写入请求与邮件，任一条件未命中即回滚
func (s *Store) SaveActionOutcome(ctx context.Context, req *domain.ActionRequest, item *domain.MailItem, from domain.MailStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.ActionRequest{}).
			Where("id = ? AND status <> ?", req.ID, domain.ActionCompleted).
			Select("*").
			Omit("id", "mail_item_id", "requested_by", "requested_at").
			Updates(req)
		if result.Error != nil {
			return translate(result.Error, "action request")
		}
		if result.RowsAffected == 0 {
			if err := mustExist(tx, &domain.ActionRequest{}, req.ID, "action request"); err != nil {
				return err
			}
			return domain.ErrActionCompleted
		}
		return transitionMailItem(tx, item, from)
	})
}
