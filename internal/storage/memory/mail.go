package memory

import (
	"context"
	"sort"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

func cloneMailItem(item *domain.MailItem) *domain.MailItem {
	clone := *item
	if item.Tags != nil {
		clone.Tags = append([]string(nil), item.Tags...)
	}
	return &clone
}

// ========== Mail Repository ==========

// CreateMailItem 登记邮件
func (s *Store) CreateMailItem(ctx context.Context, item *domain.MailItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mailItems[item.ID]; exists {
		return domain.Conflict("mail item %s already exists", item.ID)
	}
	s.mailItems[item.ID] = cloneMailItem(item)
	return nil
}

// GetMailItem 获取邮件
func (s *Store) GetMailItem(ctx context.Context, id string) (*domain.MailItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.mailItems[id]
	if !ok {
		return nil, domain.NotFound("mail item")
	}
	return cloneMailItem(item), nil
}

func (s *Store) updateMailItemLocked(item *domain.MailItem) error {
	existing, ok := s.mailItems[item.ID]
	if !ok {
		return domain.NotFound("mail item")
	}
	clone := cloneMailItem(item)
	clone.ReceivedAt = existing.ReceivedAt
	clone.CreatedAt = existing.CreatedAt
	s.mailItems[item.ID] = clone
	return nil
}

// PatchMailItem 只更新用户可编辑的字段
func (s *Store) PatchMailItem(ctx context.Context, item *domain.MailItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mailItems[item.ID]
	if !ok {
		return domain.NotFound("mail item")
	}
	existing.IsArchived = item.IsArchived
	existing.Tags = append([]string(nil), item.Tags...)
	existing.Category = item.Category
	existing.Notes = item.Notes
	existing.UpdatedAt = item.UpdatedAt
	return nil
}

// TransitionMailItem 状态仍为 from 时写入
func (s *Store) TransitionMailItem(ctx context.Context, item *domain.MailItem, from domain.MailStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMailStatusLocked(item.ID, from); err != nil {
		return err
	}
	return s.updateMailItemLocked(item)
}

func (s *Store) checkMailStatusLocked(id string, from domain.MailStatus) error {
	existing, ok := s.mailItems[id]
	if !ok {
		return domain.NotFound("mail item")
	}
	if existing.Status != from {
		return domain.ErrMailItemChanged
	}
	return nil
}

// ListMailItems 按 receivedAt 倒序返回范围内的原始记录
func (s *Store) ListMailItems(ctx context.Context, scope domain.MailScope, limit int) ([]domain.MailItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MailItem, 0)
	for _, item := range s.mailItems {
		if scope.Contains(item) {
			out = append(out, *cloneMailItem(item))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateActionRequest 创建操作请求
func (s *Store) CreateActionRequest(ctx context.Context, req *domain.ActionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailItems[req.MailItemID]; !ok {
		return domain.NotFound("mail item")
	}
	if _, exists := s.actions[req.ID]; exists {
		return domain.Conflict("action request %s already exists", req.ID)
	}
	clone := *req
	s.actions[req.ID] = &clone
	return nil
}

// GetActionRequest 获取操作请求
func (s *Store) GetActionRequest(ctx context.Context, id string) (*domain.ActionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.actions[id]
	if !ok {
		return nil, domain.NotFound("action request")
	}
	clone := *req
	return &clone, nil
}

// UpdateActionRequest 更新操作请求
func (s *Store) UpdateActionRequest(ctx context.Context, req *domain.ActionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actions[req.ID]; !ok {
		return domain.NotFound("action request")
	}
	clone := *req
	s.actions[req.ID] = &clone
	return nil
}

// FindOpenActionRequest 查找同一邮件同类型的未完成请求
func (s *Store) FindOpenActionRequest(ctx context.Context, mailItemID string, action domain.ActionType) (*domain.ActionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.ActionRequest
	for _, req := range s.actions {
		if req.MailItemID != mailItemID || req.ActionType != action || !req.Status.IsOpen() {
			continue
		}
		if found == nil || req.RequestedAt.Before(found.RequestedAt) {
			found = req
		}
	}
	if found == nil {
		return nil, domain.NotFound("action request")
	}
	clone := *found
	return &clone, nil
}

// ListActionRequests 按请求时间正序列出操作请求
func (s *Store) ListActionRequests(ctx context.Context, filter storage.ActionFilter) ([]domain.ActionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[domain.ActionStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}
	items := make(map[string]bool, len(filter.MailItemIDs))
	for _, id := range filter.MailItemIDs {
		items[id] = true
	}

	out := make([]domain.ActionRequest, 0)
	for _, req := range s.actions {
		if len(statuses) > 0 && !statuses[req.Status] {
			continue
		}
		if len(items) > 0 && !items[req.MailItemID] {
			continue
		}
		out = append(out, *req)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SaveActionOutcome 在锁内复核请求未完成、邮件状态仍为 from 后同时写入
func (s *Store) SaveActionOutcome(ctx context.Context, req *domain.ActionRequest, item *domain.MailItem, from domain.MailStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.actions[req.ID]
	if !ok {
		return domain.NotFound("action request")
	}
	if current.Status == domain.ActionCompleted {
		return domain.ErrActionCompleted
	}
	if err := s.checkMailStatusLocked(item.ID, from); err != nil {
		return err
	}
	if err := s.updateMailItemLocked(item); err != nil {
		return err
	}
	clone := *req
	s.actions[req.ID] = &clone
	return nil
}
