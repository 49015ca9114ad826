package memory

import (
	"context"
	"sort"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// ========== Locker Repository ==========

// CreateLocationWithCluster 网点与首个分组一并创建
func (s *Store) CreateLocationWithCluster(ctx context.Context, location *domain.MailingLocation, cluster *domain.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.locations[location.ID]; exists {
		return domain.Conflict("location %s already exists", location.ID)
	}
	if _, exists := s.clusters[cluster.ID]; exists {
		return domain.Conflict("cluster %s already exists", cluster.ID)
	}

	loc := *location
	cl := *cluster
	cl.LocationID = location.ID
	s.locations[location.ID] = &loc
	s.clusters[cluster.ID] = &cl
	return nil
}

// GetLocation 获取网点
func (s *Store) GetLocation(ctx context.Context, id string) (*domain.MailingLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, domain.NotFound("location")
	}
	clone := *loc
	return &clone, nil
}

// ListLocations 按名称列出网点
func (s *Store) ListLocations(ctx context.Context) ([]domain.MailingLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MailingLocation, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, *loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpdateLocation 更新网点
func (s *Store) UpdateLocation(ctx context.Context, location *domain.MailingLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[location.ID]; !ok {
		return domain.NotFound("location")
	}
	clone := *location
	s.locations[location.ID] = &clone
	return nil
}

// CreateCluster 在已有网点下创建分组
func (s *Store) CreateCluster(ctx context.Context, cluster *domain.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[cluster.LocationID]; !ok {
		return domain.NotFound("location")
	}
	if _, exists := s.clusters[cluster.ID]; exists {
		return domain.Conflict("cluster %s already exists", cluster.ID)
	}
	clone := *cluster
	s.clusters[cluster.ID] = &clone
	return nil
}

// GetCluster 获取分组
func (s *Store) GetCluster(ctx context.Context, id string) (*domain.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cluster, ok := s.clusters[id]
	if !ok {
		return nil, domain.NotFound("cluster")
	}
	clone := *cluster
	return &clone, nil
}

// ListClusters 列出网点下的分组
func (s *Store) ListClusters(ctx context.Context, locationID string) ([]domain.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Cluster, 0)
	for _, cluster := range s.clusters {
		if cluster.LocationID == locationID {
			out = append(out, *cluster)
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

// DeleteCluster 拒绝删除最后一个分组或含占用信箱的分组，空信箱随分组删除
func (s *Store) DeleteCluster(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cluster, ok := s.clusters[id]
	if !ok {
		return domain.NotFound("cluster")
	}

	siblings := 0
	for _, c := range s.clusters {
		if c.LocationID == cluster.LocationID {
			siblings++
		}
	}
	if siblings <= 1 {
		return domain.ErrLastCluster
	}

	var boxIDs []string
	for boxID, box := range s.mailboxes {
		if box.ClusterID != id {
			continue
		}
		if box.IsOccupied {
			return domain.ErrClusterOccupied
		}
		boxIDs = append(boxIDs, boxID)
	}

	for _, boxID := range boxIDs {
		delete(s.mailboxes, boxID)
	}
	delete(s.clusters, id)
	return nil
}

// CreateMailbox 创建信箱，同分组内编号唯一
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[mailbox.ClusterID]; !ok {
		return domain.NotFound("cluster")
	}
	if _, exists := s.mailboxes[mailbox.ID]; exists {
		return domain.Conflict("mailbox %s already exists", mailbox.ID)
	}
	if s.boxNumberTakenLocked(mailbox.ClusterID, mailbox.BoxNumber, mailbox.ID) {
		return domain.ErrBoxNumberTaken
	}

	clone := *mailbox
	clone.IsOccupied = false
	clone.SubscriptionID = nil
	s.mailboxes[mailbox.ID] = &clone
	return nil
}

func (s *Store) boxNumberTakenLocked(clusterID, boxNumber, exceptID string) bool {
	for id, box := range s.mailboxes {
		if id != exceptID && box.ClusterID == clusterID && box.BoxNumber == boxNumber {
			return true
		}
	}
	return false
}

// GetMailbox 获取信箱
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	box, ok := s.mailboxes[id]
	if !ok {
		return nil, domain.NotFound("mailbox")
	}
	clone := *box
	return &clone, nil
}

// UpdateMailbox 只更新编号、类型与尺寸
func (s *Store) UpdateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mailboxes[mailbox.ID]
	if !ok {
		return domain.NotFound("mailbox")
	}
	if s.boxNumberTakenLocked(existing.ClusterID, mailbox.BoxNumber, mailbox.ID) {
		return domain.ErrBoxNumberTaken
	}

	existing.BoxNumber = mailbox.BoxNumber
	existing.Type = mailbox.Type
	existing.Width = mailbox.Width
	existing.Height = mailbox.Height
	existing.Depth = mailbox.Depth
	existing.DimensionUnit = mailbox.DimensionUnit
	existing.UpdatedAt = mailbox.UpdatedAt
	return nil
}

// ListMailboxes 按分组与编号排序列出信箱
func (s *Store) ListMailboxes(ctx context.Context, filter storage.MailboxFilter) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mailbox, 0)
	for _, box := range s.mailboxes {
		if filter.ClusterID != "" && box.ClusterID != filter.ClusterID {
			continue
		}
		if filter.Type != "" && box.Type != filter.Type {
			continue
		}
		if filter.OnlyVacant && box.IsOccupied {
			continue
		}
		out = append(out, *box)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClusterID == out[j].ClusterID {
			return out[i].BoxNumber < out[j].BoxNumber
		}
		return out[i].ClusterID < out[j].ClusterID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AssignMailbox 订阅为 ACTIVE 且未持有信箱、信箱空闲时占用并回写订阅
func (s *Store) AssignMailbox(ctx context.Context, mailboxID, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, ok := s.mailboxes[mailboxID]
	if !ok {
		return domain.NotFound("mailbox")
	}
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return domain.NotFound("subscription")
	}
	if sub.Status != domain.SubscriptionActive {
		return domain.Validation("subscription %s is not active", sub.ID)
	}
	if sub.MailboxID != nil {
		if *sub.MailboxID == mailboxID {
			return nil
		}
		return domain.ErrSubscriptionHasMailbox
	}
	if box.IsOccupied {
		return domain.ErrMailboxOccupied
	}

	subID := subscriptionID
	boxID := mailboxID
	box.IsOccupied = true
	box.SubscriptionID = &subID
	sub.MailboxID = &boxID
	return nil
}

// ReleaseMailbox 释放由该订阅占用的信箱
func (s *Store) ReleaseMailbox(ctx context.Context, mailboxID, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, ok := s.mailboxes[mailboxID]
	if !ok {
		return domain.NotFound("mailbox")
	}
	if box.SubscriptionID == nil || *box.SubscriptionID != subscriptionID {
		return nil
	}

	box.IsOccupied = false
	box.SubscriptionID = nil
	if sub, ok := s.subscriptions[subscriptionID]; ok {
		sub.MailboxID = nil
	}
	return nil
}
