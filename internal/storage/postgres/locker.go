package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// ========== Locker Repository ==========

// CreateLocationWithCluster 网点与首个分组在同一事务中创建
func (s *Store) CreateLocationWithCluster(ctx context.Context, location *domain.MailingLocation, cluster *domain.Cluster) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(location).Error; err != nil {
			return translate(err, "location")
		}
		cluster.LocationID = location.ID
		return translate(tx.Create(cluster).Error, "cluster")
	})
}

// GetLocation 获取网点
func (s *Store) GetLocation(ctx context.Context, id string) (*domain.MailingLocation, error) {
	var loc domain.MailingLocation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&loc).Error; err != nil {
		return nil, translate(err, "location")
	}
	return &loc, nil
}

// ListLocations 按名称列出网点
func (s *Store) ListLocations(ctx context.Context) ([]domain.MailingLocation, error) {
	var locations []domain.MailingLocation
	err := s.db.WithContext(ctx).Order("name").Order("id").Find(&locations).Error
	return locations, err
}

// UpdateLocation 更新网点
func (s *Store) UpdateLocation(ctx context.Context, location *domain.MailingLocation) error {
	result := s.db.WithContext(ctx).Model(&domain.MailingLocation{}).
		Where("id = ?", location.ID).
		Select("name", "address", "is_active", "updated_at").
		Updates(location)
	if result.Error != nil {
		return translate(result.Error, "location")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("location")
	}
	return nil
}

// CreateCluster 在已有网点下创建分组
func (s *Store) CreateCluster(ctx context.Context, cluster *domain.Cluster) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var loc domain.MailingLocation
		if err := tx.Where("id = ?", cluster.LocationID).First(&loc).Error; err != nil {
			return translate(err, "location")
		}
		return translate(tx.Create(cluster).Error, "cluster")
	})
}

// GetCluster 获取分组
func (s *Store) GetCluster(ctx context.Context, id string) (*domain.Cluster, error) {
	var cluster domain.Cluster
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&cluster).Error; err != nil {
		return nil, translate(err, "cluster")
	}
	return &cluster, nil
}

// ListClusters 列出网点下的分组
func (s *Store) ListClusters(ctx context.Context, locationID string) ([]domain.Cluster, error) {
	var clusters []domain.Cluster
	err := s.db.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("created_at").Order("id").
		Find(&clusters).Error
	return clusters, err
}

// DeleteCluster 锁定所属网点后检查并删除，空信箱随分组删除
func (s *Store) DeleteCluster(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cluster domain.Cluster
		if err := tx.Where("id = ?", id).First(&cluster).Error; err != nil {
			return translate(err, "cluster")
		}

		// 串行化同一网点下的并发删除
		var loc domain.MailingLocation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", cluster.LocationID).First(&loc).Error; err != nil {
			return translate(err, "location")
		}

		var siblings int64
		if err := tx.Model(&domain.Cluster{}).Where("location_id = ?", cluster.LocationID).Count(&siblings).Error; err != nil {
			return err
		}
		if siblings <= 1 {
			return domain.ErrLastCluster
		}

		var occupied int64
		if err := tx.Model(&domain.Mailbox{}).
			Where("cluster_id = ? AND is_occupied = ?", id, true).
			Count(&occupied).Error; err != nil {
			return err
		}
		if occupied > 0 {
			return domain.ErrClusterOccupied
		}

		if err := tx.Where("cluster_id = ?", id).Delete(&domain.Mailbox{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Cluster{}).Error
	})
}

// CreateMailbox 创建信箱，同分组内编号唯一
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cluster domain.Cluster
		if err := tx.Where("id = ?", mailbox.ClusterID).First(&cluster).Error; err != nil {
			return translate(err, "cluster")
		}
		mailbox.IsOccupied = false
		mailbox.SubscriptionID = nil
		return conflictAs(tx.Create(mailbox).Error, domain.ErrBoxNumberTaken, "mailbox")
	})
}

// GetMailbox 获取信箱
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	var box domain.Mailbox
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&box).Error; err != nil {
		return nil, translate(err, "mailbox")
	}
	return &box, nil
}

// UpdateMailbox 只更新编号、类型与尺寸
func (s *Store) UpdateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	result := s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("id = ?", mailbox.ID).
		Select("box_number", "type", "width", "height", "depth", "dimension_unit", "updated_at").
		Updates(mailbox)
	if result.Error != nil {
		return conflictAs(result.Error, domain.ErrBoxNumberTaken, "mailbox")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("mailbox")
	}
	return nil
}

// ListMailboxes 按分组与编号排序列出信箱
func (s *Store) ListMailboxes(ctx context.Context, filter storage.MailboxFilter) ([]domain.Mailbox, error) {
	query := s.db.WithContext(ctx).Model(&domain.Mailbox{})
	if filter.ClusterID != "" {
		query = query.Where("cluster_id = ?", filter.ClusterID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.OnlyVacant {
		query = query.Where("is_occupied = ?", false)
	}
	query = query.Order("cluster_id").Order("box_number")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var boxes []domain.Mailbox
	if err := query.Find(&boxes).Error; err != nil {
		return nil, err
	}
	return boxes, nil
}

// AssignMailbox 锁定订阅行后条件更新 is_occupied = false 的信箱与 mailbox_id IS NULL 的订阅，
// 任一未命中即回滚
func (s *Store) AssignMailbox(ctx context.Context, mailboxID, subscriptionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub domain.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", subscriptionID).First(&sub).Error; err != nil {
			return translate(err, "subscription")
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

		result := tx.Model(&domain.Mailbox{}).
			Where("id = ? AND is_occupied = ?", mailboxID, false).
			Updates(map[string]interface{}{
				"is_occupied":     true,
				"subscription_id": subscriptionID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.NotFound("mailbox")
			}
			return domain.ErrMailboxOccupied
		}

		result = tx.Model(&domain.Subscription{}).
			Where("id = ? AND status = ? AND mailbox_id IS NULL", subscriptionID, domain.SubscriptionActive).
			Update("mailbox_id", mailboxID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrSubscriptionHasMailbox
		}
		return nil
	})
}

// ReleaseMailbox 释放由该订阅占用的信箱
func (s *Store) ReleaseMailbox(ctx context.Context, mailboxID, subscriptionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var box domain.Mailbox
		if err := tx.Where("id = ?", mailboxID).First(&box).Error; err != nil {
			return translate(err, "mailbox")
		}

		result := tx.Model(&domain.Mailbox{}).
			Where("id = ? AND subscription_id = ?", mailboxID, subscriptionID).
			Updates(map[string]interface{}{
				"is_occupied":     false,
				"subscription_id": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&domain.Subscription{}).
			Where("id = ?", subscriptionID).
			Update("mailbox_id", nil).Error
	})
}
