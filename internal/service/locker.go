package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

// LockerService 管理网点、分组、信箱并执行装箱判定。
type LockerService struct {
	store   storage.Store
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewLockerService 创建信箱业务服务。
func NewLockerService(store storage.Store, metrics *monitoring.Metrics, log *zap.Logger) *LockerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LockerService{store: store, metrics: metrics, log: log.Named("locker"), now: time.Now}
}

// CreateLocationInput 创建网点的输入，首个分组一并创建
type CreateLocationInput struct {
	Name             string
	Address          string
	FirstClusterName string
}

// MailboxInput 创建或修改信箱的输入；占用状态不接受客户端写入
type MailboxInput struct {
	ClusterID string
	BoxNumber string
	Type      domain.MailboxType
	Width     float64
	Height    float64
	Depth     float64
	Unit      domain.DimensionUnit
}

func requireAdmin(p *domain.Principal) error {
	if !p.IsSystemAdmin() {
		return domain.Unauthorized("system admin role required")
	}
	return nil
}

// CreateLocation 网点至少含一个分组
func (s *LockerService) CreateLocation(ctx context.Context, admin *domain.Principal, input CreateLocationInput) (*domain.MailingLocation, *domain.Cluster, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, nil, domain.Validation("location name is required")
	}
	clusterName := strings.TrimSpace(input.FirstClusterName)
	if clusterName == "" {
		clusterName = "Cluster A"
	}

	now := s.now().UTC()
	location := &domain.MailingLocation{
		ID:        uuid.NewString(),
		Name:      name,
		Address:   strings.TrimSpace(input.Address),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cluster := &domain.Cluster{
		ID:         uuid.NewString(),
		LocationID: location.ID,
		Name:       clusterName,
		CreatedAt:  now,
	}
	if err := s.store.CreateLocationWithCluster(ctx, location, cluster); err != nil {
		return nil, nil, err
	}
	return location, cluster, nil
}

// ListLocations 列出全部网点
func (s *LockerService) ListLocations(ctx context.Context) ([]domain.MailingLocation, error) {
	return s.store.ListLocations(ctx)
}

// SetLocationActive 启用或停用网点
func (s *LockerService) SetLocationActive(ctx context.Context, admin *domain.Principal, id string, active bool) (*domain.MailingLocation, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	location, err := s.store.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	location.IsActive = active
	location.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateLocation(ctx, location); err != nil {
		return nil, err
	}
	return location, nil
}

// CreateCluster 在已有网点下新增分组
func (s *LockerService) CreateCluster(ctx context.Context, admin *domain.Principal, locationID, name string) (*domain.Cluster, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validation("cluster name is required")
	}
	cluster := &domain.Cluster{
		ID:         uuid.NewString(),
		LocationID: locationID,
		Name:       name,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateCluster(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

// ListClusters 列出网点下的分组
func (s *LockerService) ListClusters(ctx context.Context, locationID string) ([]domain.Cluster, error) {
	if _, err := s.store.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return s.store.ListClusters(ctx, locationID)
}

// DeleteCluster 最后一个分组或含已占用信箱的分组返回 CONFLICT
func (s *LockerService) DeleteCluster(ctx context.Context, admin *domain.Principal, id string) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	if err := s.store.DeleteCluster(ctx, id); err != nil {
		return err
	}
	s.log.Info("cluster deleted", zap.String("cluster_id", id), zap.String("admin_id", admin.ID))
	return nil
}

// CreateMailbox 新信箱总是空闲
func (s *LockerService) CreateMailbox(ctx context.Context, admin *domain.Principal, input MailboxInput) (*domain.Mailbox, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	boxNumber, err := validateMailboxInput(input)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	mailbox := &domain.Mailbox{
		ID:            uuid.NewString(),
		ClusterID:     input.ClusterID,
		BoxNumber:     boxNumber,
		Type:          input.Type,
		Width:         input.Width,
		Height:        input.Height,
		Depth:         input.Depth,
		DimensionUnit: input.Unit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateMailbox(ctx, mailbox); err != nil {
		return nil, err
	}
	return mailbox, nil
}

// UpdateMailbox 只修改编号、类型与尺寸
func (s *LockerService) UpdateMailbox(ctx context.Context, admin *domain.Principal, id string, input MailboxInput) (*domain.Mailbox, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	mailbox, err := s.store.GetMailbox(ctx, id)
	if err != nil {
		return nil, err
	}
	input.ClusterID = mailbox.ClusterID
	boxNumber, err := validateMailboxInput(input)
	if err != nil {
		return nil, err
	}

	mailbox.BoxNumber = boxNumber
	mailbox.Type = input.Type
	mailbox.Width = input.Width
	mailbox.Height = input.Height
	mailbox.Depth = input.Depth
	mailbox.DimensionUnit = input.Unit
	mailbox.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateMailbox(ctx, mailbox); err != nil {
		return nil, err
	}
	return s.store.GetMailbox(ctx, id)
}

// ListMailboxes 按条件列出信箱
func (s *LockerService) ListMailboxes(ctx context.Context, filter storage.MailboxFilter) ([]domain.Mailbox, error) {
	return s.store.ListMailboxes(ctx, filter)
}

// CheckParcelFit 包裹与指定信箱的装箱判定
func (s *LockerService) CheckParcelFit(ctx context.Context, parcel domain.Dimensions, mailboxID string) (*domain.FitResult, error) {
	mailbox, err := s.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	result, err := domain.CheckFit(parcel, mailbox.Dimensions())
	if err != nil {
		return nil, err
	}
	s.metrics.RecordParcelFit(result.Fits)
	return &result, nil
}

// AssignMailbox 订阅必须为 ACTIVE 且未持有其他信箱；校验与占用在存储层同一临界区内完成，
// 并发分配同一信箱或为同一订阅分配多个信箱都只有一个成功
func (s *LockerService) AssignMailbox(ctx context.Context, subscriptionID, mailboxID string) error {
	err := s.store.AssignMailbox(ctx, mailboxID, subscriptionID)
	switch {
	case err == nil:
		s.metrics.RecordMailboxAssignment("assigned")
	case errors.Is(err, domain.ErrMailboxOccupied), errors.Is(err, domain.ErrSubscriptionHasMailbox):
		s.metrics.RecordMailboxAssignment("conflict")
	}
	return err
}

// AssignVacant 为订阅挑选并占用一个指定类型的空闲信箱；没有空闲信箱时返回 nil
func (s *LockerService) AssignVacant(ctx context.Context, subscriptionID string, boxType domain.MailboxType) (*domain.Mailbox, error) {
	candidates, err := s.store.ListMailboxes(ctx, storage.MailboxFilter{Type: boxType, OnlyVacant: true, Limit: 20})
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		err := s.AssignMailbox(ctx, subscriptionID, candidates[i].ID)
		if err == nil {
			return s.store.GetMailbox(ctx, candidates[i].ID)
		}
		if errors.Is(err, domain.ErrMailboxOccupied) {
			// 被并发请求抢占，换下一个
			continue
		}
		return nil, err
	}
	s.metrics.RecordMailboxAssignment("none_vacant")
	return nil, nil
}

// ReleaseMailbox 订阅不再 ACTIVE 时释放其信箱
func (s *LockerService) ReleaseMailbox(ctx context.Context, subscriptionID string) error {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.MailboxID == nil {
		return nil
	}
	if sub.Status == domain.SubscriptionActive {
		return domain.Validation("subscription %s is still active", sub.ID)
	}
	if err := s.store.ReleaseMailbox(ctx, *sub.MailboxID, sub.ID); err != nil {
		return err
	}
	s.metrics.RecordMailboxAssignment("released")
	return nil
}

func validateMailboxInput(input MailboxInput) (string, error) {
	boxNumber, err := domain.NormalizeBoxNumber(input.BoxNumber)
	if err != nil {
		return "", err
	}
	if !input.Type.Valid() {
		return "", domain.Validation("unknown mailbox type %q", input.Type)
	}
	dims := domain.Dimensions{Width: input.Width, Height: input.Height, Depth: input.Depth, Unit: input.Unit}
	if err := dims.Validate(); err != nil {
		return "", err
	}
	if strings.TrimSpace(input.ClusterID) == "" {
		return "", domain.Validation("cluster id is required")
	}
	return boxNumber, nil
}
