package service

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

// AdminService 合规审核、用户管理、审计查询与 IP 白名单。
type AdminService struct {
	store storage.Store
	mail  *MailService
	log   *zap.Logger
	now   func() time.Time
}

// NewAdminService 创建管理业务服务。
func NewAdminService(store storage.Store, mail *MailService, log *zap.Logger) *AdminService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminService{store: store, mail: mail, log: log.Named("admin"), now: time.Now}
}

// ProfileUpdate 管理员可修改的档案字段
type ProfileUpdate struct {
	Role     *domain.Role
	PlanType *domain.PlanType
	IsActive *bool
}

// SubmitKYC NOT_STARTED/REJECTED -> PENDING，已提交时幂等
func (s *AdminService) SubmitKYC(ctx context.Context, principal *domain.Principal) (*domain.Profile, error) {
	if principal == nil {
		return nil, domain.Unauthorized("authentication required")
	}
	profile, err := s.store.GetProfile(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	switch profile.KYCStatus {
	case domain.KYCPending:
		return profile, nil
	case domain.KYCApproved:
		return nil, domain.Validation("identity verification is already approved")
	case domain.KYCNotStarted, domain.KYCRejected:
	}

	profile.KYCStatus = domain.KYCPending
	profile.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// ReviewKYC 仅处理 PENDING；通过后释放该用户被挂起的操作请求
func (s *AdminService) ReviewKYC(ctx context.Context, operator *domain.Principal, profileID string, approve bool) (*domain.Profile, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.KYCStatus != domain.KYCPending {
		return nil, domain.Validation("identity verification is not pending review")
	}

	profile.KYCStatus = reviewOutcome(approve)
	profile.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	s.log.Info("kyc reviewed",
		zap.String("profile_id", profileID),
		zap.String("operator_id", operator.ID),
		zap.String("status", string(profile.KYCStatus)),
	)

	if approve && s.mail != nil {
		if _, err := s.mail.ReleaseHeldRequests(ctx, domain.PersonalScope(profileID), profile.KYCStatus); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

// CreateBusinessAccount 新建企业账户，KYB 未开始
func (s *AdminService) CreateBusinessAccount(ctx context.Context, admin *domain.Principal, name string) (*domain.BusinessAccount, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validation("business name is required")
	}
	now := s.now().UTC()
	account := &domain.BusinessAccount{
		ID:        uuid.NewString(),
		Name:      name,
		KYBStatus: domain.KYCNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBusinessAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// AddBusinessMember 每个档案至多属于一个企业账户
func (s *AdminService) AddBusinessMember(ctx context.Context, admin *domain.Principal, businessAccountID, profileID string) (*domain.BusinessMember, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if _, err := s.store.GetBusinessAccount(ctx, businessAccountID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	member := &domain.BusinessMember{
		ProfileID:         profileID,
		BusinessAccountID: businessAccountID,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.AddBusinessMember(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// SubmitKYB 企业成员提交企业核验
func (s *AdminService) SubmitKYB(ctx context.Context, principal *domain.Principal, businessAccountID string) (*domain.BusinessAccount, error) {
	if !principal.BelongsTo(businessAccountID) {
		return nil, domain.NotFound("business account")
	}
	account, err := s.store.GetBusinessAccount(ctx, businessAccountID)
	if err != nil {
		return nil, err
	}
	switch account.KYBStatus {
	case domain.KYCPending:
		return account, nil
	case domain.KYCApproved:
		return nil, domain.Validation("business verification is already approved")
	case domain.KYCNotStarted, domain.KYCRejected:
	}
	account.KYBStatus = domain.KYCPending
	account.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBusinessAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// ReviewKYB 企业核验通过后释放企业邮件上挂起的请求
func (s *AdminService) ReviewKYB(ctx context.Context, operator *domain.Principal, businessAccountID string, approve bool) (*domain.BusinessAccount, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	account, err := s.store.GetBusinessAccount(ctx, businessAccountID)
	if err != nil {
		return nil, err
	}
	if account.KYBStatus != domain.KYCPending {
		return nil, domain.Validation("business verification is not pending review")
	}

	account.KYBStatus = reviewOutcome(approve)
	account.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBusinessAccount(ctx, account); err != nil {
		return nil, err
	}
	if approve && s.mail != nil {
		if _, err := s.mail.ReleaseHeldRequests(ctx, domain.BusinessScope(businessAccountID), account.KYBStatus); err != nil {
			return nil, err
		}
	}
	return account, nil
}

// UpdateProfile 修改角色、套餐或启用状态；管理员不能修改自己的角色
func (s *AdminService) UpdateProfile(ctx context.Context, admin *domain.Principal, profileID string, update ProfileUpdate) (*domain.Profile, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	if update.Role != nil {
		if !update.Role.Valid() {
			return nil, domain.Validation("unknown role %q", *update.Role)
		}
		if profileID == admin.ID && *update.Role != profile.Role {
			return nil, domain.Validation("administrators cannot change their own role")
		}
		profile.Role = *update.Role
	}
	if update.PlanType != nil {
		if !update.PlanType.Valid() {
			return nil, domain.Validation("unknown plan type %q", *update.PlanType)
		}
		profile.PlanType = *update.PlanType
	}
	if update.IsActive != nil {
		if profileID == admin.ID && !*update.IsActive {
			return nil, domain.Validation("administrators cannot deactivate themselves")
		}
		profile.IsActive = *update.IsActive
	}
	profile.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	s.log.Info("profile updated by admin",
		zap.String("profile_id", profileID),
		zap.String("admin_id", admin.ID),
		zap.String("role", string(profile.Role)),
		zap.String("plan_type", string(profile.PlanType)),
	)
	return profile, nil
}

// ListProfiles 运营可见
func (s *AdminService) ListProfiles(ctx context.Context, operator *domain.Principal, filter storage.ProfileFilter) ([]domain.Profile, int64, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, 0, err
	}
	return s.store.ListProfiles(ctx, normalizePage(filter))
}

// ListAccessLogs 运营可见
func (s *AdminService) ListAccessLogs(ctx context.Context, operator *domain.Principal, filter storage.AccessLogFilter) ([]domain.AccessLog, int64, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, 0, err
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListAccessLogs(ctx, filter)
}

// AddAllowedIP 地址以规范形式保存
func (s *AdminService) AddAllowedIP(ctx context.Context, admin *domain.Principal, ip, note string) (*domain.AllowedIP, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return nil, domain.Validation("invalid ip address %q", ip)
	}
	entry := &domain.AllowedIP{
		ID:        uuid.NewString(),
		IP:        parsed.String(),
		Note:      strings.TrimSpace(note),
		CreatedBy: admin.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddAllowedIP(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveAllowedIP 删除白名单条目
func (s *AdminService) RemoveAllowedIP(ctx context.Context, admin *domain.Principal, id string) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	return s.store.RemoveAllowedIP(ctx, id)
}

// ListAllowedIPs 列出白名单
func (s *AdminService) ListAllowedIPs(ctx context.Context, admin *domain.Principal) ([]domain.AllowedIP, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	return s.store.ListAllowedIPs(ctx)
}

// IsIPAllowed 白名单为空时不限制
func (s *AdminService) IsIPAllowed(ctx context.Context, ip string) (bool, error) {
	entries, err := s.store.ListAllowedIPs(ctx)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false, nil
	}
	for _, entry := range entries {
		if allowed := net.ParseIP(entry.IP); allowed != nil && allowed.Equal(parsed) {
			return true, nil
		}
	}
	return false, nil
}

func reviewOutcome(approve bool) domain.KYCStatus {
	if approve {
		return domain.KYCApproved
	}
	return domain.KYCRejected
}

func normalizePage(filter storage.ProfileFilter) storage.ProfileFilter {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}
