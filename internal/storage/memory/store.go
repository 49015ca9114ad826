package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 使用内存保存全部数据，主要用于开发验证与测试。
// 单把互斥锁覆盖每个完整的检查-写入操作，等价于数据库事务。
type Store struct {
	mu sync.RWMutex

	profiles       map[string]*domain.Profile
	byEmail        map[string]string // email -> profileID
	byReferralCode map[string]string // code -> profileID

	businesses map[string]*domain.BusinessAccount
	members    map[string]*domain.BusinessMember // profileID -> membership

	mailItems map[string]*domain.MailItem
	actions   map[string]*domain.ActionRequest

	locations map[string]*domain.MailingLocation
	clusters  map[string]*domain.Cluster
	mailboxes map[string]*domain.Mailbox

	plans         map[string]*domain.Plan
	subscriptions map[string]*domain.Subscription

	referrals    map[string]*domain.Referral
	byReferred   map[string]string // referredID -> referralID
	transactions map[string]*domain.ReferralTransaction

	accessLogs []domain.AccessLog
	allowedIPs map[string]*domain.AllowedIP
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		profiles:       make(map[string]*domain.Profile),
		byEmail:        make(map[string]string),
		byReferralCode: make(map[string]string),
		businesses:     make(map[string]*domain.BusinessAccount),
		members:        make(map[string]*domain.BusinessMember),
		mailItems:      make(map[string]*domain.MailItem),
		actions:        make(map[string]*domain.ActionRequest),
		locations:      make(map[string]*domain.MailingLocation),
		clusters:       make(map[string]*domain.Cluster),
		mailboxes:      make(map[string]*domain.Mailbox),
		plans:          make(map[string]*domain.Plan),
		subscriptions:  make(map[string]*domain.Subscription),
		referrals:      make(map[string]*domain.Referral),
		byReferred:     make(map[string]string),
		transactions:   make(map[string]*domain.ReferralTransaction),
		allowedIPs:     make(map[string]*domain.AllowedIP),
	}
}

// Health 内存存储始终可用
func (s *Store) Health(ctx context.Context) error {
	return ctx.Err()
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// ========== Profile Repository ==========

// CreateProfile 创建档案，邮箱重复返回 ErrEmailExists
func (s *Store) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(profile.Email)
	if _, exists := s.byEmail[email]; exists {
		return domain.ErrEmailExists
	}
	if _, exists := s.profiles[profile.ID]; exists {
		return domain.Conflict("profile %s already exists", profile.ID)
	}
	if profile.ReferralCode != nil {
		if _, taken := s.byReferralCode[*profile.ReferralCode]; taken {
			return domain.ErrReferralCodeTaken
		}
		s.byReferralCode[*profile.ReferralCode] = profile.ID
	}

	clone := *profile
	s.profiles[profile.ID] = &clone
	s.byEmail[email] = profile.ID
	return nil
}

// GetProfile 根据 ID 获取档案
func (s *Store) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[id]
	if !ok {
		return nil, domain.NotFound("profile")
	}
	clone := *profile
	return &clone, nil
}

// GetProfileByEmail 根据邮箱获取档案
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.NotFound("profile")
	}
	clone := *s.profiles[id]
	return &clone, nil
}

// UpdateProfile 更新档案；推荐码只能通过 SetReferralCode 写入，空密码哈希保留原值
func (s *Store) UpdateProfile(ctx context.Context, profile *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[profile.ID]
	if !ok {
		return domain.NotFound("profile")
	}

	clone := *profile
	clone.ReferralCode = existing.ReferralCode
	clone.Email = existing.Email
	if clone.PasswordHash == "" {
		clone.PasswordHash = existing.PasswordHash
	}
	clone.CreatedAt = existing.CreatedAt
	s.profiles[profile.ID] = &clone
	return nil
}

// ListProfiles 按创建时间倒序分页列出档案
func (s *Store) ListProfiles(ctx context.Context, filter storage.ProfileFilter) ([]domain.Profile, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if filter.Role != "" && p.Role != filter.Role {
			continue
		}
		if filter.KYCStatus != "" && p.KYCStatus != filter.KYCStatus {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Email), search) {
			continue
		}
		matched = append(matched, *p)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	return paginate(matched, filter.Offset, filter.Limit), total, nil
}

// SetReferralCode 条件写入推荐码
func (s *Store) SetReferralCode(ctx context.Context, profileID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[profileID]
	if !ok {
		return false, domain.NotFound("profile")
	}
	if profile.ReferralCode != nil {
		return false, nil
	}
	if _, taken := s.byReferralCode[code]; taken {
		return false, domain.ErrReferralCodeTaken
	}

	c := code
	profile.ReferralCode = &c
	s.byReferralCode[code] = profileID
	return true, nil
}

// ReferralCodeExists 判断推荐码是否已被占用
func (s *Store) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, taken := s.byReferralCode[code]
	return taken, nil
}

// ========== Business Repository ==========

// CreateBusinessAccount 创建企业账户
func (s *Store) CreateBusinessAccount(ctx context.Context, account *domain.BusinessAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.businesses[account.ID]; exists {
		return domain.Conflict("business account %s already exists", account.ID)
	}
	clone := *account
	s.businesses[account.ID] = &clone
	return nil
}

// GetBusinessAccount 获取企业账户
func (s *Store) GetBusinessAccount(ctx context.Context, id string) (*domain.BusinessAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.businesses[id]
	if !ok {
		return nil, domain.NotFound("business account")
	}
	clone := *account
	return &clone, nil
}

// UpdateBusinessAccount 更新企业账户
func (s *Store) UpdateBusinessAccount(ctx context.Context, account *domain.BusinessAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.businesses[account.ID]; !ok {
		return domain.NotFound("business account")
	}
	clone := *account
	s.businesses[account.ID] = &clone
	return nil
}

// AddBusinessMember 添加成员，每个档案至多属于一个企业
func (s *Store) AddBusinessMember(ctx context.Context, member *domain.BusinessMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.businesses[member.BusinessAccountID]; !ok {
		return domain.NotFound("business account")
	}
	if _, exists := s.members[member.ProfileID]; exists {
		return domain.Conflict("profile already belongs to a business account")
	}
	clone := *member
	s.members[member.ProfileID] = &clone
	return nil
}

// GetMembership 获取档案的企业成员关系
func (s *Store) GetMembership(ctx context.Context, profileID string) (*domain.BusinessMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[profileID]
	if !ok {
		return nil, domain.NotFound("business membership")
	}
	clone := *member
	return &clone, nil
}

// ========== Audit Repository ==========

// AppendAccessLog 追加审计记录
func (s *Store) AppendAccessLog(ctx context.Context, entry *domain.AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessLogs = append(s.accessLogs, *entry)
	return nil
}

// ListAccessLogs 按时间倒序列出审计记录
func (s *Store) ListAccessLogs(ctx context.Context, filter storage.AccessLogFilter) ([]domain.AccessLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.AccessLog, 0, len(s.accessLogs))
	for i := len(s.accessLogs) - 1; i >= 0; i-- {
		entry := s.accessLogs[i]
		if filter.PrincipalID != "" && (entry.PrincipalID == nil || *entry.PrincipalID != filter.PrincipalID) {
			continue
		}
		if filter.Outcome != "" && entry.Outcome != filter.Outcome {
			continue
		}
		matched = append(matched, entry)
	}

	total := int64(len(matched))
	return paginate(matched, filter.Offset, filter.Limit), total, nil
}

// AddAllowedIP 添加白名单条目
func (s *Store) AddAllowedIP(ctx context.Context, entry *domain.AllowedIP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.allowedIPs {
		if existing.IP == entry.IP {
			return domain.Conflict("ip %s already allowed", entry.IP)
		}
	}
	clone := *entry
	s.allowedIPs[entry.ID] = &clone
	return nil
}

// RemoveAllowedIP 删除白名单条目
func (s *Store) RemoveAllowedIP(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.allowedIPs[id]; !ok {
		return domain.NotFound("allowed ip")
	}
	delete(s.allowedIPs, id)
	return nil
}

// ListAllowedIPs 列出白名单
func (s *Store) ListAllowedIPs(ctx context.Context) ([]domain.AllowedIP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AllowedIP, 0, len(s.allowedIPs))
	for _, entry := range s.allowedIPs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

// paginate 对已排序切片做偏移截取，limit <= 0 表示不限制
func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
