package storage

import (
	"context"
	"time"

	"mailroom/backend/internal/domain"
)

// ProfileFilter 档案列表查询条件
type ProfileFilter struct {
	Search    string
	Role      domain.Role
	KYCStatus domain.KYCStatus
	Limit     int
	Offset    int
}

// ActionFilter 操作请求列表查询条件，空切片表示不过滤
type ActionFilter struct {
	Statuses    []domain.ActionStatus
	MailItemIDs []string
	Limit       int
}

// MailboxFilter 信箱列表查询条件
type MailboxFilter struct {
	ClusterID  string
	Type       domain.MailboxType
	OnlyVacant bool
	Limit      int
}

// AccessLogFilter 审计日志查询条件
type AccessLogFilter struct {
	PrincipalID string
	Outcome     string
	Limit       int
	Offset      int
}

// ProfileRepository 定义档案数据存取操作。
type ProfileRepository interface {
	CreateProfile(ctx context.Context, profile *domain.Profile) error
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, profile *domain.Profile) error
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]domain.Profile, int64, error)
	// SetReferralCode 仅在档案尚无推荐码时写入；返回是否发生写入，唯一约束冲突返回 ErrReferralCodeTaken
	SetReferralCode(ctx context.Context, profileID, code string) (bool, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
}

// BusinessRepository 定义企业账户数据存取操作。
type BusinessRepository interface {
	CreateBusinessAccount(ctx context.Context, account *domain.BusinessAccount) error
	GetBusinessAccount(ctx context.Context, id string) (*domain.BusinessAccount, error)
	UpdateBusinessAccount(ctx context.Context, account *domain.BusinessAccount) error
	AddBusinessMember(ctx context.Context, member *domain.BusinessMember) error
	GetMembership(ctx context.Context, profileID string) (*domain.BusinessMember, error)
}

// MailRepository 定义邮件与操作请求数据存取操作。
type MailRepository interface {
	CreateMailItem(ctx context.Context, item *domain.MailItem) error
	GetMailItem(ctx context.Context, id string) (*domain.MailItem, error)
	// PatchMailItem 只写归档、标签、分类、备注，不触碰物理状态
	PatchMailItem(ctx context.Context, item *domain.MailItem) error
	// TransitionMailItem 仅当当前状态仍为 from 时写入，否则返回 ErrMailItemChanged
	TransitionMailItem(ctx context.Context, item *domain.MailItem, from domain.MailStatus) error
	// ListMailItems 按 receivedAt 倒序返回范围内至多 limit 条原始记录
	ListMailItems(ctx context.Context, scope domain.MailScope, limit int) ([]domain.MailItem, error)

	CreateActionRequest(ctx context.Context, req *domain.ActionRequest) error
	GetActionRequest(ctx context.Context, id string) (*domain.ActionRequest, error)
	UpdateActionRequest(ctx context.Context, req *domain.ActionRequest) error
	FindOpenActionRequest(ctx context.Context, mailItemID string, action domain.ActionType) (*domain.ActionRequest, error)
	ListActionRequests(ctx context.Context, filter ActionFilter) ([]domain.ActionRequest, error)
	// SaveActionOutcome 在同一事务中写入请求与邮件。请求已完成返回 ErrActionCompleted，
	// 邮件状态已不是 from 返回 ErrMailItemChanged，两者都不落盘。
	SaveActionOutcome(ctx context.Context, req *domain.ActionRequest, item *domain.MailItem, from domain.MailStatus) error
}

// LockerRepository 定义网点、分组与信箱数据存取操作。
type LockerRepository interface {
	// CreateLocationWithCluster 网点与首个分组在同一事务中创建
	CreateLocationWithCluster(ctx context.Context, location *domain.MailingLocation, cluster *domain.Cluster) error
	GetLocation(ctx context.Context, id string) (*domain.MailingLocation, error)
	ListLocations(ctx context.Context) ([]domain.MailingLocation, error)
	UpdateLocation(ctx context.Context, location *domain.MailingLocation) error

	CreateCluster(ctx context.Context, cluster *domain.Cluster) error
	GetCluster(ctx context.Context, id string) (*domain.Cluster, error)
	ListClusters(ctx context.Context, locationID string) ([]domain.Cluster, error)
	// DeleteCluster 在同一事务中检查最后分组与占用信箱并级联删除空信箱
	DeleteCluster(ctx context.Context, id string) error

	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error)
	// UpdateMailbox 只更新编号、类型与尺寸，不触碰占用状态
	UpdateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	ListMailboxes(ctx context.Context, filter MailboxFilter) ([]domain.Mailbox, error)
	// AssignMailbox 在同一事务中校验订阅为 ACTIVE 且未持有信箱（已持有该信箱视为成功），
	// 仅当信箱空闲时占用并回写订阅，否则返回 ErrMailboxOccupied / ErrSubscriptionHasMailbox
	AssignMailbox(ctx context.Context, mailboxID, subscriptionID string) error
	// ReleaseMailbox 释放由该订阅占用的信箱
	ReleaseMailbox(ctx context.Context, mailboxID, subscriptionID string) error
}

// BillingRepository 定义套餐与订阅数据存取操作。
type BillingRepository interface {
	CreatePlan(ctx context.Context, plan *domain.Plan) error
	GetPlanByType(ctx context.Context, planType domain.PlanType) (*domain.Plan, error)
	ListPlans(ctx context.Context) ([]domain.Plan, error)
	UpdatePlan(ctx context.Context, plan *domain.Plan) error

	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	// TransitionSubscription 仅当当前状态仍为 from 时写入，否则返回 ErrSubscriptionChanged；
	// mailbox_id 只由 AssignMailbox/ReleaseMailbox 维护
	TransitionSubscription(ctx context.Context, sub *domain.Subscription, from domain.SubscriptionStatus) error
	ListSubscriptionsByProfile(ctx context.Context, profileID string) ([]domain.Subscription, error)
	// ActiveSubscribers 返回给定档案中拥有 ACTIVE 订阅的集合
	ActiveSubscribers(ctx context.Context, profileIDs []string) (map[string]bool, error)
}

// ReferralRepository 定义推荐关系与返现流水数据存取操作。
type ReferralRepository interface {
	// CreateReferral 被推荐人唯一，重复返回 CONFLICT
	CreateReferral(ctx context.Context, referral *domain.Referral) error
	GetReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error)
	GetReferral(ctx context.Context, id string) (*domain.Referral, error)
	UpdateReferral(ctx context.Context, referral *domain.Referral) error
	ListReferralsByReferrer(ctx context.Context, referrerID string) ([]domain.Referral, error)

	CreateReferralTransaction(ctx context.Context, tx *domain.ReferralTransaction) error
	// MarkTransactionPaid 条件更新 pending -> paid，返回是否发生变更
	MarkTransactionPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	GetReferralTransaction(ctx context.Context, id string) (*domain.ReferralTransaction, error)
	ListTransactionsByReferrals(ctx context.Context, referralIDs []string) ([]domain.ReferralTransaction, error)
}

// AuditRepository 定义审计日志与 IP 白名单数据存取操作。
type AuditRepository interface {
	AppendAccessLog(ctx context.Context, entry *domain.AccessLog) error
	ListAccessLogs(ctx context.Context, filter AccessLogFilter) ([]domain.AccessLog, int64, error)

	AddAllowedIP(ctx context.Context, entry *domain.AllowedIP) error
	RemoveAllowedIP(ctx context.Context, id string) error
	ListAllowedIPs(ctx context.Context) ([]domain.AllowedIP, error)
}

// Store 聚合所有存储接口
type Store interface {
	ProfileRepository
	BusinessRepository
	MailRepository
	LockerRepository
	BillingRepository
	ReferralRepository
	AuditRepository

	Health(ctx context.Context) error
	Close() error
}
