package domain

import "time"

// Role 主体角色
type Role string

const (
	RoleEndUser        Role = "END_USER"
	RoleBusinessMember Role = "BUSINESS_MEMBER"
	RoleOperator       Role = "OPERATOR"
	RoleSystemAdmin    Role = "SYSTEM_ADMIN"
)

// Valid 判断角色取值是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleEndUser, RoleBusinessMember, RoleOperator, RoleSystemAdmin:
		return true
	}
	return false
}

// IsPrivileged 运营人员或系统管理员
func (r Role) IsPrivileged() bool {
	return r == RoleOperator || r == RoleSystemAdmin
}

// PlanType 订阅套餐类型
type PlanType string

const (
	PlanFree     PlanType = "FREE"
	PlanBasic    PlanType = "BASIC"
	PlanPremium  PlanType = "PREMIUM"
	PlanBusiness PlanType = "BUSINESS"
)

// Valid 判断套餐取值是否合法
func (p PlanType) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPremium, PlanBusiness:
		return true
	}
	return false
}

// IsPaid 未知套餐按免费处理
func (p PlanType) IsPaid() bool {
	return p.Valid() && p != PlanFree
}

// KYCStatus 身份核验状态（KYB 复用同一枚举）
type KYCStatus string

const (
	KYCNotStarted KYCStatus = "NOT_STARTED"
	KYCPending    KYCStatus = "PENDING"
	KYCApproved   KYCStatus = "APPROVED"
	KYCRejected   KYCStatus = "REJECTED"
)

// Valid 判断核验状态取值是否合法
func (k KYCStatus) Valid() bool {
	switch k {
	case KYCNotStarted, KYCPending, KYCApproved, KYCRejected:
		return true
	}
	return false
}

// Profile 持久化的用户档案
type Profile struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email          string    `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	PasswordHash   string    `json:"-" gorm:"type:varchar(255)"`
	Role           Role      `json:"role" gorm:"type:varchar(20);default:'END_USER';index"`
	PlanType       PlanType  `json:"planType" gorm:"type:varchar(20);default:'FREE';index"`
	KYCStatus      KYCStatus `json:"kycStatus" gorm:"column:kyc_status;type:varchar(20);default:'NOT_STARTED'"`
	ReferralCode   *string   `json:"referralCode,omitempty" gorm:"type:varchar(32);uniqueIndex"`
	ReferredBy     *string   `json:"referredBy,omitempty" gorm:"type:varchar(36);index"`
	EmailConfirmed bool      `json:"emailConfirmed" gorm:"default:false"`
	IsActive       bool      `json:"isActive" gorm:"default:true"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Principal 已解析的只读身份视图，所有核心操作显式接收
type Principal struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Role              Role      `json:"role"`
	PlanType          PlanType  `json:"planType"`
	KYCStatus         KYCStatus `json:"kycStatus"`
	BusinessAccountID *string   `json:"businessAccountId,omitempty"`
}

// IsPrivileged 运营或管理员
func (p *Principal) IsPrivileged() bool {
	return p != nil && p.Role.IsPrivileged()
}

// IsSystemAdmin 系统管理员
func (p *Principal) IsSystemAdmin() bool {
	return p != nil && p.Role == RoleSystemAdmin
}

// BelongsTo 判断主体是否是该企业账户成员
func (p *Principal) BelongsTo(businessAccountID string) bool {
	return p != nil && p.BusinessAccountID != nil && *p.BusinessAccountID == businessAccountID
}

// BusinessAccount 企业账户，使用 KYB 状态
type BusinessAccount struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	KYBStatus KYCStatus `json:"kybStatus" gorm:"column:kyb_status;type:varchar(20);default:'NOT_STARTED'"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BusinessMember 档案与企业账户的成员关系，每个档案至多一个
type BusinessMember struct {
	ProfileID         string    `json:"profileId" gorm:"primaryKey;type:varchar(36)"`
	BusinessAccountID string    `json:"businessAccountId" gorm:"type:varchar(36);index;not null"`
	CreatedAt         time.Time `json:"createdAt"`
}
