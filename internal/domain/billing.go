package domain

import "time"

// BillingCycle 计费周期
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
	CycleYearly    BillingCycle = "YEARLY"
)

// Months 周期对应的月数，非法周期返回 0
func (c BillingCycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	}
	return 0
}

// Valid 判断周期是否合法
func (c BillingCycle) Valid() bool {
	return c.Months() > 0
}

// SubscriptionStatus 订阅状态
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionInactive  SubscriptionStatus = "INACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// Plan 套餐定义，价格以最小货币单位存储
type Plan struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PlanType     PlanType  `json:"planType" gorm:"type:varchar(20);uniqueIndex;not null"`
	Name         string    `json:"name" gorm:"type:varchar(100);not null"`
	MonthlyPrice int64     `json:"monthlyPrice"`
	Currency     string    `json:"currency" gorm:"type:varchar(10)"`
	IsActive     bool      `json:"isActive" gorm:"default:true"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PriceFor 指定周期的应付金额
func (p *Plan) PriceFor(cycle BillingCycle) int64 {
	return p.MonthlyPrice * int64(cycle.Months())
}

// Subscription 档案的套餐订阅，支付确认后才分配信箱
type Subscription struct {
	ID              string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProfileID       string             `json:"profileId" gorm:"type:varchar(36);index;not null"`
	MailboxID       *string            `json:"mailboxId,omitempty" gorm:"type:varchar(36);index"`
	MailboxType     *MailboxType       `json:"mailboxType,omitempty" gorm:"type:varchar(20)"`
	PlanType        PlanType           `json:"planType" gorm:"type:varchar(20);not null"`
	BillingCycle    BillingCycle       `json:"billingCycle" gorm:"type:varchar(20);not null"`
	Status          SubscriptionStatus `json:"status" gorm:"type:varchar(20);index"`
	Amount          int64              `json:"amount"`
	Currency        string             `json:"currency" gorm:"type:varchar(10)"`
	InvoiceURL      *string            `json:"invoiceUrl,omitempty" gorm:"type:text"`
	StartedAt       *time.Time         `json:"startedAt,omitempty"`
	NextBillingDate *time.Time         `json:"nextBillingDate,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// NextBillingAfter 从起始时间推算下次扣费日期
func (c BillingCycle) NextBillingAfter(from time.Time) time.Time {
	return from.AddDate(0, c.Months(), 0)
}
