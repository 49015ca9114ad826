package domain

import "time"

// ReferralStatus 推荐关系状态
type ReferralStatus string

const (
	ReferralPending ReferralStatus = "pending"
	ReferralActive  ReferralStatus = "active"
)

// TransactionStatus 返现流水状态
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionPaid    TransactionStatus = "paid"
)

// Referral 每个被推荐人至多一条记录
type Referral struct {
	ID           string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ReferrerID   string         `json:"referrerId" gorm:"type:varchar(36);index;not null"`
	ReferredID   string         `json:"referredId" gorm:"type:varchar(36);uniqueIndex;not null"`
	ReferralCode string         `json:"referralCode" gorm:"type:varchar(32);not null"`
	Status       ReferralStatus `json:"status" gorm:"type:varchar(20);default:'pending'"`
	Earnings     int64          `json:"earnings"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// ReferralTransaction 只追加的返现流水
type ReferralTransaction struct {
	ID          string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ReferralID  string            `json:"referralId" gorm:"type:varchar(36);index;not null"`
	Amount      int64             `json:"amount"`
	Status      TransactionStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	Description string            `json:"description" gorm:"type:text"`
	CreatedAt   time.Time         `json:"createdAt"`
	PaidAt      *time.Time        `json:"paidAt,omitempty"`
}

// ReferralStats 每次读取时从流水重新汇总
type ReferralStats struct {
	TotalReferrals  int   `json:"totalReferrals"`
	ActiveReferrals int   `json:"activeReferrals"`
	TotalEarnings   int64 `json:"totalEarnings"`
	PendingEarnings int64 `json:"pendingEarnings"`
}

// ComputeReferralStats 纯函数汇总；activeSubscribers 为拥有 ACTIVE 订阅的被推荐人集合
func ComputeReferralStats(referrals []Referral, transactions []ReferralTransaction, activeSubscribers map[string]bool) ReferralStats {
	stats := ReferralStats{TotalReferrals: len(referrals)}
	for _, r := range referrals {
		if activeSubscribers[r.ReferredID] {
			stats.ActiveReferrals++
		}
	}
	for _, tx := range transactions {
		switch tx.Status {
		case TransactionPaid:
			stats.TotalEarnings += tx.Amount
		case TransactionPending:
			stats.PendingEarnings += tx.Amount
		}
	}
	return stats
}
