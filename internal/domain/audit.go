package domain

import "time"

// AccessLog 管理边界上每次访问决策的审计记录，只追加
type AccessLog struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PrincipalID *string   `json:"principalId,omitempty" gorm:"type:varchar(36);index"`
	Route       string    `json:"route" gorm:"type:varchar(255);not null"`
	Outcome     string    `json:"outcome" gorm:"type:varchar(20);index"`
	Target      string    `json:"target,omitempty" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
}

// AllowedIP 管理后台 IP 白名单条目
type AllowedIP struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	IP        string    `json:"ip" gorm:"type:varchar(64);uniqueIndex;not null"`
	Note      string    `json:"note" gorm:"type:varchar(255)"`
	CreatedBy string    `json:"createdBy" gorm:"type:varchar(36)"`
	CreatedAt time.Time `json:"createdAt"`
}
