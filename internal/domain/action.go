package domain

import "time"

// ActionType 物理操作类型
type ActionType string

const (
	ActionScan    ActionType = "SCAN"
	ActionForward ActionType = "FORWARD"
	ActionShred   ActionType = "SHRED"
)

// Valid 判断动作取值是否合法
func (a ActionType) Valid() bool {
	switch a {
	case ActionScan, ActionForward, ActionShred:
		return true
	}
	return false
}

// ActionStatus 操作请求状态
type ActionStatus string

const (
	ActionPending          ActionStatus = "PENDING"
	ActionInProgress       ActionStatus = "IN_PROGRESS"
	ActionRequiresApproval ActionStatus = "REQUIRES_APPROVAL"
	ActionCompleted        ActionStatus = "COMPLETED"
)

// IsOpen 未完成的请求
func (s ActionStatus) IsOpen() bool {
	switch s {
	case ActionPending, ActionInProgress, ActionRequiresApproval:
		return true
	case ActionCompleted:
		return false
	}
	return false
}

// Priority 仅影响队列排序
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Valid 判断优先级取值是否合法
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank 数值越大越靠前
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ActionRequest 用户发起、运营履行的物理操作请求
type ActionRequest struct {
	ID          string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailItemID  string       `json:"mailItemId" gorm:"type:varchar(36);index;not null"`
	RequestedBy string       `json:"requestedBy" gorm:"type:varchar(36);index"`
	ActionType  ActionType   `json:"actionType" gorm:"type:varchar(20);not null"`
	Status      ActionStatus `json:"status" gorm:"type:varchar(20);index"`
	Priority    Priority     `json:"priority" gorm:"type:varchar(10);default:'MEDIUM'"`
	RequestedAt time.Time    `json:"requestedAt" gorm:"index"`
	Destination *string      `json:"destination,omitempty" gorm:"type:text"`
	ArtifactRef *string      `json:"artifactRef,omitempty" gorm:"type:varchar(500)"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	CompletedBy *string      `json:"completedBy,omitempty" gorm:"type:varchar(36)"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// CanExecute 审批闸门：扫描不受 KYC 限制，转寄和销毁需要 APPROVED
func CanExecute(action ActionType, ownerKYC KYCStatus) bool {
	switch action {
	case ActionScan:
		return true
	case ActionForward, ActionShred:
		return ownerKYC == KYCApproved
	}
	return false
}

// InitialActionStatus 新请求的初始状态
func InitialActionStatus(action ActionType, ownerKYC KYCStatus) ActionStatus {
	if CanExecute(action, ownerKYC) {
		return ActionPending
	}
	return ActionRequiresApproval
}
