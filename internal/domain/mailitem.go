package domain

import (
	"strings"
	"time"
)

// MailStatus 邮件物理状态
type MailStatus string

const (
	StatusReceived  MailStatus = "RECEIVED"
	StatusScanned   MailStatus = "SCANNED"
	StatusProcessed MailStatus = "PROCESSED"
	StatusForwarded MailStatus = "FORWARDED"
	StatusShredded  MailStatus = "SHREDDED"
)

// DisplayArchived 归档邮件的展示状态
const DisplayArchived = "archived"

// Valid 判断状态取值是否合法
func (s MailStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusScanned, StatusProcessed, StatusForwarded, StatusShredded:
		return true
	}
	return false
}

// IsTerminal 已转寄或已销毁的邮件不再接受任何物理动作
func (s MailStatus) IsTerminal() bool {
	switch s {
	case StatusForwarded, StatusShredded:
		return true
	case StatusReceived, StatusScanned, StatusProcessed:
		return false
	}
	return false
}

// CanRequest 判断在当前状态下能否发起动作
func (s MailStatus) CanRequest(action ActionType) error {
	if s.IsTerminal() {
		return Validation("mail item is %s and accepts no further actions", strings.ToLower(string(s)))
	}
	switch action {
	case ActionScan:
		return nil
	case ActionForward, ActionShred:
		if s == StatusReceived {
			return Validation("mail item must be scanned before %s", strings.ToLower(string(action)))
		}
		return nil
	}
	return Validation("unknown action type %q", action)
}

// Apply 返回履行动作后的状态
func (s MailStatus) Apply(action ActionType) (MailStatus, error) {
	if err := s.CanRequest(action); err != nil {
		return s, err
	}
	switch action {
	case ActionScan:
		if s == StatusReceived {
			return StatusScanned, nil
		}
		return s, nil
	case ActionForward:
		return StatusForwarded, nil
	case ActionShred:
		return StatusShredded, nil
	}
	return s, Validation("unknown action type %q", action)
}

// MarkProcessed SCANNED -> PROCESSED，已处理时幂等
func (s MailStatus) MarkProcessed() (MailStatus, error) {
	switch s {
	case StatusScanned, StatusProcessed:
		return StatusProcessed, nil
	case StatusReceived, StatusForwarded, StatusShredded:
		return s, Validation("mail item in %s cannot be marked processed", strings.ToLower(string(s)))
	}
	return s, Validation("unknown mail status %q", s)
}

// MailItem 代收的一件实体邮件
type MailItem struct {
	ID                string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID           *string    `json:"ownerId,omitempty" gorm:"type:varchar(36);index"`
	BusinessAccountID *string    `json:"businessAccountId,omitempty" gorm:"type:varchar(36);index"`
	Sender            string     `json:"sender" gorm:"type:varchar(255);not null"`
	Subject           string     `json:"subject" gorm:"type:varchar(500)"`
	ReceivedAt        time.Time  `json:"receivedAt" gorm:"index;not null"`
	Status            MailStatus `json:"status" gorm:"type:varchar(20);default:'RECEIVED';index"`
	IsArchived        bool       `json:"isArchived" gorm:"default:false;index"`
	EnvelopeScanRef   *string    `json:"envelopeScanRef,omitempty" gorm:"type:varchar(500)"`
	FullScanRef       *string    `json:"fullScanRef,omitempty" gorm:"type:varchar(500)"`
	ForwardedTo       *string    `json:"forwardedTo,omitempty" gorm:"type:text"`
	Tags              []string   `json:"tags" gorm:"serializer:json;type:json"`
	Category          *string    `json:"category,omitempty" gorm:"type:varchar(100)"`
	Notes             *string    `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// DisplayStatus 归档优先于物理状态
func (m *MailItem) DisplayStatus() string {
	if m.IsArchived {
		return DisplayArchived
	}
	return strings.ToLower(string(m.Status))
}

// HasTag 判断邮件是否带有指定标签
func (m *MailItem) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsBusinessItem 企业邮件使用企业级合规状态
func (m *MailItem) IsBusinessItem() bool {
	return m.BusinessAccountID != nil
}

// MailScope 查询范围：个人档案与企业账户二选一
type MailScope struct {
	ProfileID         string `json:"profileId,omitempty"`
	BusinessAccountID string `json:"businessAccountId,omitempty"`
}

// PersonalScope 个人范围
func PersonalScope(profileID string) MailScope {
	return MailScope{ProfileID: profileID}
}

// BusinessScope 企业范围
func BusinessScope(businessAccountID string) MailScope {
	return MailScope{BusinessAccountID: businessAccountID}
}

// Validate 必须且只能指定一个归属
func (s MailScope) Validate() error {
	if (s.ProfileID == "") == (s.BusinessAccountID == "") {
		return Validation("scope must name exactly one of profile or business account")
	}
	return nil
}

// Contains 判断邮件是否属于该范围
func (s MailScope) Contains(item *MailItem) bool {
	if s.ProfileID != "" {
		return item.OwnerID != nil && *item.OwnerID == s.ProfileID && item.BusinessAccountID == nil
	}
	return item.BusinessAccountID != nil && *item.BusinessAccountID == s.BusinessAccountID
}

// ViewMode 收件箱或归档视图
type ViewMode string

const (
	ViewInbox    ViewMode = "inbox"
	ViewArchived ViewMode = "archived"
)

// StatusFilterAll 不按状态过滤
const StatusFilterAll = "all"

// MailFilter 列表过滤条件
type MailFilter struct {
	SearchText   string   `json:"searchText"`
	StatusFilter string   `json:"statusFilter"`
	TagFilter    string   `json:"tagFilter"`
	ViewMode     ViewMode `json:"viewMode"`
}

// Matches 判断邮件是否满足全部过滤条件
func (f MailFilter) Matches(item *MailItem) bool {
	switch f.ViewMode {
	case ViewArchived:
		if !item.IsArchived {
			return false
		}
	default:
		if item.IsArchived {
			return false
		}
	}

	if f.StatusFilter != "" && !strings.EqualFold(f.StatusFilter, StatusFilterAll) {
		if !strings.EqualFold(f.StatusFilter, string(item.Status)) {
			return false
		}
	}

	if f.TagFilter != "" && !item.HasTag(f.TagFilter) {
		return false
	}

	if f.SearchText != "" {
		needle := strings.ToLower(f.SearchText)
		if !strings.Contains(strings.ToLower(item.Sender), needle) &&
			!strings.Contains(strings.ToLower(item.Subject), needle) {
			return false
		}
	}
	return true
}
