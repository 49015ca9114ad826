package domain

import (
	"net/mail"
	"sort"
	"strings"
)

// 验证常量
const (
	MaxEmailLength    = 254
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt 上限
	MaxTagLength      = 50
	MaxTagsPerItem    = 20
	MaxSubjectLength  = 500
)

// ValidateEmail 校验邮箱格式
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > MaxEmailLength {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}

	// 本地部分只允许常见字符
	for _, r := range parts[0] {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-' || r == '+') {
			return false
		}
	}

	if !strings.Contains(parts[1], ".") || strings.HasPrefix(parts[1], ".") || strings.HasSuffix(parts[1], ".") {
		return false
	}

	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// ValidatePassword 密码长度 8-72
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return Validation("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return Validation("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// NormalizeTags 去空白、去重并排序，拒绝控制字符和超长标签
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if len(tag) > MaxTagLength {
			return nil, Validation("tag %q exceeds %d characters", tag, MaxTagLength)
		}
		for _, r := range tag {
			if r < 32 {
				return nil, Validation("tag %q contains control characters", tag)
			}
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTagsPerItem {
		return nil, Validation("at most %d tags per mail item", MaxTagsPerItem)
	}
	sort.Strings(out)
	return out, nil
}

// ValidateMailInput 登记邮件时的字段校验
func ValidateMailInput(sender, subject string) error {
	if strings.TrimSpace(sender) == "" {
		return Validation("sender is required")
	}
	if len(subject) > MaxSubjectLength {
		return Validation("subject exceeds %d characters", MaxSubjectLength)
	}
	return nil
}
