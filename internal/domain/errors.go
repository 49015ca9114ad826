package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 业务错误类别，决定调用方如何呈现失败
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION"
	KindConflict         ErrorKind = "CONFLICT"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindUnauthorized     ErrorKind = "UNAUTHORIZED"
	KindUpstream         ErrorKind = "UPSTREAM"
	KindRequiresApproval ErrorKind = "REQUIRES_APPROVAL"
)

// Error 带类别的业务错误
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类别的哨兵错误（无消息）匹配任意该类别错误；带消息的哨兵需消息一致
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// 类别哨兵，配合 errors.Is 使用
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrUpstream         = &Error{Kind: KindUpstream}
	ErrRequiresApproval = &Error{Kind: KindRequiresApproval, Message: "action requires approval"}
)

// 常用的具体错误
var (
	ErrLastCluster       = &Error{Kind: KindConflict, Message: "location must retain at least one cluster"}
	ErrClusterOccupied   = &Error{Kind: KindConflict, Message: "cluster contains occupied mailboxes"}
	ErrMailboxOccupied   = &Error{Kind: KindConflict, Message: "mailbox is already occupied"}
	ErrBoxNumberTaken    = &Error{Kind: KindConflict, Message: "box number already exists in cluster"}
	ErrPlanTypeExists    = &Error{Kind: KindConflict, Message: "plan type already exists"}
	ErrReferralCodeTaken = &Error{Kind: KindConflict, Message: "referral code already taken"}
	ErrEmailExists       = &Error{Kind: KindConflict, Message: "email already exists"}
	ErrShredNeedsConfirm = &Error{Kind: KindValidation, Message: "shred requires explicit confirmation"}

	ErrMailItemChanged        = &Error{Kind: KindConflict, Message: "mail item status changed concurrently"}
	ErrActionCompleted        = &Error{Kind: KindConflict, Message: "action request already completed"}
	ErrSubscriptionChanged    = &Error{Kind: KindConflict, Message: "subscription status changed concurrently"}
	ErrSubscriptionHasMailbox = &Error{Kind: KindConflict, Message: "subscription already holds a mailbox"}
)

// NewError 构造指定类别的错误
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation 构造 VALIDATION 错误
func Validation(format string, args ...interface{}) *Error {
	return NewError(KindValidation, format, args...)
}

// Conflict 构造 CONFLICT 错误
func Conflict(format string, args ...interface{}) *Error {
	return NewError(KindConflict, format, args...)
}

// NotFound 构造 NOT_FOUND 错误
func NotFound(entity string) *Error {
	return NewError(KindNotFound, "%s not found", entity)
}

// Unauthorized 构造 UNAUTHORIZED 错误
func Unauthorized(format string, args ...interface{}) *Error {
	return NewError(KindUnauthorized, format, args...)
}

// Upstream 包装外部协作方的失败
func Upstream(collaborator string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: collaborator + " call failed", Err: err}
}

// KindOf 提取错误类别，非业务错误返回空字符串
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
