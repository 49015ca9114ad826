package access

import "mailroom/backend/internal/domain"

// Outcome 访问决策结果
type Outcome string

const (
	OutcomeAllow        Outcome = "ALLOW"
	OutcomeRedirect     Outcome = "REDIRECT"
	OutcomeDenyNotFound Outcome = "DENY_NOT_FOUND"
)

// Decision 访问决策，仅 REDIRECT 带目标
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Target  string  `json:"target,omitempty"`
}

// Allow 放行
func Allow() Decision { return Decision{Outcome: OutcomeAllow} }

// Redirect 重定向到 target
func Redirect(target string) Decision { return Decision{Outcome: OutcomeRedirect, Target: target} }

// DenyNotFound 以不存在的形式拒绝
func DenyNotFound() Decision { return Decision{Outcome: OutcomeDenyNotFound} }

// Allowed 是否放行
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Decide 纯函数，无 I/O。规则按顺序求值，命中即返回：
//  1. 需要登录而主体缺失 -> 登录页
//  2. 管理路由而主体非运营/管理员 -> 普通首页
//  3. 仅管理员路由而主体为运营 -> 运营首页
//  4. 付费路由而主体为免费套餐 -> 不存在
//  5. 需 KYC 而主体处于 PENDING/REJECTED -> KYC 页
//  6. 放行
func Decide(principal *domain.Principal, route Route) Decision {
	if route.RequiresAuth && principal == nil {
		return Redirect(LoginPath)
	}

	privileged := route.Privileged || route.AdminOnly
	if privileged && !principal.IsPrivileged() {
		return Redirect(HomePath)
	}

	if route.AdminOnly && principal != nil && principal.Role == domain.RoleOperator {
		return Redirect(OperatorHomePath)
	}

	// 未知套餐按免费处理
	if route.RequiresPaid && (principal == nil || !principal.PlanType.IsPaid()) {
		return DenyNotFound()
	}

	if route.RequiresKYC && principal != nil {
		switch principal.KYCStatus {
		case domain.KYCPending, domain.KYCRejected:
			return Redirect(KYCIntakePath)
		case domain.KYCNotStarted, domain.KYCApproved:
		}
	}

	return Allow()
}
