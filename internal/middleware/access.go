package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailroom/backend/internal/access"
	"mailroom/backend/internal/domain"
)

// AccessChecker 在边界上做访问决策
type AccessChecker interface {
	Check(ctx context.Context, profileID string, route access.Route) (access.Decision, *domain.Principal)
}

// AccessGate 访问策略中间件，每个受保护路由组挂载一个
type AccessGate struct {
	gate AccessChecker
}

// NewAccessGate 创建访问策略中间件
func NewAccessGate(gate AccessChecker) *AccessGate {
	return &AccessGate{gate: gate}
}

// Require 放行时写入主体；重定向返回 303，拒绝一律 404
func (a *AccessGate) Require(route access.Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, principal := a.gate.Check(c.Request.Context(), ProfileID(c), route)

		switch decision.Outcome {
		case access.OutcomeAllow:
			c.Set(ContextPrincipal, principal)
			c.Next()
		case access.OutcomeRedirect:
			c.Header("Location", decision.Target)
			c.AbortWithStatusJSON(http.StatusSeeOther, gin.H{
				"code": http.StatusSeeOther,
				"msg":  "redirect",
				"data": gin.H{"redirect": decision.Target},
			})
		default:
			abortWith(c, http.StatusNotFound, "not found")
		}
	}
}
