package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
)

// 上下文键
const (
	ContextProfileID = "profileID"
	ContextPrincipal = "principal"
)

// TokenValidator 校验访问令牌并返回档案 ID
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	tokens TokenValidator
	log    *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(tokens TokenValidator, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{tokens: tokens, log: log.Named("jwt")}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortWith(c, http.StatusUnauthorized, "authentication required")
			return
		}

		profileID, err := ja.tokens.ValidateAccessToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			abortWith(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextProfileID, profileID)
		c.Next()
	}
}

// OptionalAuth 令牌无效时按无会话处理，由访问闸门决定去向
func (ja *JWTAuth) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if profileID, err := ja.tokens.ValidateAccessToken(token); err == nil {
				c.Set(ContextProfileID, profileID)
			}
		}
		c.Next()
	}
}

// extractToken 依次从 Authorization 头和 access_token cookie 提取令牌
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}

	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	return ""
}

// ProfileID 当前请求的档案 ID，无会话时为空
func ProfileID(c *gin.Context) string {
	return c.GetString(ContextProfileID)
}

// Principal 访问闸门放行后写入的主体
func Principal(c *gin.Context) *domain.Principal {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*domain.Principal)
	return p
}
