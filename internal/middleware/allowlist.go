package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IPChecker 判断客户端 IP 是否在管理白名单内
type IPChecker interface {
	IsIPAllowed(ctx context.Context, ip string) (bool, error)
}

// AdminIPAllowlist 白名单非空时，名单外的 IP 访问管理路由得到 404
func AdminIPAllowlist(checker IPChecker, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		allowed, err := checker.IsIPAllowed(c.Request.Context(), clientIP)
		if err != nil {
			log.Error("ip allowlist lookup failed", zap.String("ip", clientIP), zap.Error(err))
			abortWith(c, http.StatusNotFound, "not found")
			return
		}
		if !allowed {
			log.Warn("ip not in admin allowlist", zap.String("ip", clientIP))
			abortWith(c, http.StatusNotFound, "not found")
			return
		}

		c.Next()
	}
}
