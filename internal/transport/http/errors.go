package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgInvalidCredentials = "邮箱或密码错误"
	MsgInternalError      = "服务器内部错误，请稍后重试"
	MsgUpstreamError      = "外部服务暂不可用，请稍后重试"

	// MsgRequiresApproval 客户端据此区分挂起与普通冲突
	MsgRequiresApproval = "requires_approval"
)

// StatusForKind 业务错误类别到 HTTP 状态码
func StatusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindRequiresApproval:
		return http.StatusConflict
	case domain.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError 按错误类别输出统一响应；未归类错误记录日志并隐藏细节
func respondError(c *gin.Context, log *zap.Logger, err error) {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)

	switch {
	case kind == domain.KindRequiresApproval:
		Error(c, status, MsgRequiresApproval)
	case kind == domain.KindUpstream:
		log.Warn("upstream failure",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		Error(c, status, MsgUpstreamError)
	case kind == "":
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		Error(c, status, MsgInternalError)
	default:
		var de *domain.Error
		msg := err.Error()
		if errors.As(err, &de) && de.Message != "" {
			msg = de.Message
		}
		Error(c, status, msg)
	}
}
