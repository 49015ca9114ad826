package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/auth"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/service"
)

// AuthHandler 处理认证与账户相关的 HTTP 请求
type AuthHandler struct {
	authService  *auth.Service         // 认证业务服务
	adminService *service.AdminService // KYC 提交
	log          *zap.Logger           // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
//
// 参数:
//   - authService: 认证业务服务
//   - adminService: 合规业务服务
//   - log: 日志记录器
func NewAuthHandler(authService *auth.Service, adminService *service.AdminService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		adminService: adminService,
		log:          log.Named("auth_handler"),
	}
}

type registerRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	ReferrerID string `json:"referrerId"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Register 处理用户注册请求
// @Summary 用户注册
// @Description 创建新用户账户，返回档案和认证令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body registerRequest true "注册信息"
// @Success 201 {object} Response{data=auth.Result} "注册成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 409 {object} Response "邮箱已存在"
// @Router /v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		ReferrerID: req.ReferrerID,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("user registered",
		zap.String("profile_id", result.Profile.ID),
		zap.String("email", result.Profile.Email),
	)
	Created(c, result)
}

// Login 处理用户登录请求
// @Summary 用户登录
// @Description 使用邮箱和密码进行身份验证，成功后返回认证令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录信息"
// @Success 200 {object} Response{data=auth.Result} "登录成功"
// @Failure 401 {object} Response "凭证无效或尝试次数过多"
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTooManyAttempts):
			Unauthorized(c, "登录尝试次数过多，请稍后再试")
		case errors.Is(err, domain.ErrUnauthorized):
			Unauthorized(c, MsgInvalidCredentials)
		default:
			respondError(c, h.log, err)
		}
		return
	}
	Success(c, result)
}

// Refresh 刷新访问令牌
// @Summary 刷新令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} Response{data=auth.Result}
// @Failure 401 {object} Response "刷新令牌无效"
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			Unauthorized(c, "登录已过期，请重新登录")
			return
		}
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// Me 当前用户档案
// @Summary 当前用户
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=domain.Profile}
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	profile, err := h.authService.Me(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, profile)
}

// ConfirmEmail 确认邮箱
// @Summary 确认邮箱
// @Description 标记邮箱已确认，并在推荐人已有推荐码时建立推荐关系
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=domain.Profile}
// @Router /v1/auth/confirm [post]
func (h *AuthHandler) ConfirmEmail(c *gin.Context) {
	profile, err := h.authService.ConfirmEmail(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, profile)
}

// SubmitKYC 提交身份核验
// @Summary 提交 KYC
// @Tags 合规
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=domain.Profile}
// @Failure 400 {object} Response "已通过核验"
// @Router /v1/kyc [post]
func (h *AuthHandler) SubmitKYC(c *gin.Context) {
	profile, err := h.adminService.SubmitKYC(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, profile)
}
