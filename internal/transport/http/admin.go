package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/service"
	"mailroom/backend/internal/storage"
)

// AdminHandler 管理后台处理器
type AdminHandler struct {
	adminService *service.AdminService
	log          *zap.Logger
}

// NewAdminHandler 创建管理后台处理器
func NewAdminHandler(adminService *service.AdminService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		log:          log.Named("admin_handler"),
	}
}

type updateUserRequest struct {
	Role     *domain.Role     `json:"role"`
	PlanType *domain.PlanType `json:"planType"`
	IsActive *bool            `json:"isActive"`
}

type reviewRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

type createBusinessRequest struct {
	Name string `json:"name" binding:"required"`
}

type addMemberRequest struct {
	ProfileID string `json:"profileId" binding:"required"`
}

type allowIPRequest struct {
	IP   string `json:"ip" binding:"required"`
	Note string `json:"note"`
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// ListUsers 用户列表
// @Summary 用户列表
// @Tags 管理员
// @Produce json
// @Security BearerAuth
// @Param search query string false "邮箱关键字"
// @Param role query string false "角色"
// @Param kycStatus query string false "KYC 状态"
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移量"
// @Success 200 {object} Response{data=PageData}
// @Router /v1/admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	limit, offset := pageParams(c)
	filter := storage.ProfileFilter{
		Search:    c.Query("search"),
		Role:      domain.Role(c.Query("role")),
		KYCStatus: domain.KYCStatus(c.Query("kycStatus")),
		Limit:     limit,
		Offset:    offset,
	}

	profiles, total, err := h.adminService.ListProfiles(c.Request.Context(), middleware.Principal(c), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, PageData{Items: profiles, Total: total, Limit: limit, Offset: offset})
}

// UpdateUser 修改用户角色、套餐或启用状态
// @Summary 修改用户
// @Tags 管理员
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Param request body updateUserRequest true "修改内容"
// @Success 200 {object} Response{data=domain.Profile}
// @Failure 400 {object} Response "不能修改自己的角色"
// @Router /v1/admin/users/{id} [patch]
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	profile, err := h.adminService.UpdateProfile(c.Request.Context(), middleware.Principal(c), c.Param("id"), service.ProfileUpdate{
		Role:     req.Role,
		PlanType: req.PlanType,
		IsActive: req.IsActive,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("profile updated by admin",
		zap.String("admin_id", middleware.ProfileID(c)),
		zap.String("profile_id", profile.ID),
	)
	Success(c, profile)
}

// ListAccessLogs 访问审计日志
// @Summary 审计日志
// @Tags 管理员
// @Produce json
// @Security BearerAuth
// @Param principalId query string false "主体ID"
// @Param outcome query string false "决策结果"
// @Success 200 {object} Response{data=PageData}
// @Router /v1/admin/access-logs [get]
func (h *AdminHandler) ListAccessLogs(c *gin.Context) {
	limit, offset := pageParams(c)

	logs, total, err := h.adminService.ListAccessLogs(c.Request.Context(), middleware.Principal(c), storage.AccessLogFilter{
		PrincipalID: c.Query("principalId"),
		Outcome:     c.Query("outcome"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, PageData{Items: logs, Total: total, Limit: limit, Offset: offset})
}

// ReviewKYC 审核个人身份核验
// @Summary 审核 KYC
// @Description 通过后释放该用户邮件上挂起的操作请求
// @Tags 合规
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Param request body reviewRequest true "审核结果"
// @Success 200 {object} Response{data=domain.Profile}
// @Router /v1/admin/kyc/{id} [post]
func (h *AdminHandler) ReviewKYC(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	profile, err := h.adminService.ReviewKYC(c.Request.Context(), middleware.Principal(c), c.Param("id"), *req.Approve)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, profile)
}

// ReviewKYB 审核企业核验
// @Summary 审核 KYB
// @Tags 合规
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "企业账户ID"
// @Param request body reviewRequest true "审核结果"
// @Success 200 {object} Response{data=domain.BusinessAccount}
// @Router /v1/admin/kyb/{id} [post]
func (h *AdminHandler) ReviewKYB(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	account, err := h.adminService.ReviewKYB(c.Request.Context(), middleware.Principal(c), c.Param("id"), *req.Approve)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, account)
}

// SubmitKYB 企业成员提交企业核验
// @Summary 提交 KYB
// @Tags 合规
// @Produce json
// @Security BearerAuth
// @Param id path string true "企业账户ID"
// @Success 200 {object} Response{data=domain.BusinessAccount}
// @Failure 404 {object} Response "非成员"
// @Router /v1/business/{id}/kyb [post]
func (h *AdminHandler) SubmitKYB(c *gin.Context) {
	account, err := h.adminService.SubmitKYB(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, account)
}

// CreateBusinessAccount 新建企业账户
// @Summary 新建企业账户
// @Tags 管理员
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createBusinessRequest true "企业名称"
// @Success 201 {object} Response{data=domain.BusinessAccount}
// @Router /v1/admin/business-accounts [post]
func (h *AdminHandler) CreateBusinessAccount(c *gin.Context) {
	var req createBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	account, err := h.adminService.CreateBusinessAccount(c.Request.Context(), middleware.Principal(c), req.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, account)
}

// AddBusinessMember 添加企业成员
// @Summary 添加企业成员
// @Tags 管理员
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "企业账户ID"
// @Param request body addMemberRequest true "成员"
// @Success 201 {object} Response{data=domain.BusinessMember}
// @Failure 409 {object} Response "已属于其他企业"
// @Router /v1/admin/business-accounts/{id}/members [post]
func (h *AdminHandler) AddBusinessMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	member, err := h.adminService.AddBusinessMember(c.Request.Context(), middleware.Principal(c), c.Param("id"), req.ProfileID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, member)
}

// ListAllowedIPs 管理后台 IP 白名单
// @Summary IP 白名单
// @Tags 系统设置
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.AllowedIP}
// @Router /v1/admin/settings/ip-allowlist [get]
func (h *AdminHandler) ListAllowedIPs(c *gin.Context) {
	entries, err := h.adminService.ListAllowedIPs(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, entries)
}

// AddAllowedIP 添加白名单地址
// @Summary 添加白名单
// @Tags 系统设置
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body allowIPRequest true "地址"
// @Success 201 {object} Response{data=domain.AllowedIP}
// @Failure 409 {object} Response "地址已存在"
// @Router /v1/admin/settings/ip-allowlist [post]
func (h *AdminHandler) AddAllowedIP(c *gin.Context) {
	var req allowIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	entry, err := h.adminService.AddAllowedIP(c.Request.Context(), middleware.Principal(c), req.IP, req.Note)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("admin ip allowlisted",
		zap.String("admin_id", middleware.ProfileID(c)),
		zap.String("ip", entry.IP),
	)
	Created(c, entry)
}

// RemoveAllowedIP 删除白名单地址
// @Summary 删除白名单
// @Tags 系统设置
// @Produce json
// @Security BearerAuth
// @Param id path string true "条目ID"
// @Success 200 {object} Response
// @Router /v1/admin/settings/ip-allowlist/{id} [delete]
func (h *AdminHandler) RemoveAllowedIP(c *gin.Context) {
	if err := h.adminService.RemoveAllowedIP(c.Request.Context(), middleware.Principal(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "删除成功", nil)
}
