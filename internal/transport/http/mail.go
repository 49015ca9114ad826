package httptransport

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/service"
)

// MailHandler 邮件与操作请求处理器
type MailHandler struct {
	mailService *service.MailService
	log         *zap.Logger
}

// NewMailHandler 创建邮件处理器
func NewMailHandler(mailService *service.MailService, log *zap.Logger) *MailHandler {
	return &MailHandler{
		mailService: mailService,
		log:         log.Named("mail_handler"),
	}
}

type patchMailRequest struct {
	Archived *bool     `json:"archived"`
	Tags     *[]string `json:"tags"`
	Category *string   `json:"category"`
	Notes    *string   `json:"notes"`
}

type requestActionRequest struct {
	ActionType  domain.ActionType `json:"actionType" binding:"required"`
	Priority    domain.Priority   `json:"priority"`
	Destination *string           `json:"destination"`
}

type logMailRequest struct {
	OwnerID           *string    `json:"ownerId"`
	BusinessAccountID *string    `json:"businessAccountId"`
	Sender            string     `json:"sender" binding:"required"`
	Subject           string     `json:"subject"`
	ReceivedAt        *time.Time `json:"receivedAt"`
	EnvelopeScanRef   *string    `json:"envelopeScanRef"`
	Tags              []string   `json:"tags"`
}

type fulfillRequest struct {
	ArtifactRef *string `json:"artifactRef"`
	Destination *string `json:"destination"`
}

// mailFilterFromQuery 解析列表过滤参数，页码非法时按第一页处理
func mailFilterFromQuery(c *gin.Context) (domain.MailFilter, int) {
	filter := domain.MailFilter{
		SearchText:   c.Query("searchText"),
		StatusFilter: c.DefaultQuery("statusFilter", domain.StatusFilterAll),
		TagFilter:    c.Query("tagFilter"),
		ViewMode:     domain.ViewMode(c.DefaultQuery("viewMode", string(domain.ViewInbox))),
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}
	return filter, page
}

// List 个人邮件列表
// @Summary 邮件列表
// @Tags 邮件
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码"
// @Param searchText query string false "搜索发件人或主题"
// @Param statusFilter query string false "状态，all 表示全部"
// @Param tagFilter query string false "标签"
// @Param viewMode query string false "inbox 或 archived"
// @Success 200 {object} Response{data=service.MailPage}
// @Router /v1/mail [get]
func (h *MailHandler) List(c *gin.Context) {
	principal := middleware.Principal(c)
	filter, page := mailFilterFromQuery(c)

	result, err := h.mailService.ListMailItems(c.Request.Context(), principal, domain.PersonalScope(principal.ID), filter, page)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// ListBusiness 企业邮件列表
// @Summary 企业邮件列表
// @Tags 邮件
// @Produce json
// @Security BearerAuth
// @Param id path string true "企业账户ID"
// @Success 200 {object} Response{data=service.MailPage}
// @Failure 404 {object} Response "非成员"
// @Router /v1/business/{id}/mail [get]
func (h *MailHandler) ListBusiness(c *gin.Context) {
	filter, page := mailFilterFromQuery(c)

	result, err := h.mailService.ListMailItems(c.Request.Context(), middleware.Principal(c), domain.BusinessScope(c.Param("id")), filter, page)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// Tags 个人邮件的全部标签
// @Summary 标签列表
// @Tags 邮件
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]string}
// @Router /v1/mail/tags [get]
func (h *MailHandler) Tags(c *gin.Context) {
	principal := middleware.Principal(c)
	tags, err := h.mailService.AllTags(c.Request.Context(), principal, domain.PersonalScope(principal.ID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, tags)
}

// Get 邮件详情
// @Summary 邮件详情
// @Tags 邮件
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=service.MailItemView}
// @Failure 404 {object} Response "邮件不存在"
// @Router /v1/mail/{id} [get]
func (h *MailHandler) Get(c *gin.Context) {
	view, err := h.mailService.GetMailItem(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, view)
}

// Update 修改归档、标签、分类或备注
// @Summary 修改邮件
// @Tags 邮件
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Param request body patchMailRequest true "修改内容"
// @Success 200 {object} Response{data=service.MailItemView}
// @Router /v1/mail/{id} [patch]
func (h *MailHandler) Update(c *gin.Context) {
	var req patchMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	view, err := h.mailService.UpdateMailItem(c.Request.Context(), middleware.Principal(c), c.Param("id"), service.MailItemPatch{
		Archived: req.Archived,
		Tags:     req.Tags,
		Category: req.Category,
		Notes:    req.Notes,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, view)
}

// RequestAction 发起扫描、转寄或销毁请求
// @Summary 发起操作请求
// @Description 同一邮件同类未完成请求只保留一条，重复提交返回已有请求
// @Tags 邮件
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Param request body requestActionRequest true "操作"
// @Success 201 {object} Response{data=domain.ActionRequest}
// @Failure 409 {object} Response "邮件状态不允许"
// @Router /v1/mail/{id}/actions [post]
func (h *MailHandler) RequestAction(c *gin.Context) {
	var req requestActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	action, err := h.mailService.RequestAction(c.Request.Context(), middleware.Principal(c), c.Param("id"), service.RequestActionInput{
		ActionType:  req.ActionType,
		Priority:    req.Priority,
		Destination: req.Destination,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, action)
}

// LogMailItem 运营登记到达邮件
// @Summary 登记邮件
// @Tags 运营
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body logMailRequest true "邮件信息"
// @Success 201 {object} Response{data=domain.MailItem}
// @Router /v1/admin/mail [post]
func (h *MailHandler) LogMailItem(c *gin.Context) {
	var req logMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	item, err := h.mailService.LogMailItem(c.Request.Context(), middleware.Principal(c), service.LogMailItemInput{
		OwnerID:           req.OwnerID,
		BusinessAccountID: req.BusinessAccountID,
		Sender:            req.Sender,
		Subject:           req.Subject,
		ReceivedAt:        req.ReceivedAt,
		EnvelopeScanRef:   req.EnvelopeScanRef,
		Tags:              req.Tags,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, item)
}

// MarkProcessed 运营标记邮件已处理
// @Summary 标记已处理
// @Tags 运营
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 200 {object} Response{data=domain.MailItem}
// @Router /v1/admin/mail/{id}/processed [post]
func (h *MailHandler) MarkProcessed(c *gin.Context) {
	item, err := h.mailService.MarkProcessed(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, item)
}

// Queue 运营待办队列
// @Summary 操作请求队列
// @Tags 运营
// @Produce json
// @Security BearerAuth
// @Param limit query int false "最多条数"
// @Success 200 {object} Response{data=service.ActionQueue}
// @Router /v1/admin/actions [get]
func (h *MailHandler) Queue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	queue, err := h.mailService.OperatorQueue(c.Request.Context(), middleware.Principal(c), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, queue)
}

// StartAction 开始处理请求
// @Summary 开始处理
// @Tags 运营
// @Produce json
// @Security BearerAuth
// @Param id path string true "请求ID"
// @Success 200 {object} Response{data=domain.ActionRequest}
// @Failure 409 {object} Response "requires_approval 表示所属账户未通过核验"
// @Router /v1/admin/actions/{id}/start [post]
func (h *MailHandler) StartAction(c *gin.Context) {
	req, err := h.mailService.StartAction(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, req)
}

// FulfillAction 履行请求
// @Summary 履行请求
// @Description 扫描需提交产物引用，转寄可补充目的地，销毁须走确认接口
// @Tags 运营
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "请求ID"
// @Param request body fulfillRequest false "履行产物"
// @Success 200 {object} Response{data=domain.MailItem}
// @Router /v1/admin/actions/{id}/fulfill [post]
func (h *MailHandler) FulfillAction(c *gin.Context) {
	var req fulfillRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	item, err := h.mailService.FulfillAction(c.Request.Context(), middleware.Principal(c), c.Param("id"), service.FulfillInput{
		ArtifactRef: req.ArtifactRef,
		Destination: req.Destination,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, item)
}

// ConfirmShred 确认销毁
// @Summary 确认销毁
// @Tags 运营
// @Produce json
// @Security BearerAuth
// @Param id path string true "请求ID"
// @Success 200 {object} Response{data=domain.MailItem}
// @Router /v1/admin/actions/{id}/confirm-shred [post]
func (h *MailHandler) ConfirmShred(c *gin.Context) {
	item, err := h.mailService.ConfirmShred(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, item)
}
