package httptransport

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/payment"
	"mailroom/backend/internal/service"
)

// BillingHandler 套餐、订阅与支付回调处理器
type BillingHandler struct {
	billingService *service.BillingService
	log            *zap.Logger
}

// NewBillingHandler 创建计费处理器
func NewBillingHandler(billingService *service.BillingService, log *zap.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		log:            log.Named("billing_handler"),
	}
}

type checkoutRequest struct {
	PlanType     domain.PlanType     `json:"planType" binding:"required"`
	BillingCycle domain.BillingCycle `json:"billingCycle"`
	MailboxType  *domain.MailboxType `json:"mailboxType"`
}

type planRequest struct {
	PlanType     domain.PlanType `json:"planType"`
	Name         string          `json:"name" binding:"required"`
	MonthlyPrice int64           `json:"monthlyPrice"`
	Currency     string          `json:"currency"`
	IsActive     *bool           `json:"isActive"`
}

func (r planRequest) input() service.PlanInput {
	return service.PlanInput{
		PlanType:     r.PlanType,
		Name:         r.Name,
		MonthlyPrice: r.MonthlyPrice,
		Currency:     r.Currency,
		IsActive:     r.IsActive,
	}
}

// ListPlans 可购买的套餐
// @Summary 套餐列表
// @Tags 计费
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.Plan}
// @Router /v1/plans [get]
func (h *BillingHandler) ListPlans(c *gin.Context) {
	plans, err := h.billingService.ListPlans(c.Request.Context(), true)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, plans)
}

// Checkout 下单并生成支付链接
// @Summary 下单
// @Tags 计费
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body checkoutRequest true "套餐与周期"
// @Success 201 {object} Response{data=domain.Subscription}
// @Failure 502 {object} Response "支付网关不可用"
// @Router /v1/billing/checkout [post]
func (h *BillingHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if req.BillingCycle == "" {
		req.BillingCycle = domain.CycleMonthly
	}

	sub, err := h.billingService.Checkout(c.Request.Context(), middleware.Principal(c), service.CheckoutInput{
		PlanType:     req.PlanType,
		BillingCycle: req.BillingCycle,
		MailboxType:  req.MailboxType,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, sub)
}

// ListSubscriptions 当前用户的订阅
// @Summary 订阅列表
// @Tags 计费
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.Subscription}
// @Router /v1/billing/subscriptions [get]
func (h *BillingHandler) ListSubscriptions(c *gin.Context) {
	subs, err := h.billingService.ListSubscriptions(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, subs)
}

// Cancel 取消订阅并释放信箱
// @Summary 取消订阅
// @Tags 计费
// @Produce json
// @Security BearerAuth
// @Param id path string true "订阅ID"
// @Success 200 {object} Response{data=domain.Subscription}
// @Router /v1/billing/subscriptions/{id}/cancel [post]
func (h *BillingHandler) Cancel(c *gin.Context) {
	sub, err := h.billingService.Cancel(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, sub)
}

// PaymentCallback 支付网关回调
// @Summary 支付回调
// @Description 按原始请求体校验 HMAC 签名，重复投递不产生副作用
// @Tags 计费
// @Accept json
// @Produce json
// @Param X-Callback-Signature header string true "HMAC-SHA256 签名"
// @Success 200 {object} Response
// @Failure 403 {object} Response "签名无效"
// @Router /v1/payments/callback [post]
func (h *BillingHandler) PaymentCallback(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	sub, err := h.billingService.HandlePaymentCallback(c.Request.Context(), payload, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"subscriptionId": sub.ID, "status": sub.Status})
}

// AdminListPlans 全部套餐，含已停用
// @Summary 套餐管理列表
// @Tags 计费管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.Plan}
// @Router /v1/admin/packages [get]
func (h *BillingHandler) AdminListPlans(c *gin.Context) {
	plans, err := h.billingService.ListPlans(c.Request.Context(), false)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, plans)
}

// CreatePlan 创建套餐
// @Summary 创建套餐
// @Tags 计费管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body planRequest true "套餐"
// @Success 201 {object} Response{data=domain.Plan}
// @Failure 409 {object} Response "套餐类型已存在"
// @Router /v1/admin/packages [post]
func (h *BillingHandler) CreatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	plan, err := h.billingService.CreatePlan(c.Request.Context(), middleware.Principal(c), req.input())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, plan)
}

// UpdatePlan 修改套餐
// @Summary 修改套餐
// @Tags 计费管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param type path string true "套餐类型"
// @Param request body planRequest true "套餐"
// @Success 200 {object} Response{data=domain.Plan}
// @Router /v1/admin/packages/{type} [put]
func (h *BillingHandler) UpdatePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	plan, err := h.billingService.UpdatePlan(c.Request.Context(), middleware.Principal(c), domain.PlanType(c.Param("type")), req.input())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, plan)
}
