package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/service"
)

// ReferralHandler 推荐码与返现处理器
type ReferralHandler struct {
	referralService *service.ReferralService
	log             *zap.Logger
}

// NewReferralHandler 创建推荐处理器
func NewReferralHandler(referralService *service.ReferralService, log *zap.Logger) *ReferralHandler {
	return &ReferralHandler{
		referralService: referralService,
		log:             log.Named("referral_handler"),
	}
}

type recordTransactionRequest struct {
	ReferralID  string `json:"referralId" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// GenerateCode 生成或返回已有推荐码
// @Summary 推荐码
// @Tags 推荐
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Router /v1/referrals/code [post]
func (h *ReferralHandler) GenerateCode(c *gin.Context) {
	code, err := h.referralService.GenerateUniqueCode(c.Request.Context(), middleware.ProfileID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"referralCode": code})
}

// Stats 推荐统计
// @Summary 推荐统计
// @Tags 推荐
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=domain.ReferralStats}
// @Router /v1/referrals/stats [get]
func (h *ReferralHandler) Stats(c *gin.Context) {
	stats, err := h.referralService.GetReferralStats(c.Request.Context(), middleware.ProfileID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, stats)
}

// List 推荐关系列表
// @Summary 我的推荐
// @Tags 推荐
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.Referral}
// @Router /v1/referrals [get]
func (h *ReferralHandler) List(c *gin.Context) {
	referrals, err := h.referralService.ListReferrals(c.Request.Context(), middleware.ProfileID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, referrals)
}

// RecordTransaction 追加返现流水
// @Summary 追加返现
// @Tags 推荐管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body recordTransactionRequest true "流水"
// @Success 201 {object} Response{data=domain.ReferralTransaction}
// @Router /v1/admin/referrals/transactions [post]
func (h *ReferralHandler) RecordTransaction(c *gin.Context) {
	var req recordTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	tx, err := h.referralService.RecordTransaction(c.Request.Context(), middleware.Principal(c), req.ReferralID, req.Amount, req.Description)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, tx)
}

// MarkPaid 返现标记已支付
// @Summary 标记返现已支付
// @Tags 推荐管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "流水ID"
// @Success 200 {object} Response{data=domain.ReferralTransaction}
// @Router /v1/admin/referrals/transactions/{id}/paid [post]
func (h *ReferralHandler) MarkPaid(c *gin.Context) {
	tx, err := h.referralService.MarkTransactionPaid(c.Request.Context(), middleware.Principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, tx)
}
