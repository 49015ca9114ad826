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

// LockerHandler 网点、分组与信箱处理器
type LockerHandler struct {
	lockerService *service.LockerService
	log           *zap.Logger
}

// NewLockerHandler 创建信箱处理器
func NewLockerHandler(lockerService *service.LockerService, log *zap.Logger) *LockerHandler {
	return &LockerHandler{
		lockerService: lockerService,
		log:           log.Named("locker_handler"),
	}
}

type createLocationRequest struct {
	Name             string `json:"name" binding:"required"`
	Address          string `json:"address"`
	FirstClusterName string `json:"firstClusterName" binding:"required"`
}

type locationStatusRequest struct {
	IsActive bool `json:"isActive"`
}

type createClusterRequest struct {
	LocationID string `json:"locationId" binding:"required"`
	Name       string `json:"name" binding:"required"`
}

type mailboxRequest struct {
	ClusterID string               `json:"clusterId" binding:"required"`
	BoxNumber string               `json:"boxNumber" binding:"required"`
	Type      domain.MailboxType   `json:"type" binding:"required"`
	Width     float64              `json:"width"`
	Height    float64              `json:"height"`
	Depth     float64              `json:"depth"`
	Unit      domain.DimensionUnit `json:"unit"`
}

func (r mailboxRequest) input() service.MailboxInput {
	return service.MailboxInput{
		ClusterID: r.ClusterID,
		BoxNumber: r.BoxNumber,
		Type:      r.Type,
		Width:     r.Width,
		Height:    r.Height,
		Depth:     r.Depth,
		Unit:      r.Unit,
	}
}

// CheckFit 包裹尺寸是否能放入信箱
// @Summary 包裹适配检查
// @Description 不旋转包裹，逐维比较，单位不同时先换算
// @Tags 信箱
// @Produce json
// @Security BearerAuth
// @Param id path string true "信箱ID"
// @Param width query number true "宽"
// @Param height query number true "高"
// @Param depth query number true "深"
// @Param unit query string false "INCH 或 CM"
// @Success 200 {object} Response{data=domain.FitResult}
// @Failure 400 {object} Response "尺寸非法"
// @Router /v1/lockers/{id}/fit [get]
func (h *LockerHandler) CheckFit(c *gin.Context) {
	var dims domain.Dimensions
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"width", &dims.Width},
		{"height", &dims.Height},
		{"depth", &dims.Depth},
	} {
		v, err := strconv.ParseFloat(c.Query(f.name), 64)
		if err != nil {
			BadRequest(c, "尺寸参数必须是数字: "+f.name)
			return
		}
		*f.dst = v
	}
	dims.Unit = domain.DimensionUnit(c.DefaultQuery("unit", string(domain.UnitInch)))

	result, err := h.lockerService.CheckParcelFit(c.Request.Context(), dims, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// ListLocations 网点列表
// @Summary 网点列表
// @Tags 信箱管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]domain.MailingLocation}
// @Router /v1/admin/locations [get]
func (h *LockerHandler) ListLocations(c *gin.Context) {
	locations, err := h.lockerService.ListLocations(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, locations)
}

// CreateLocation 创建网点及首个分组
// @Summary 创建网点
// @Tags 信箱管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createLocationRequest true "网点"
// @Success 201 {object} Response
// @Router /v1/admin/locations [post]
func (h *LockerHandler) CreateLocation(c *gin.Context) {
	var req createLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	location, cluster, err := h.lockerService.CreateLocation(c.Request.Context(), middleware.Principal(c), service.CreateLocationInput{
		Name:             req.Name,
		Address:          req.Address,
		FirstClusterName: req.FirstClusterName,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, gin.H{"location": location, "cluster": cluster})
}

// SetLocationStatus 启用或停用网点
// @Summary 网点启停
// @Tags 信箱管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "网点ID"
// @Param request body locationStatusRequest true "状态"
// @Success 200 {object} Response{data=domain.MailingLocation}
// @Router /v1/admin/locations/{id}/status [put]
func (h *LockerHandler) SetLocationStatus(c *gin.Context) {
	var req locationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	location, err := h.lockerService.SetLocationActive(c.Request.Context(), middleware.Principal(c), c.Param("id"), req.IsActive)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, location)
}

// ListClusters 网点下的分组
// @Summary 分组列表
// @Tags 信箱管理
// @Produce json
// @Security BearerAuth
// @Param locationId query string true "网点ID"
// @Success 200 {object} Response{data=[]domain.Cluster}
// @Router /v1/admin/clusters [get]
func (h *LockerHandler) ListClusters(c *gin.Context) {
	clusters, err := h.lockerService.ListClusters(c.Request.Context(), c.Query("locationId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, clusters)
}

// CreateCluster 创建分组
// @Summary 创建分组
// @Tags 信箱管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createClusterRequest true "分组"
// @Success 201 {object} Response{data=domain.Cluster}
// @Router /v1/admin/clusters [post]
func (h *LockerHandler) CreateCluster(c *gin.Context) {
	var req createClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	cluster, err := h.lockerService.CreateCluster(c.Request.Context(), middleware.Principal(c), req.LocationID, req.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, cluster)
}

// DeleteCluster 删除分组
// @Summary 删除分组
// @Description 分组内仍有占用信箱时拒绝
// @Tags 信箱管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "分组ID"
// @Success 200 {object} Response
// @Failure 409 {object} Response "存在占用信箱"
// @Router /v1/admin/clusters/{id} [delete]
func (h *LockerHandler) DeleteCluster(c *gin.Context) {
	if err := h.lockerService.DeleteCluster(c.Request.Context(), middleware.Principal(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "删除成功", nil)
}

// ListMailboxes 信箱列表
// @Summary 信箱列表
// @Tags 信箱管理
// @Produce json
// @Security BearerAuth
// @Param clusterId query string false "分组ID"
// @Param type query string false "信箱类型"
// @Param vacant query bool false "只看空闲"
// @Success 200 {object} Response{data=[]domain.Mailbox}
// @Router /v1/admin/mailboxes [get]
func (h *LockerHandler) ListMailboxes(c *gin.Context) {
	vacant, _ := strconv.ParseBool(c.DefaultQuery("vacant", "false"))

	boxes, err := h.lockerService.ListMailboxes(c.Request.Context(), storage.MailboxFilter{
		ClusterID:  c.Query("clusterId"),
		Type:       domain.MailboxType(c.Query("type")),
		OnlyVacant: vacant,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, boxes)
}

// CreateMailbox 创建信箱
// @Summary 创建信箱
// @Tags 信箱管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body mailboxRequest true "信箱"
// @Success 201 {object} Response{data=domain.Mailbox}
// @Failure 409 {object} Response "编号重复"
// @Router /v1/admin/mailboxes [post]
func (h *LockerHandler) CreateMailbox(c *gin.Context) {
	var req mailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	box, err := h.lockerService.CreateMailbox(c.Request.Context(), middleware.Principal(c), req.input())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, box)
}

// UpdateMailbox 修改信箱
// @Summary 修改信箱
// @Tags 信箱管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "信箱ID"
// @Param request body mailboxRequest true "信箱"
// @Success 200 {object} Response{data=domain.Mailbox}
// @Router /v1/admin/mailboxes/{id} [put]
func (h *LockerHandler) UpdateMailbox(c *gin.Context) {
	var req mailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	box, err := h.lockerService.UpdateMailbox(c.Request.Context(), middleware.Principal(c), c.Param("id"), req.input())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, box)
}
