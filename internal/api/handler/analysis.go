package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/agent_review_server/internal/api/middleware"
	"github.com/qs3c/agent_review_server/internal/model/dto"
	"github.com/qs3c/agent_review_server/internal/pkg/response"
	"github.com/qs3c/agent_review_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Create 创建分析任务
// POST /api/v1/analyses
func (h *AnalysisHandler) Create(c *gin.Context) {
	var req dto.CreateAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	userID := middleware.GetOptionalUserID(c)
	resp, err := h.analysisService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAnalysisNotFound):
			response.NotFoundError(c, err.Error())
		default:
			// URL 校验错误直接透传给前端
			response.ParamError(c, err.Error())
		}
		return
	}

	response.SuccessWithMessage(c, "创建成功", resp)
}

// Get 获取分析详情
// GET /api/v1/analyses/:id
func (h *AnalysisHandler) Get(c *gin.Context) {
	analysis, err := h.analysisService.GetByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAnalysisNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, analysis)
}

// GetProgress 轮询进度快照
// GET /api/v1/analyses/:id/progress
func (h *AnalysisHandler) GetProgress(c *gin.Context) {
	resp, err := h.analysisService.GetProgress(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAnalysisNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, resp)
}

// List 获取历史列表
// GET /api/v1/analyses
func (h *AnalysisHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")
	sortBy := c.DefaultQuery("sort_by", "created_at")
	order := c.DefaultQuery("order", "desc")

	userID := middleware.GetOptionalUserID(c)
	items, total, err := h.analysisService.List(userID, status, sortBy, order, limit, offset)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, limit, offset, items)
}

// Delete 删除分析记录
// DELETE /api/v1/analyses/:id
func (h *AnalysisHandler) Delete(c *gin.Context) {
	userID := middleware.GetOptionalUserID(c)
	if err := h.analysisService.Delete(userID, c.Param("id")); err != nil {
		switch {
		case errors.Is(err, service.ErrAnalysisNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrAnalysisPermission):
			response.PermissionError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}
