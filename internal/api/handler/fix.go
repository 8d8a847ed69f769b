package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/agent_review_server/internal/api/middleware"
	"github.com/qs3c/agent_review_server/internal/model/dto"
	"github.com/qs3c/agent_review_server/internal/pkg/response"
	"github.com/qs3c/agent_review_server/internal/service"
)

type FixHandler struct {
	fixService *service.FixService
}

func NewFixHandler(fixService *service.FixService) *FixHandler {
	return &FixHandler{
		fixService: fixService,
	}
}

// Trigger 对已完成的分析发起自动修复
// POST /api/v1/analyses/:id/fix
func (h *FixHandler) Trigger(c *gin.Context) {
	var req dto.TriggerFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	userID := middleware.GetOptionalUserID(c)
	resp, err := h.fixService.Trigger(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAnalysisNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrAnalysisNotCompleted):
			response.ConflictError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "修复任务已创建", resp)
}

// Get 获取修复任务详情
// GET /api/v1/fix-jobs/:id
func (h *FixHandler) Get(c *gin.Context) {
	job, err := h.fixService.GetByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrFixJobNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, job)
}

// GetLatestForAnalysis 获取某次分析最近的修复任务
// GET /api/v1/analyses/:id/fix
func (h *FixHandler) GetLatestForAnalysis(c *gin.Context) {
	job, err := h.fixService.GetLatestByAnalysisID(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrFixJobNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, job)
}
