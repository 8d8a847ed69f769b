package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/model/dto"
	"github.com/qs3c/agent_review_server/internal/pkg/response"
	"github.com/qs3c/agent_review_server/internal/service"
)

const streamPollInterval = time.Second

// StreamHandler 以 SSE 推送分析进度
type StreamHandler struct {
	analysisService *service.AnalysisService
}

func NewStreamHandler(analysisService *service.AnalysisService) *StreamHandler {
	return &StreamHandler{
		analysisService: analysisService,
	}
}

// Stream SSE 进度流
// GET /api/v1/analyses/:id/stream
//
// 事件序列: connected → progress*（进度值变化才推送）→ completed|failed，然后关闭。
// 客户端断开时立即停止轮询。
func (h *StreamHandler) Stream(c *gin.Context) {
	analysisID := c.Param("id")

	analysis, err := h.analysisService.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, service.ErrAnalysisNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.ServerError(c, "当前连接不支持流式推送")
		return
	}

	writeEvent(c, flusher, "connected", buildStreamEvent(analysis))

	// 已是终态时直接发终止事件并关闭
	if model.IsTerminal(analysis.Status) {
		writeEvent(c, flusher, terminalEventName(analysis.Status), buildStreamEvent(analysis))
		return
	}

	lastProgress := analysis.Progress
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			current, err := h.analysisService.GetByID(analysisID)
			if err != nil {
				writeEvent(c, flusher, "failed", &dto.StreamEvent{
					AnalysisID: analysisID,
					Status:     model.StatusFailed,
					Error:      "记录读取失败",
				})
				return
			}

			if model.IsTerminal(current.Status) {
				writeEvent(c, flusher, terminalEventName(current.Status), buildStreamEvent(current))
				return
			}

			// 进度没变化就不重复推送
			if current.Progress != lastProgress {
				lastProgress = current.Progress
				writeEvent(c, flusher, "progress", buildStreamEvent(current))
			}
		}
	}
}

func terminalEventName(status string) string {
	if status == model.StatusCompleted {
		return "completed"
	}
	return "failed"
}

func buildStreamEvent(a *model.Analysis) *dto.StreamEvent {
	return &dto.StreamEvent{
		AnalysisID: a.ID,
		Status:     a.Status,
		Progress:   a.Progress,
		Step:       a.CurrentStep,
		TotalSteps: a.TotalSteps,
		Message:    a.Message,
		Error:      a.ErrorMessage,
	}
}

func writeEvent(c *gin.Context, flusher http.Flusher, event string, data *dto.StreamEvent) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
