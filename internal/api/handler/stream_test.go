package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/pkg/response"
	"github.com/qs3c/agent_review_server/internal/repository"
	"github.com/qs3c/agent_review_server/internal/service"
	"github.com/qs3c/agent_review_server/internal/testutil"
)

func setupStreamEnv(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	svc := service.NewAnalysisService(repository.NewAnalysisRepository(db), nil, &config.Config{})
	h := NewStreamHandler(svc)

	router := gin.New()
	router.GET("/api/v1/analyses/:id/stream", h.Stream)

	return router, db
}

func doStream(t *testing.T, router *gin.Engine, analysisID string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+analysisID+"/stream", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStreamHandler_NotFound(t *testing.T) {
	router, _ := setupStreamEnv(t)

	w := doStream(t, router, "analysis_missing")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseBody(t, w)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestStreamHandler_TerminalShortCircuit(t *testing.T) {
	router, db := setupStreamEnv(t)

	analysis := testutil.CompletedAnalysis(t, db, nil, nil)

	start := time.Now()
	w := doStream(t, router, analysis.ID)
	elapsed := time.Since(start)

	// 终态任务不进入轮询循环，立即返回
	assert.Less(t, elapsed, streamPollInterval)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: completed")
	assert.Contains(t, body, `"progress":100`)
}

func TestStreamHandler_FailedShortCircuit(t *testing.T) {
	router, db := setupStreamEnv(t)

	analysis := testutil.TestAnalysis(t, db, nil, func(a *model.Analysis) {
		a.Status = model.StatusFailed
		a.ErrorMessage = "克隆仓库失败，请检查地址后重试"
	})

	w := doStream(t, router, analysis.ID)

	body := w.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: failed")
	assert.Contains(t, body, "克隆仓库失败")
}

func TestStreamHandler_ProgressDedupAndCompletion(t *testing.T) {
	router, db := setupStreamEnv(t)
	repo := repository.NewAnalysisRepository(db)

	analysis := testutil.TestAnalysis(t, db, nil, testutil.WithStatus(model.StatusCloning, 15))

	// 第一个轮询周期进度不变（不应重复推送），之后推进到 30，最后完成
	go func() {
		time.Sleep(streamPollInterval + 500*time.Millisecond)
		_ = repo.UpdateFields(analysis.ID, map[string]interface{}{
			"status":       model.StatusAnalyzing,
			"progress":     30,
			"current_step": 2,
			"message":      "正在扫描项目结构",
		})

		time.Sleep(streamPollInterval + 500*time.Millisecond)
		now := time.Now()
		_ = repo.UpdateFields(analysis.ID, map[string]interface{}{
			"status":       model.StatusCompleted,
			"progress":     100,
			"current_step": 6,
			"message":      "分析完成",
			"completed_at": &now,
		})
	}()

	w := doStream(t, router, analysis.ID)
	body := w.Body.String()

	// connected 快照带初始进度
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, `"progress":15`)

	// 进度未变化的轮询周期不产生事件，30 只推送一次
	assert.Equal(t, 1, strings.Count(body, "event: progress"))
	assert.Contains(t, body, `"progress":30`)

	// 完成后以 completed 事件收尾
	assert.Contains(t, body, "event: completed")
	events := strings.Split(strings.TrimSpace(body), "\n\n")
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1], "event: completed")
}

func TestStreamHandler_ClientDisconnect(t *testing.T) {
	router, db := setupStreamEnv(t)

	analysis := testutil.TestAnalysis(t, db, nil, testutil.WithStatus(model.StatusAnalyzing, 30))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+analysis.ID+"/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// 客户端断开后轮询立即停止
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
}
