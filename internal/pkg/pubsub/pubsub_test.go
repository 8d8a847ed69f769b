package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/agent_review_server/internal/model"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return client
}

func TestPublishSubscribe(t *testing.T) {
	client := setupRedis(t)
	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	go func() {
		_ = subscriber.Subscribe(ctx, func(msg *ProgressMessage) {
			received <- msg
		})
	}()

	// 订阅建立需要一点时间
	time.Sleep(100 * time.Millisecond)

	err := publisher.PublishProgress(ctx, &ProgressMessage{
		UserID:     7,
		AnalysisID: "analysis_1",
		Status:     model.StatusCloning,
		Progress:   15,
		Step:       1,
		TotalSteps: 6,
		Message:    "正在克隆仓库",
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, int64(7), msg.UserID)
		assert.Equal(t, "analysis_1", msg.AnalysisID)
		assert.Equal(t, 15, msg.Progress)
		// 未指定时默认为分析进度消息
		assert.Equal(t, "analysis_progress", msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("progress message not received")
	}
}

func TestAnalysisStageMaps_Monotone(t *testing.T) {
	// 阶段推进时进度与步骤序号单调不减
	stages := []string{
		model.StatusPending,
		model.StatusCloning,
		model.StatusAnalyzing,
		model.StatusAIAnalyzing,
		StageScoring,
		model.StatusCompleted,
	}

	lastProgress, lastStep := -1, -1
	for _, stage := range stages {
		progress, ok := AnalysisProgress[stage]
		require.True(t, ok, "missing progress for %s", stage)
		step, ok := AnalysisStep[stage]
		require.True(t, ok, "missing step for %s", stage)

		assert.GreaterOrEqual(t, progress, lastProgress, "progress regressed at %s", stage)
		assert.GreaterOrEqual(t, step, lastStep, "step regressed at %s", stage)
		lastProgress, lastStep = progress, step
	}
}

func TestAnalysisStageMaps_CompletedIsHundred(t *testing.T) {
	assert.Equal(t, 100, AnalysisProgress[model.StatusCompleted])

	// 只有 completed 是 100
	for stage, progress := range AnalysisProgress {
		if stage == model.StatusCompleted {
			continue
		}
		assert.Less(t, progress, 100, "stage %s", stage)
	}
}

func TestAnalysisStageMaps_Messages(t *testing.T) {
	for stage := range AnalysisProgress {
		assert.NotEmpty(t, AnalysisMessages[stage], "missing message for %s", stage)
	}
}

func TestFixStageMaps_Monotone(t *testing.T) {
	stages := []string{
		model.FixStatusInitializing,
		model.FixStatusAnalyzing,
		model.FixStatusCloning,
		model.FixStatusFixing,
		model.FixStatusCommitting,
		model.FixStatusPushing,
		model.FixStatusCreatingPR,
		model.FixStatusCompleted,
	}

	lastProgress, lastStep := -1, -1
	for _, stage := range stages {
		progress, ok := FixProgress[stage]
		require.True(t, ok, "missing progress for %s", stage)
		step, ok := FixStep[stage]
		require.True(t, ok, "missing step for %s", stage)
		assert.NotEmpty(t, FixMessages[stage], "missing message for %s", stage)

		assert.GreaterOrEqual(t, progress, lastProgress, "progress regressed at %s", stage)
		assert.GreaterOrEqual(t, step, lastStep, "step regressed at %s", stage)
		lastProgress, lastStep = progress, step
	}

	assert.Equal(t, 100, FixProgress[model.FixStatusCompleted])
	assert.Equal(t, 7, FixStep[model.FixStatusCompleted])
}
