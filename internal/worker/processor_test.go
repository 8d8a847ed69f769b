package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/pkg/pubsub"
	"github.com/qs3c/agent_review_server/internal/pkg/queue"
	"github.com/qs3c/agent_review_server/internal/repository"
	"github.com/qs3c/agent_review_server/internal/testutil"
)

// reviewJSON 桩 Agent 输出的评审结果
const reviewJSON = `{"architecture":{"pattern":"MVC","strengths":["clear layering"],"weaknesses":[]},"code_quality":{"score":92,"issues":[]},"bugs":[],"security":[],"recommendations":["add more tests"]}`

// progressRecorder 收集订阅到的进度消息
type progressRecorder struct {
	mu   sync.Mutex
	msgs []*pubsub.ProgressMessage
}

func (r *progressRecorder) record(msg *pubsub.ProgressMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *progressRecorder) snapshot() []*pubsub.ProgressMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*pubsub.ProgressMessage(nil), r.msgs...)
}

func writeStubScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "git-stub")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

// setupProcessor 组装一个克隆与 Agent 都走桩脚本的处理器，
// 并在后台订阅进度消息。
func setupProcessor(t *testing.T, gitScript string) (*Processor, *gorm.DB, *progressRecorder, string) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	recorder := &progressRecorder{}
	subCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = pubsub.NewSubscriber(rdb).Subscribe(subCtx, recorder.record)
	}()
	time.Sleep(100 * time.Millisecond) // 等订阅生效

	wsRoot := t.TempDir()
	runner := NewRunner()
	gitClient := NewGitClient(runner, "bot", "bot@example.com", time.Minute)
	gitClient.bin = writeStubScript(t, gitScript)
	agent := NewAgentRunner(runner, &config.AgentConfig{
		Command:        "sh",
		Args:           []string{"-c", "echo '" + reviewJSON + "'"},
		TimeoutSeconds: 30,
		MinOutputBytes: 1,
	})

	cfg := &config.Config{}
	cfg.Workspace.TempDir = wsRoot

	repo := repository.NewAnalysisRepository(db)
	proc := NewProcessor(repo, NewWorkspaceManager(wsRoot), gitClient, agent, nil, pubsub.NewPublisher(rdb), nil, cfg)
	return proc, db, recorder, wsRoot
}

func TestProcessorProcess_CompletesThroughAllStages(t *testing.T) {
	gitScript := `#!/bin/sh
if [ "$1" = "clone" ]; then
  for dir; do :; done
  mkdir -p "$dir"
  echo 'package main' > "$dir/main.go"
fi
exit 0
`
	proc, db, recorder, wsRoot := setupProcessor(t, gitScript)
	analysis := testutil.TestAnalysis(t, db, nil)

	err := proc.Process(context.Background(), &queue.JobMessage{AnalysisID: analysis.ID})
	require.NoError(t, err)

	got, err := proc.analysisRepo.GetByID(analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 6, got.CurrentStep)
	require.NotNil(t, got.CodeQuality)
	assert.Equal(t, 92, got.CodeQuality.Score)
	assert.Equal(t, "A", got.CodeQuality.Grade)
	require.NotNil(t, got.AIAnalysis)
	assert.Equal(t, "MVC", got.AIAnalysis.Architecture.Pattern)
	require.NotNil(t, got.Structure)
	assert.Equal(t, "local://"+analysis.ID, got.TranscriptURL)
	assert.NotNil(t, got.CompletedAt)

	// 工作目录已清理，转录文件保留
	_, statErr := os.Stat(filepath.Join(wsRoot, analysis.ID))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(wsRoot, "transcripts", analysis.ID+".txt"))
	assert.NoError(t, statErr)

	// 进度单调不减，100 只出现在 completed
	require.Eventually(t, func() bool {
		msgs := recorder.snapshot()
		return len(msgs) > 0 && msgs[len(msgs)-1].Status == model.StatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	msgs := recorder.snapshot()
	prev := 0
	for _, m := range msgs {
		assert.GreaterOrEqual(t, m.Progress, prev)
		prev = m.Progress
		if m.Progress == 100 {
			assert.Equal(t, model.StatusCompleted, m.Status)
		}
	}
	assert.Equal(t, 100, msgs[len(msgs)-1].Progress)
}

func TestProcessorProcess_CloneNotFoundFailsAndCleansWorkspace(t *testing.T) {
	gitScript := `#!/bin/sh
if [ "$1" = "clone" ]; then
  echo "remote: Repository not found." >&2
  exit 128
fi
exit 0
`
	proc, db, recorder, wsRoot := setupProcessor(t, gitScript)
	analysis := testutil.TestAnalysis(t, db, nil)

	err := proc.Process(context.Background(), &queue.JobMessage{AnalysisID: analysis.ID})
	require.Error(t, err)

	var cloneErr *CloneError
	require.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, "仓库不存在，请检查地址", cloneErr.UserMessage)

	got, err := proc.analysisRepo.GetByID(analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "仓库不存在，请检查地址", got.ErrorMessage)
	assert.Equal(t, "分析失败", got.Message)
	assert.Equal(t, 15, got.Progress) // 失败不回退已写入的进度
	assert.NotNil(t, got.CompletedAt)

	_, statErr := os.Stat(filepath.Join(wsRoot, analysis.ID))
	assert.True(t, os.IsNotExist(statErr))

	// 失败事件带最近一次落库的进度，不是任务起始值
	require.Eventually(t, func() bool {
		msgs := recorder.snapshot()
		return len(msgs) > 0 && msgs[len(msgs)-1].Status == model.StatusFailed
	}, 2*time.Second, 20*time.Millisecond)

	msgs := recorder.snapshot()
	failed := msgs[len(msgs)-1]
	assert.Equal(t, 15, failed.Progress)
	assert.Contains(t, failed.Error, "仓库不存在")
}

func TestScoreToGrade(t *testing.T) {
	tests := []struct {
		score int
		grade string
	}{
		{100, "A"},
		{90, "A"},
		{89, "B"},
		{80, "B"},
		{79, "C"},
		{70, "C"},
		{69, "D"},
		{60, "D"},
		{59, "F"},
		{0, "F"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.grade, scoreToGrade(tt.score), "score %d", tt.score)
	}
}

func TestNeutralResult(t *testing.T) {
	result := neutralResult("https://bucket.example.com/transcripts/analysis_1/123.txt")

	assert.Equal(t, defaultScore, result.CodeQuality.Score)
	require.Len(t, result.Recommendations, 1)
	assert.Contains(t, result.Recommendations[0], "transcripts/analysis_1")
}

func TestNeutralResult_NoTranscript(t *testing.T) {
	result := neutralResult("")

	assert.Equal(t, defaultScore, result.CodeQuality.Score)
	require.Len(t, result.Recommendations, 1)
	assert.Contains(t, result.Recommendations[0], "无法解析")
}

func TestSaveTranscript_LocalFallback(t *testing.T) {
	tempDir := t.TempDir()
	p := &Processor{
		cfg: &config.Config{
			Workspace: config.WorkspaceConfig{TempDir: tempDir},
		},
	}

	// OSS 未配置时转录落盘，返回 local:// 标记供后台补传识别
	url := p.saveTranscript("analysis_abc", "raw agent output")
	assert.Equal(t, "local://analysis_abc", url)

	data, err := os.ReadFile(filepath.Join(tempDir, "transcripts", "analysis_abc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "raw agent output", string(data))
}
