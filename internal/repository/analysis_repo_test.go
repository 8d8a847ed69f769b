package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/testutil"
)

func TestAnalysisRepository_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	created := testutil.TestAnalysis(t, db, nil)

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "https://github.com/example/repo", found.RepoURL)
	assert.Equal(t, model.StatusPending, found.Status)
	assert.Nil(t, found.UserID)
}

func TestAnalysisRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	_, err := repo.GetByID("analysis_missing")
	assert.Error(t, err)
}

func TestAnalysisRepository_UpdateFields_StatusGroup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	created := testutil.TestAnalysis(t, db, nil)

	// 状态、进度、步骤、消息在同一次调用里更新
	err := repo.UpdateFields(created.ID, map[string]interface{}{
		"status":       model.StatusCloning,
		"progress":     15,
		"current_step": 1,
		"message":      "正在克隆仓库",
	})
	require.NoError(t, err)

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCloning, found.Status)
	assert.Equal(t, 15, found.Progress)
	assert.Equal(t, 1, found.CurrentStep)
	assert.Equal(t, "正在克隆仓库", found.Message)
}

func TestAnalysisRepository_UpdateFields_CompletionGroup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	created := testutil.TestAnalysis(t, db, nil)

	now := time.Now()
	result := &model.AIAnalysisResult{
		CodeQuality:     model.CodeQualityResult{Score: 85, Grade: "B"},
		Bugs:            []model.Finding{},
		Security:        []model.Finding{},
		Recommendations: []string{"add tests"},
	}
	err := repo.UpdateFields(created.ID, map[string]interface{}{
		"status":       model.StatusCompleted,
		"progress":     100,
		"current_step": 6,
		"message":      "分析完成",
		"ai_analysis":  result,
		"code_quality": &model.CodeQualityResult{Score: 85, Grade: "B"},
		"completed_at": &now,
	})
	require.NoError(t, err)

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, found.Status)
	assert.Equal(t, 100, found.Progress)
	require.NotNil(t, found.AIAnalysis)
	assert.Equal(t, 85, found.AIAnalysis.CodeQuality.Score)
	require.NotNil(t, found.CodeQuality)
	assert.Equal(t, "B", found.CodeQuality.Grade)
	assert.NotNil(t, found.CompletedAt)
}

func TestAnalysisRepository_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	user := testutil.TestUser(t, db)

	testutil.TestAnalysis(t, db, &user.ID)
	testutil.TestAnalysis(t, db, &user.ID, testutil.WithStatus(model.StatusCompleted, 100))
	testutil.TestAnalysis(t, db, nil) // 匿名记录

	all, total, err := repo.List(nil, "", "", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	owned, total, err := repo.List(&user.ID, "", "", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, owned, 2)

	completed, total, err := repo.List(&user.ID, model.StatusCompleted, "", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, completed, 1)
	assert.Equal(t, model.StatusCompleted, completed[0].Status)
}

func TestAnalysisRepository_List_SortWhitelist(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	testutil.TestAnalysis(t, db, nil)

	// 白名单外的排序字段回退到 created_at，不报错
	_, _, err := repo.List(nil, "", "updated_at; DROP TABLE analyses", "asc", 10, 0)
	assert.NoError(t, err)

	found, _, err := repo.List(nil, "", "", "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestAnalysisRepository_List_Pagination(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	for i := 0; i < 5; i++ {
		testutil.TestAnalysis(t, db, nil)
	}

	page, total, err := repo.List(nil, "", "", "", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)
}

func TestAnalysisRepository_ListStale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)

	stale := testutil.TestAnalysis(t, db, nil, testutil.WithStatus(model.StatusAnalyzing, 30))
	testutil.TestAnalysis(t, db, nil, testutil.WithStatus(model.StatusAnalyzing, 30))
	testutil.CompletedAnalysis(t, db, nil, nil)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&model.Analysis{}).Where("id = ?", stale.ID).Update("updated_at", old).Error)

	found, err := repo.ListStale(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID, found[0].ID)
}

func TestAnalysisRepository_ListLocalTranscripts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)

	local := testutil.TestAnalysis(t, db, nil, func(a *model.Analysis) {
		a.TranscriptURL = "local://" + a.ID
	})
	testutil.TestAnalysis(t, db, nil, func(a *model.Analysis) {
		a.TranscriptURL = "https://bucket.example.com/transcripts/x/1.txt"
	})
	testutil.TestAnalysis(t, db, nil)

	found, err := repo.ListLocalTranscripts()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, local.ID, found[0].ID)
}

func TestAnalysisRepository_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAnalysisRepository(db)
	created := testutil.TestAnalysis(t, db, nil)

	require.NoError(t, repo.Delete(created.ID))

	_, err := repo.GetByID(created.ID)
	assert.Error(t, err)
}
