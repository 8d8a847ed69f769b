package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/agent_review_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:     fmt.Sprintf("testuser_%d", time.Now().UnixNano()%1000000),
		Email:        &email,
		PasswordHash: &passwordHash,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// TestAnalysis 创建测试分析记录
func TestAnalysis(t *testing.T, db *gorm.DB, userID *int64, opts ...func(*model.Analysis)) *model.Analysis {
	t.Helper()

	analysis := &model.Analysis{
		ID:         model.GenerateID("analysis"),
		UserID:     userID,
		RepoURL:    "https://github.com/example/repo",
		RepoName:   "repo",
		RepoOwner:  "example",
		Status:     model.StatusPending,
		TotalSteps: 6,
		Message:    "等待处理",
	}

	for _, opt := range opts {
		opt(analysis)
	}

	if err := db.Create(analysis).Error; err != nil {
		t.Fatalf("Failed to create test analysis: %v", err)
	}

	return analysis
}

// WithStatus 设置分析状态
func WithStatus(status string, progress int) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.Status = status
		a.Progress = progress
	}
}

// CompletedAnalysis 创建一条带完整结果的已完成分析
func CompletedAnalysis(t *testing.T, db *gorm.DB, userID *int64, result *model.AIAnalysisResult) *model.Analysis {
	t.Helper()

	now := time.Now()
	if result == nil {
		result = &model.AIAnalysisResult{
			Architecture:    model.ArchitectureResult{Pattern: "MVC", Strengths: []string{}, Weaknesses: []string{}},
			CodeQuality:     model.CodeQualityResult{Score: 80, Grade: "B"},
			Bugs:            []model.Finding{},
			Security:        []model.Finding{},
			Recommendations: []string{},
		}
	}

	return TestAnalysis(t, db, userID, func(a *model.Analysis) {
		a.Status = model.StatusCompleted
		a.Progress = 100
		a.CurrentStep = 6
		a.Message = "分析完成"
		a.AIAnalysis = result
		a.CodeQuality = &model.CodeQualityResult{Score: result.CodeQuality.Score, Grade: result.CodeQuality.Grade}
		a.Structure = &model.StructureResult{TotalFiles: 10, TotalDirs: 3, Languages: map[string]int{".go": 10}}
		a.CompletedAt = &now
	})
}

// TestFixJob 创建测试修复任务
func TestFixJob(t *testing.T, db *gorm.DB, analysisID string, userID *int64, status string) *model.FixJob {
	t.Helper()

	job := &model.FixJob{
		ID:         model.GenerateID("fix"),
		AnalysisID: analysisID,
		UserID:     userID,
		RepoURL:    "https://github.com/example/repo",
		RepoName:   "repo",
		RepoOwner:  "example",
		Status:     status,
		TotalSteps: 7,
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test fix job: %v", err)
	}

	return job
}
