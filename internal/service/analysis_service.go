package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/model/dto"
	"github.com/qs3c/agent_review_server/internal/pkg/queue"
	"github.com/qs3c/agent_review_server/internal/repository"
	"github.com/qs3c/agent_review_server/internal/worker"
)

var (
	ErrAnalysisNotFound   = errors.New("分析任务不存在")
	ErrAnalysisPermission = errors.New("无权操作此分析任务")
)

type AnalysisService struct {
	analysisRepo *repository.AnalysisRepository
	jobQueue     *queue.Queue
	cfg          *config.Config
}

func NewAnalysisService(
	analysisRepo *repository.AnalysisRepository,
	jobQueue *queue.Queue,
	cfg *config.Config,
) *AnalysisService {
	return &AnalysisService{
		analysisRepo: analysisRepo,
		jobQueue:     jobQueue,
		cfg:          cfg,
	}
}

// Create 创建分析任务并入队。userID 为 nil 表示匿名分析。
func (s *AnalysisService) Create(ctx context.Context, userID *int64, req *dto.CreateAnalysisRequest) (*dto.CreateAnalysisResponse, error) {
	if err := worker.ValidateRepoURL(req.RepoURL); err != nil {
		return nil, err
	}

	analysis := &model.Analysis{
		ID:         model.GenerateID("analysis"),
		UserID:     userID,
		RepoURL:    req.RepoURL,
		RepoName:   req.RepoName,
		RepoOwner:  req.RepoOwner,
		Status:     model.StatusPending,
		TotalSteps: 6,
		Message:    "等待处理",
	}

	if err := s.analysisRepo.Create(analysis); err != nil {
		return nil, err
	}

	msg := &queue.JobMessage{
		Kind:        queue.KindAnalysis,
		AnalysisID:  analysis.ID,
		UserID:      userID,
		RepoURL:     req.RepoURL,
		RepoOwner:   req.RepoOwner,
		RepoName:    req.RepoName,
		AccessToken: req.AccessToken,
		EnableAIFix: req.EnableAIFix,
	}
	if err := s.jobQueue.Push(ctx, msg); err != nil {
		// 入队失败时直接标记失败，避免任务永远停在 pending
		now := time.Now()
		s.analysisRepo.UpdateFields(analysis.ID, map[string]interface{}{
			"status":        model.StatusFailed,
			"message":       "任务入队失败",
			"error_message": err.Error(),
			"completed_at":  &now,
		})
		return nil, err
	}

	return &dto.CreateAnalysisResponse{
		AnalysisID: analysis.ID,
	}, nil
}

// GetByID 获取分析详情
func (s *AnalysisService) GetByID(analysisID string) (*model.Analysis, error) {
	analysis, err := s.analysisRepo.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	return analysis, nil
}

// GetProgress 获取进度快照
func (s *AnalysisService) GetProgress(analysisID string) (*dto.AnalysisProgressResponse, error) {
	analysis, err := s.GetByID(analysisID)
	if err != nil {
		return nil, err
	}

	resp := &dto.AnalysisProgressResponse{
		AnalysisID: analysis.ID,
		Status:     analysis.Status,
		Progress: dto.ProgressInfo{
			Percentage:  analysis.Progress,
			CurrentStep: analysis.CurrentStep,
			TotalSteps:  analysis.TotalSteps,
			Message:     analysis.Message,
		},
		Error: analysis.ErrorMessage,
	}

	if analysis.CodeQuality != nil {
		resp.CodeQuality = &dto.CodeQuality{
			Score: analysis.CodeQuality.Score,
			Grade: analysis.CodeQuality.Grade,
		}
	}

	return resp, nil
}

// List 获取历史列表。userID 为 nil 时返回全部。
func (s *AnalysisService) List(userID *int64, status, sortBy, order string, limit, offset int) ([]*dto.AnalysisListItem, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	analyses, total, err := s.analysisRepo.List(userID, status, sortBy, order, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.AnalysisListItem, len(analyses))
	for i, a := range analyses {
		items[i] = &dto.AnalysisListItem{
			ID:        a.ID,
			RepoName:  a.RepoName,
			RepoOwner: a.RepoOwner,
			Status:    a.Status,
			Progress:  a.Progress,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		}
		if a.CodeQuality != nil {
			items[i].CodeQuality = &dto.CodeQuality{
				Score: a.CodeQuality.Score,
				Grade: a.CodeQuality.Grade,
			}
		}
		if a.CompletedAt != nil {
			items[i].CompletedAt = a.CompletedAt.Format(time.RFC3339)
		}
	}

	return items, total, nil
}

// Delete 删除分析记录
func (s *AnalysisService) Delete(userID *int64, analysisID string) error {
	analysis, err := s.GetByID(analysisID)
	if err != nil {
		return err
	}

	// 匿名记录任何人可删，有归属的记录仅属主可删
	if analysis.UserID != nil {
		if userID == nil || *userID != *analysis.UserID {
			return ErrAnalysisPermission
		}
	}

	return s.analysisRepo.Delete(analysisID)
}
