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
)

var (
	ErrFixJobNotFound       = errors.New("修复任务不存在")
	ErrAnalysisNotCompleted = errors.New("分析尚未完成，无法发起修复")
)

type FixService struct {
	fixJobRepo   *repository.FixJobRepository
	analysisRepo *repository.AnalysisRepository
	jobQueue     *queue.Queue
	cfg          *config.Config
}

func NewFixService(
	fixJobRepo *repository.FixJobRepository,
	analysisRepo *repository.AnalysisRepository,
	jobQueue *queue.Queue,
	cfg *config.Config,
) *FixService {
	return &FixService{
		fixJobRepo:   fixJobRepo,
		analysisRepo: analysisRepo,
		jobQueue:     jobQueue,
		cfg:          cfg,
	}
}

// Trigger 发起修复任务。前置条件：对应分析已完成。
func (s *FixService) Trigger(ctx context.Context, userID *int64, analysisID string, req *dto.TriggerFixRequest) (*dto.TriggerFixResponse, error) {
	analysis, err := s.analysisRepo.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}

	if analysis.Status != model.StatusCompleted {
		return nil, ErrAnalysisNotCompleted
	}

	job := &model.FixJob{
		ID:         model.GenerateID("fix"),
		AnalysisID: analysis.ID,
		UserID:     userID,
		RepoURL:    analysis.RepoURL,
		RepoOwner:  analysis.RepoOwner,
		RepoName:   analysis.RepoName,
		Status:     model.FixStatusInitializing,
		TotalSteps: 7,
		AutoMerge:  req.AutoMerge,
		Message:    "等待处理",
	}
	if err := s.fixJobRepo.Create(job); err != nil {
		return nil, err
	}

	msg := &queue.JobMessage{
		Kind:        queue.KindFix,
		AnalysisID:  analysis.ID,
		FixJobID:    job.ID,
		UserID:      userID,
		RepoURL:     analysis.RepoURL,
		RepoOwner:   analysis.RepoOwner,
		RepoName:    analysis.RepoName,
		AccessToken: req.AccessToken,
		AutoMerge:   req.AutoMerge,
	}
	if err := s.jobQueue.Push(ctx, msg); err != nil {
		now := time.Now()
		s.fixJobRepo.UpdateFields(job.ID, map[string]interface{}{
			"status":        model.FixStatusFailed,
			"message":       "任务入队失败",
			"error_message": err.Error(),
			"completed_at":  &now,
		})
		return nil, err
	}

	return &dto.TriggerFixResponse{
		JobID: job.ID,
	}, nil
}

// GetByID 获取修复任务详情
func (s *FixService) GetByID(jobID string) (*model.FixJob, error) {
	job, err := s.fixJobRepo.GetByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFixJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetLatestByAnalysisID 获取某次分析最近一次的修复任务
func (s *FixService) GetLatestByAnalysisID(analysisID string) (*model.FixJob, error) {
	job, err := s.fixJobRepo.GetLatestByAnalysisID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFixJobNotFound
		}
		return nil, err
	}
	return job, nil
}
