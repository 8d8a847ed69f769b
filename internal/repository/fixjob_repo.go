package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/agent_review_server/internal/model"
)

type FixJobRepository struct {
	db *gorm.DB
}

func NewFixJobRepository(db *gorm.DB) *FixJobRepository {
	return &FixJobRepository{db: db}
}

func (r *FixJobRepository) Create(job *model.FixJob) error {
	return r.db.Create(job).Error
}

func (r *FixJobRepository) GetByID(id string) (*model.FixJob, error) {
	var job model.FixJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetLatestByAnalysisID 获取某次分析最近的修复任务
func (r *FixJobRepository) GetLatestByAnalysisID(analysisID string) (*model.FixJob, error) {
	var job model.FixJob
	err := r.db.Where("analysis_id = ?", analysisID).Order("created_at DESC").First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateFields 按字段部分更新，语义同 AnalysisRepository.UpdateFields
func (r *FixJobRepository) UpdateFields(id string, fields map[string]interface{}) error {
	return r.db.Model(&model.FixJob{}).Where("id = ?", id).Updates(fields).Error
}

// ListStale 查询超过阈值未更新的非终态修复任务
func (r *FixJobRepository) ListStale(updatedBefore time.Time) ([]*model.FixJob, error) {
	var jobs []*model.FixJob
	err := r.db.
		Where("status NOT IN ?", []string{model.FixStatusCompleted, model.FixStatusFailed}).
		Where("updated_at < ?", updatedBefore).
		Find(&jobs).Error
	return jobs, err
}
