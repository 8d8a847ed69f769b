package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/agent_review_server/internal/model"
)

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(analysis *model.Analysis) error {
	return r.db.Create(analysis).Error
}

func (r *AnalysisRepository) GetByID(id string) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.Where("id = ?", id).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// UpdateFields 按字段部分更新。需要同时可见的字段组（状态+进度+消息）
// 必须由调用方放进同一次调用。
func (r *AnalysisRepository) UpdateFields(id string, fields map[string]interface{}) error {
	return r.db.Model(&model.Analysis{}).Where("id = ?", id).Updates(fields).Error
}

// 排序字段白名单，防止拼接注入
var analysisSortFields = map[string]string{
	"created_at":   "created_at",
	"completed_at": "completed_at",
	"repo_name":    "repo_name",
	"status":       "status",
}

// List 分页查询分析记录。userID 为 nil 时不限制归属。
func (r *AnalysisRepository) List(userID *int64, status, sortBy, order string, limit, offset int) ([]*model.Analysis, int64, error) {
	var analyses []*model.Analysis
	var total int64

	query := r.db.Model(&model.Analysis{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := analysisSortFields[sortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if order == "asc" {
		direction = "ASC"
	}

	err := query.Order(column + " " + direction).Offset(offset).Limit(limit).Find(&analyses).Error
	if err != nil {
		return nil, 0, err
	}

	return analyses, total, nil
}

// ListStale 查询超过阈值未更新的非终态记录，供巡检任务标记失败
func (r *AnalysisRepository) ListStale(updatedBefore time.Time) ([]*model.Analysis, error) {
	var analyses []*model.Analysis
	err := r.db.
		Where("status NOT IN ?", []string{model.StatusCompleted, model.StatusFailed}).
		Where("updated_at < ?", updatedBefore).
		Find(&analyses).Error
	return analyses, err
}

// ListLocalTranscripts 查询转录仍在本地、待补传 OSS 的记录
func (r *AnalysisRepository) ListLocalTranscripts() ([]*model.Analysis, error) {
	var analyses []*model.Analysis
	err := r.db.
		Where("transcript_url LIKE ?", "local://%").
		Find(&analyses).Error
	return analyses, err
}

func (r *AnalysisRepository) Delete(id string) error {
	return r.db.Delete(&model.Analysis{}, "id = ?", id).Error
}
