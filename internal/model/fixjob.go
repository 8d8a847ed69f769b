package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 自主修复任务状态
const (
	FixStatusInitializing = "initializing"
	FixStatusAnalyzing    = "analyzing"
	FixStatusCloning      = "cloning"
	FixStatusFixing       = "fixing"
	FixStatusCommitting   = "committing"
	FixStatusPushing      = "pushing"
	FixStatusCreatingPR   = "creating_pr"
	FixStatusCompleted    = "completed"
	FixStatusFailed       = "failed"
)

// 高影响问题类型
const (
	IssueTypeSecurity = "security"
	IssueTypeBug      = "bug"
)

// HighImpactIssue 被选为修复候选的 critical/high 级别发现。
// 每次触发修复任务时从已完成分析结果重新计算，创建后不再变更。
type HighImpactIssue struct {
	ID          string `json:"id"`
	Type        string `json:"type"` // security, bug
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	File        string `json:"file,omitempty"`
	Priority    int    `json:"priority"` // 数字越小越紧急
	Fixable     bool   `json:"fixable"`
}

// IssueList 用于 JSON 列的问题列表
type IssueList []HighImpactIssue

func (l IssueList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *IssueList) Scan(value interface{}) error {
	if value == nil {
		*l = IssueList{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, l)
}

// FixJob 自主修复任务，由一次已完成的分析触发
type FixJob struct {
	ID               string      `gorm:"primaryKey;size:64" json:"id"`
	AnalysisID       string      `gorm:"size:64;not null;index" json:"analysis_id"`
	UserID           *int64      `gorm:"index" json:"user_id,omitempty"`
	RepoURL          string      `gorm:"size:500;not null" json:"repo_url"`
	RepoName         string      `gorm:"size:200;not null" json:"repo_name"`
	RepoOwner        string      `gorm:"size:200;not null" json:"repo_owner"`
	Status           string      `gorm:"size:20;default:initializing;index" json:"status"`
	Progress         int         `gorm:"default:0" json:"progress"`
	CurrentStep      int         `gorm:"default:0" json:"current_step"`
	TotalSteps       int         `gorm:"default:7" json:"total_steps"`
	Message          string      `gorm:"size:500" json:"message"`
	HighImpactIssues IssueList   `gorm:"type:json" json:"high_impact_issues,omitempty"`
	FilesModified    StringArray `gorm:"type:json" json:"files_modified,omitempty"`
	Branch           string      `gorm:"size:200" json:"branch,omitempty"`
	PRURL            string      `gorm:"size:500" json:"pr_url,omitempty"`
	PRNumber         int         `json:"pr_number,omitempty"`
	AutoMerge        bool        `gorm:"default:false" json:"auto_merge"`
	ErrorMessage     string      `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt        time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

func (FixJob) TableName() string {
	return "autonomous_fix_jobs"
}
