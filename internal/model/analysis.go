package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 分析任务状态
const (
	StatusPending     = "pending"
	StatusCloning     = "cloning"
	StatusAnalyzing   = "analyzing"
	StatusAIAnalyzing = "ai_analyzing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// IsTerminal 是否为终态
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, s)
}

// StructureResult 仓库结构扫描结果
type StructureResult struct {
	TotalFiles int            `json:"total_files"`
	TotalDirs  int            `json:"total_dirs"`
	TotalBytes int64          `json:"total_bytes"`
	Languages  map[string]int `json:"languages"`          // 扩展名 -> 文件数
	TopDirs    []string       `json:"top_dirs,omitempty"` // 根目录下的主要目录
}

func (r StructureResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *StructureResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// CodeQualityResult 代码质量评分
type CodeQualityResult struct {
	Score  int      `json:"score"` // 0-100
	Grade  string   `json:"grade"` // A-F
	Issues []string `json:"issues,omitempty"`
}

func (r CodeQualityResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *CodeQualityResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// Finding 一条 AI 发现（bug 或安全问题）
type Finding struct {
	Severity    string `json:"severity"` // critical, high, medium, low
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	File        string `json:"file,omitempty"`
	Fixable     bool   `json:"fixable,omitempty"`
}

// ArchitectureResult 架构评估
type ArchitectureResult struct {
	Pattern    string   `json:"pattern"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// AIAnalysisResult Agent 输出归一化后的统一结构
type AIAnalysisResult struct {
	Architecture    ArchitectureResult `json:"architecture"`
	CodeQuality     CodeQualityResult  `json:"code_quality"`
	Bugs            []Finding          `json:"bugs"`
	Security        []Finding          `json:"security"`
	Recommendations []string           `json:"recommendations"`
}

func (r AIAnalysisResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *AIAnalysisResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
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
	return json.Unmarshal(bytes, dest)
}

// Analysis 一次仓库分析任务，ID 为创建时生成的不透明字符串
type Analysis struct {
	ID            string             `gorm:"primaryKey;size:64" json:"id"`
	UserID        *int64             `gorm:"index" json:"user_id,omitempty"` // 可空，允许匿名分析
	RepoURL       string             `gorm:"size:500;not null" json:"repo_url"`
	RepoName      string             `gorm:"size:200;not null" json:"repo_name"`
	RepoOwner     string             `gorm:"size:200;not null" json:"repo_owner"`
	Status        string             `gorm:"size:20;default:pending;index" json:"status"`
	Progress      int                `gorm:"default:0" json:"progress"` // 0-100
	CurrentStep   int                `gorm:"default:0" json:"current_step"`
	TotalSteps    int                `gorm:"default:6" json:"total_steps"`
	Message       string             `gorm:"size:500" json:"message"`
	Structure     *StructureResult   `gorm:"type:json" json:"structure,omitempty"`
	CodeQuality   *CodeQualityResult `gorm:"type:json" json:"code_quality,omitempty"`
	AIAnalysis    *AIAnalysisResult  `gorm:"type:json" json:"ai_analysis,omitempty"`
	TranscriptURL string             `gorm:"size:500" json:"transcript_url,omitempty"`
	ErrorMessage  string             `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time          `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	CompletedAt   *time.Time         `gorm:"index" json:"completed_at,omitempty"`
}

func (Analysis) TableName() string {
	return "analyses"
}
