package dto

// CreateAnalysisRequest 创建分析请求
type CreateAnalysisRequest struct {
	RepoURL     string `json:"repo_url" binding:"required,max=500"`
	RepoName    string `json:"repo_name" binding:"required,max=200"`
	RepoOwner   string `json:"repo_owner" binding:"required,max=200"`
	EnableAIFix bool   `json:"enable_ai_fix,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// CreateAnalysisResponse 创建分析响应
type CreateAnalysisResponse struct {
	AnalysisID string `json:"analysis_id"`
}

// ProgressInfo 进度快照中的进度部分
type ProgressInfo struct {
	Percentage  int    `json:"percentage"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Message     string `json:"message"`
}

// AnalysisProgressResponse 轮询进度响应
type AnalysisProgressResponse struct {
	AnalysisID  string        `json:"analysis_id"`
	Status      string        `json:"status"`
	Progress    ProgressInfo  `json:"progress"`
	CodeQuality *CodeQuality  `json:"code_quality,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// CodeQuality 进度/列表中的质量摘要
type CodeQuality struct {
	Score int    `json:"score"`
	Grade string `json:"grade"`
}

// AnalysisListItem 历史列表项
type AnalysisListItem struct {
	ID          string       `json:"id"`
	RepoName    string       `json:"repo_name"`
	RepoOwner   string       `json:"repo_owner"`
	Status      string       `json:"status"`
	Progress    int          `json:"progress"`
	CodeQuality *CodeQuality `json:"code_quality,omitempty"`
	CreatedAt   string       `json:"created_at"`
	CompletedAt string       `json:"completed_at,omitempty"`
}

// StreamEvent SSE 推送的事件体
type StreamEvent struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}
