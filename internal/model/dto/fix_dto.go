package dto

// TriggerFixRequest 触发自主修复请求
type TriggerFixRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
	AutoMerge   bool   `json:"auto_merge,omitempty"`
}

// TriggerFixResponse 触发自主修复响应
type TriggerFixResponse struct {
	JobID string `json:"job_id"`
}
