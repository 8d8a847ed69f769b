package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 任务类型
const (
	KindAnalysis = "analysis"
	KindFix      = "fix"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

// JobMessage 队列中的任务消息，Kind 决定由哪个工作流处理
type JobMessage struct {
	Kind        string `json:"kind"`
	AnalysisID  string `json:"analysis_id"`
	FixJobID    string `json:"fix_job_id,omitempty"`
	UserID      *int64 `json:"user_id,omitempty"`
	RepoURL     string `json:"repo_url"`
	RepoOwner   string `json:"repo_owner"`
	RepoName    string `json:"repo_name"`
	AccessToken string `json:"access_token,omitempty"`
	EnableAIFix bool   `json:"enable_ai_fix,omitempty"`
	AutoMerge   bool   `json:"auto_merge,omitempty"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
