package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/agent_review_server/internal/model"
)

const (
	ChannelAnalysisProgress = "analysis_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	AnalysisID string `json:"analysis_id"`
	FixJobID   string `json:"fix_job_id,omitempty"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StageScoring 评分阶段。持久化状态仍为 analyzing，仅进度与消息不同。
const StageScoring = "scoring"

// 分析各阶段对应的进度百分比
var AnalysisProgress = map[string]int{
	model.StatusPending:     0,
	model.StatusCloning:     15,
	model.StatusAnalyzing:   30,
	model.StatusAIAnalyzing: 75,
	StageScoring:            90,
	model.StatusCompleted:   100,
}

// 分析各阶段对应的步骤序号（共 6 步）
var AnalysisStep = map[string]int{
	model.StatusPending:     0,
	model.StatusCloning:     1,
	model.StatusAnalyzing:   2,
	model.StatusAIAnalyzing: 5,
	StageScoring:            6,
	model.StatusCompleted:   6,
}

// 分析各阶段对应的消息
var AnalysisMessages = map[string]string{
	model.StatusPending:     "等待处理",
	model.StatusCloning:     "正在克隆仓库",
	model.StatusAnalyzing:   "正在扫描项目结构",
	model.StatusAIAnalyzing: "正在进行 AI 代码评审",
	StageScoring:            "正在计算质量评分",
	model.StatusCompleted:   "分析完成",
}

// 修复任务各状态对应的进度百分比
var FixProgress = map[string]int{
	model.FixStatusInitializing: 5,
	model.FixStatusAnalyzing:    15,
	model.FixStatusCloning:      30,
	model.FixStatusFixing:       60,
	model.FixStatusCommitting:   75,
	model.FixStatusPushing:      85,
	model.FixStatusCreatingPR:   95,
	model.FixStatusCompleted:    100,
}

// 修复任务各状态对应的步骤序号（共 7 步）
var FixStep = map[string]int{
	model.FixStatusInitializing: 1,
	model.FixStatusAnalyzing:    2,
	model.FixStatusCloning:      3,
	model.FixStatusFixing:       4,
	model.FixStatusCommitting:   5,
	model.FixStatusPushing:      6,
	model.FixStatusCreatingPR:   7,
	model.FixStatusCompleted:    7,
}

// 修复任务各状态对应的消息
var FixMessages = map[string]string{
	model.FixStatusInitializing: "正在初始化修复任务",
	model.FixStatusAnalyzing:    "正在筛选高影响问题",
	model.FixStatusCloning:      "正在克隆仓库",
	model.FixStatusFixing:       "Agent 正在修复问题",
	model.FixStatusCommitting:   "正在提交改动",
	model.FixStatusPushing:      "正在推送分支",
	model.FixStatusCreatingPR:   "正在创建 Pull Request",
	model.FixStatusCompleted:    "修复完成",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	if msg.Type == "" {
		msg.Type = "analysis_progress"
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelAnalysisProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAnalysisProgress)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
