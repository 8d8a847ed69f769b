package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/pkg/oss"
	"github.com/qs3c/agent_review_server/internal/pkg/pubsub"
	"github.com/qs3c/agent_review_server/internal/pkg/queue"
	"github.com/qs3c/agent_review_server/internal/repository"
)

// Processor 分析任务处理器
type Processor struct {
	analysisRepo *repository.AnalysisRepository
	workspaces   *WorkspaceManager
	gitClient    *GitClient
	agent        *AgentRunner
	ossClient    *oss.Client
	publisher    *pubsub.Publisher
	fixer        *Fixer
	cfg          *config.Config
}

// NewProcessor 创建分析任务处理器。ossClient 可为 nil，转录将保存到本地。
func NewProcessor(
	analysisRepo *repository.AnalysisRepository,
	workspaces *WorkspaceManager,
	gitClient *GitClient,
	agent *AgentRunner,
	ossClient *oss.Client,
	publisher *pubsub.Publisher,
	fixer *Fixer,
	cfg *config.Config,
) *Processor {
	return &Processor{
		analysisRepo: analysisRepo,
		workspaces:   workspaces,
		gitClient:    gitClient,
		agent:        agent,
		ossClient:    ossClient,
		publisher:    publisher,
		fixer:        fixer,
		cfg:          cfg,
	}
}

// Process 处理一条分析任务
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	analysis, err := p.analysisRepo.GetByID(msg.AnalysisID)
	if err != nil {
		return fmt.Errorf("failed to get analysis: %w", err)
	}
	if model.IsTerminal(analysis.Status) {
		log.Printf("Analysis %s: already %s, skipping", analysis.ID, analysis.Status)
		return nil
	}

	var userID int64
	if analysis.UserID != nil {
		userID = *analysis.UserID
	}

	// 最近一次落库的进度。失败事件带上它，订阅方看到的进度不回退。
	lastProgress := analysis.Progress

	// 进度推送辅助函数
	publishProgress := func(status string, progress, step int, message, errMsg string) {
		if err := p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			UserID:     userID,
			AnalysisID: analysis.ID,
			Status:     status,
			Progress:   progress,
			Step:       step,
			TotalSteps: analysis.TotalSteps,
			Message:    message,
			Error:      errMsg,
		}); err != nil {
			log.Printf("Analysis %s: failed to publish progress: %v", analysis.ID, err)
		}
	}

	// 阶段转移。状态、进度、步骤与消息必须在同一次写入中落库。
	setStage := func(stage string) error {
		status := stage
		if stage == pubsub.StageScoring {
			status = model.StatusAnalyzing
		}
		fields := map[string]interface{}{
			"status":       status,
			"progress":     pubsub.AnalysisProgress[stage],
			"current_step": pubsub.AnalysisStep[stage],
			"message":      pubsub.AnalysisMessages[stage],
		}
		if err := p.analysisRepo.UpdateFields(analysis.ID, fields); err != nil {
			return fmt.Errorf("failed to update analysis stage: %w", err)
		}
		lastProgress = pubsub.AnalysisProgress[stage]
		publishProgress(status, lastProgress, pubsub.AnalysisStep[stage],
			pubsub.AnalysisMessages[stage], "")
		return nil
	}

	// 失败处理。错误信息与终态同样一次写入。
	handleError := func(stage string, err error) error {
		log.Printf("Analysis %s: failed at %s: %v", analysis.ID, stage, err)
		now := time.Now()
		if dbErr := p.analysisRepo.UpdateFields(analysis.ID, map[string]interface{}{
			"status":        model.StatusFailed,
			"message":       "分析失败",
			"error_message": err.Error(),
			"completed_at":  &now,
		}); dbErr != nil {
			log.Printf("Analysis %s: failed to persist failure: %v", analysis.ID, dbErr)
		}
		publishProgress(model.StatusFailed, lastProgress, 0, "分析失败", err.Error())
		return err
	}

	workDir, err := p.workspaces.Allocate(analysis.ID)
	if err != nil {
		return handleError(model.StatusCloning, fmt.Errorf("failed to allocate workspace: %w", err))
	}
	defer p.workspaces.Release(workDir)

	// Step 1: 克隆
	log.Printf("Analysis %s: cloning %s", analysis.ID, analysis.RepoURL)
	if err := setStage(model.StatusCloning); err != nil {
		return handleError(model.StatusCloning, err)
	}
	if err := p.gitClient.CloneInto(ctx, workDir, analysis.RepoURL, msg.AccessToken); err != nil {
		return handleError(model.StatusCloning, err)
	}

	// Step 2: 结构扫描
	log.Printf("Analysis %s: scanning structure", analysis.ID)
	if err := setStage(model.StatusAnalyzing); err != nil {
		return handleError(model.StatusAnalyzing, err)
	}
	structure, err := ScanStructure(workDir)
	if err != nil {
		return handleError(model.StatusAnalyzing, fmt.Errorf("structure scan failed: %w", err))
	}
	if err := p.analysisRepo.UpdateFields(analysis.ID, map[string]interface{}{
		"structure": structure,
	}); err != nil {
		return handleError(model.StatusAnalyzing, fmt.Errorf("failed to save structure: %w", err))
	}

	// Step 3-5: Agent 评审
	log.Printf("Analysis %s: running agent review", analysis.ID)
	if err := setStage(model.StatusAIAnalyzing); err != nil {
		return handleError(model.StatusAIAnalyzing, err)
	}
	prompt := buildReviewPrompt(analysis.RepoOwner, analysis.RepoName, summarizeStructure(structure))
	output, err := p.agent.Run(ctx, workDir, prompt)
	if err != nil {
		return handleError(model.StatusAIAnalyzing, err)
	}

	transcriptURL := p.saveTranscript(analysis.ID, output)

	result, err := ExtractAnalysis(output)
	if err != nil {
		// 解析失败不终止任务，降级为中性结果并指向原始转录
		log.Printf("Analysis %s: extraction degraded: %v", analysis.ID, err)
		result = neutralResult(transcriptURL)
	}

	// Step 6: 评分
	log.Printf("Analysis %s: scoring", analysis.ID)
	if err := setStage(pubsub.StageScoring); err != nil {
		return handleError(model.StatusAnalyzing, err)
	}
	result.CodeQuality.Score = clampScore(result.CodeQuality.Score)
	result.CodeQuality.Grade = scoreToGrade(result.CodeQuality.Score)
	codeQuality := result.CodeQuality

	// 完成：结果、状态与完成时间一次写入
	now := time.Now()
	if err := p.analysisRepo.UpdateFields(analysis.ID, map[string]interface{}{
		"status":         model.StatusCompleted,
		"progress":       100,
		"current_step":   pubsub.AnalysisStep[model.StatusCompleted],
		"message":        pubsub.AnalysisMessages[model.StatusCompleted],
		"ai_analysis":    result,
		"code_quality":   &codeQuality,
		"transcript_url": transcriptURL,
		"completed_at":   &now,
	}); err != nil {
		return handleError(model.StatusAnalyzing, fmt.Errorf("failed to save result: %w", err))
	}
	publishProgress(model.StatusCompleted, 100, pubsub.AnalysisStep[model.StatusCompleted],
		pubsub.AnalysisMessages[model.StatusCompleted], "")

	log.Printf("Analysis %s: completed, score=%d grade=%s",
		analysis.ID, codeQuality.Score, codeQuality.Grade)

	// 启用自动修复时复用已克隆的工作目录，跳过重复克隆
	if msg.EnableAIFix && msg.AccessToken != "" && p.fixer != nil {
		if err := p.fixer.RunForAnalysis(ctx, analysis.ID, msg, workDir); err != nil {
			log.Printf("Analysis %s: inline fix failed: %v", analysis.ID, err)
		}
	}

	return nil
}

// saveTranscript 保存 Agent 原始输出。OSS 不可用时退回本地文件。
func (p *Processor) saveTranscript(analysisID, output string) string {
	if p.ossClient != nil {
		url, err := p.ossClient.UploadTranscript(analysisID, []byte(output))
		if err == nil {
			return url
		}
		log.Printf("Analysis %s: transcript upload failed, saving locally: %v", analysisID, err)
	}

	localDir := filepath.Join(p.cfg.Workspace.TempDir, "transcripts")
	if err := os.MkdirAll(localDir, 0755); err != nil {
		log.Printf("Analysis %s: failed to create transcript dir: %v", analysisID, err)
		return ""
	}
	localPath := filepath.Join(localDir, analysisID+".txt")
	if err := os.WriteFile(localPath, []byte(output), 0644); err != nil {
		log.Printf("Analysis %s: failed to save transcript locally: %v", analysisID, err)
		return ""
	}
	// 本地存储用特殊前缀标记，后台任务会择机补传
	return "local://" + analysisID
}

// neutralResult 解析失败时的兜底结果
func neutralResult(transcriptURL string) *model.AIAnalysisResult {
	pointer := "AI 输出无法解析为结构化结果"
	if transcriptURL != "" {
		pointer = fmt.Sprintf("AI 输出无法解析为结构化结果，原始转录: %s", transcriptURL)
	}
	return &model.AIAnalysisResult{
		CodeQuality: model.CodeQualityResult{
			Score: defaultScore,
		},
		Recommendations: []string{pointer},
	}
}

// scoreToGrade 分数转等级
func scoreToGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
