package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/pkg/github"
	"github.com/qs3c/agent_review_server/internal/pkg/pubsub"
	"github.com/qs3c/agent_review_server/internal/pkg/queue"
	"github.com/qs3c/agent_review_server/internal/repository"
)

// ErrNoFilesIdentified Agent 输出与问题清单都未能给出任何文件路径
var ErrNoFilesIdentified = errors.New("无法确定需要修改的文件")

// ErrAnalysisNotCompleted 引用的分析尚未完成
var ErrAnalysisNotCompleted = errors.New("分析尚未完成，无法发起修复")

// Fixer 自主修复任务处理器
type Fixer struct {
	fixJobRepo   *repository.FixJobRepository
	analysisRepo *repository.AnalysisRepository
	workspaces   *WorkspaceManager
	gitClient    *GitClient
	agent        *AgentRunner
	githubClient *github.Client
	publisher    *pubsub.Publisher
	cfg          *config.Config
}

func NewFixer(
	fixJobRepo *repository.FixJobRepository,
	analysisRepo *repository.AnalysisRepository,
	workspaces *WorkspaceManager,
	gitClient *GitClient,
	agent *AgentRunner,
	githubClient *github.Client,
	publisher *pubsub.Publisher,
	cfg *config.Config,
) *Fixer {
	return &Fixer{
		fixJobRepo:   fixJobRepo,
		analysisRepo: analysisRepo,
		workspaces:   workspaces,
		gitClient:    gitClient,
		agent:        agent,
		githubClient: githubClient,
		publisher:    publisher,
		cfg:          cfg,
	}
}

// Process 处理队列中的修复任务
func (f *Fixer) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := f.fixJobRepo.GetByID(msg.FixJobID)
	if err != nil {
		return fmt.Errorf("failed to get fix job: %w", err)
	}
	if job.Status == model.FixStatusCompleted || job.Status == model.FixStatusFailed {
		log.Printf("Fix %s: already %s, skipping", job.ID, job.Status)
		return nil
	}
	return f.run(ctx, job, msg.AccessToken, "")
}

// RunForAnalysis 分析完成后内联触发修复，复用已克隆的工作目录。
func (f *Fixer) RunForAnalysis(ctx context.Context, analysisID string, msg *queue.JobMessage, reuseDir string) error {
	job := &model.FixJob{
		ID:         model.GenerateID("fix"),
		AnalysisID: analysisID,
		UserID:     msg.UserID,
		RepoURL:    msg.RepoURL,
		RepoOwner:  msg.RepoOwner,
		RepoName:   msg.RepoName,
		Status:     model.FixStatusInitializing,
		TotalSteps: 7,
		AutoMerge:  msg.AutoMerge,
	}
	if err := f.fixJobRepo.Create(job); err != nil {
		return fmt.Errorf("failed to create fix job: %w", err)
	}
	return f.run(ctx, job, msg.AccessToken, reuseDir)
}

func (f *Fixer) run(ctx context.Context, job *model.FixJob, token, reuseDir string) error {
	var userID int64
	if job.UserID != nil {
		userID = *job.UserID
	}

	publishProgress := func(status string, errMsg string) {
		if err := f.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			Type:       "fix_progress",
			UserID:     userID,
			AnalysisID: job.AnalysisID,
			FixJobID:   job.ID,
			Status:     status,
			Progress:   pubsub.FixProgress[status],
			Step:       pubsub.FixStep[status],
			TotalSteps: job.TotalSteps,
			Message:    pubsub.FixMessages[status],
			Error:      errMsg,
		}); err != nil {
			log.Printf("Fix %s: failed to publish progress: %v", job.ID, err)
		}
	}

	setStage := func(status string) error {
		if err := f.fixJobRepo.UpdateFields(job.ID, map[string]interface{}{
			"status":       status,
			"progress":     pubsub.FixProgress[status],
			"current_step": pubsub.FixStep[status],
			"message":      pubsub.FixMessages[status],
		}); err != nil {
			return fmt.Errorf("failed to update fix stage: %w", err)
		}
		publishProgress(status, "")
		return nil
	}

	handleError := func(stage string, err error) error {
		log.Printf("Fix %s: failed at %s: %v", job.ID, stage, err)
		now := time.Now()
		if dbErr := f.fixJobRepo.UpdateFields(job.ID, map[string]interface{}{
			"status":        model.FixStatusFailed,
			"message":       "修复失败",
			"error_message": err.Error(),
			"completed_at":  &now,
		}); dbErr != nil {
			log.Printf("Fix %s: failed to persist failure: %v", job.ID, dbErr)
		}
		publishProgress(model.FixStatusFailed, err.Error())
		return err
	}

	if err := setStage(model.FixStatusInitializing); err != nil {
		return handleError(model.FixStatusInitializing, err)
	}

	analysis, err := f.analysisRepo.GetByID(job.AnalysisID)
	if err != nil {
		return handleError(model.FixStatusInitializing, fmt.Errorf("failed to get analysis: %w", err))
	}
	if analysis.Status != model.StatusCompleted || analysis.AIAnalysis == nil {
		return handleError(model.FixStatusInitializing, ErrAnalysisNotCompleted)
	}

	// Step 2: 筛选高影响问题
	if err := setStage(model.FixStatusAnalyzing); err != nil {
		return handleError(model.FixStatusAnalyzing, err)
	}
	issues := IdentifyHighImpactIssues(analysis.AIAnalysis)
	if err := f.fixJobRepo.UpdateFields(job.ID, map[string]interface{}{
		"high_impact_issues": model.IssueList(issues),
	}); err != nil {
		return handleError(model.FixStatusAnalyzing, fmt.Errorf("failed to save issues: %w", err))
	}

	// 没有可修复问题时直接完成，不做克隆、修复或 PR
	if len(issues) == 0 {
		log.Printf("Fix %s: no high-impact issues, completing", job.ID)
		now := time.Now()
		if err := f.fixJobRepo.UpdateFields(job.ID, map[string]interface{}{
			"status":       model.FixStatusCompleted,
			"progress":     100,
			"current_step": job.TotalSteps,
			"message":      "未发现需要修复的高影响问题",
			"completed_at": &now,
		}); err != nil {
			return handleError(model.FixStatusAnalyzing, fmt.Errorf("failed to complete fix job: %w", err))
		}
		publishProgress(model.FixStatusCompleted, "")
		return nil
	}

	// Step 3: 克隆（内联触发时复用分析已克隆的目录）
	if err := setStage(model.FixStatusCloning); err != nil {
		return handleError(model.FixStatusCloning, err)
	}
	workDir := reuseDir
	if workDir == "" {
		workDir, err = f.workspaces.Allocate(job.ID)
		if err != nil {
			return handleError(model.FixStatusCloning, fmt.Errorf("failed to allocate workspace: %w", err))
		}
		defer f.workspaces.Release(workDir)

		if err := f.gitClient.CloneInto(ctx, workDir, job.RepoURL, token); err != nil {
			return handleError(model.FixStatusCloning, err)
		}
	}

	baseBranch, err := f.gitClient.CurrentBranch(ctx, workDir)
	if err != nil {
		return handleError(model.FixStatusCloning, err)
	}

	// Step 4: Agent 修复
	if err := setStage(model.FixStatusFixing); err != nil {
		return handleError(model.FixStatusFixing, err)
	}
	output, err := f.agent.Run(ctx, workDir, buildFixPrompt(issues))
	if err != nil {
		return handleError(model.FixStatusFixing, err)
	}

	files := ParseModifiedFiles(output)
	if len(files) == 0 {
		// 退回问题清单里记录的文件路径
		for _, issue := range issues {
			if issue.File != "" {
				files = append(files, issue.File)
			}
		}
	}
	if len(files) == 0 {
		return handleError(model.FixStatusFixing, ErrNoFilesIdentified)
	}

	// Step 5: 提交
	if err := setStage(model.FixStatusCommitting); err != nil {
		return handleError(model.FixStatusCommitting, err)
	}
	if err := f.gitClient.ConfigureBotIdentity(ctx, workDir); err != nil {
		return handleError(model.FixStatusCommitting, err)
	}

	branch := fmt.Sprintf("ai-fix-%s", time.Now().Format("20060102-150405"))
	if err := f.gitClient.CreateBranch(ctx, workDir, branch); err != nil {
		return handleError(model.FixStatusCommitting, err)
	}
	if err := f.fixJobRepo.UpdateFields(job.ID, map[string]interface{}{
		"branch": branch,
	}); err != nil {
		return handleError(model.FixStatusCommitting, fmt.Errorf("failed to save branch: %w", err))
	}

	committed, err := f.gitClient.CommitAll(ctx, workDir, buildCommitMessage(issues))
	if err != nil {
		return handleError(model.FixStatusCommitting, err)
	}
	if !committed {
		return handleError(model.FixStatusCommitting, errors.New("Agent 未对仓库做出任何改动"))
	}

	// Step 6: 推送
	if err := setStage(model.FixStatusPushing); err != nil {
		return handleError(model.FixStatusPushing, err)
	}
	if err := f.gitClient.Push(ctx, workDir, job.RepoURL, token, branch); err != nil {
		return handleError(model.FixStatusPushing, err)
	}

	// Step 7: 创建 PR
	if err := setStage(model.FixStatusCreatingPR); err != nil {
		return handleError(model.FixStatusCreatingPR, err)
	}
	pr, err := f.githubClient.CreatePullRequest(ctx, token, job.RepoOwner, job.RepoName, &github.PullRequestRequest{
		Title: buildPRTitle(issues),
		Head:  branch,
		Base:  baseBranch,
		Body:  buildPRBody(issues, files),
	})
	if err != nil {
		return handleError(model.FixStatusCreatingPR, fmt.Errorf("failed to create pull request: %w", err))
	}

	now := time.Now()
	if err := f.fixJobRepo.UpdateFields(job.ID, map[string]interface{}{
		"status":         model.FixStatusCompleted,
		"progress":       100,
		"current_step":   job.TotalSteps,
		"message":        pubsub.FixMessages[model.FixStatusCompleted],
		"files_modified": model.StringArray(files),
		"pr_url":         pr.HTMLURL,
		"pr_number":      pr.Number,
		"completed_at":   &now,
	}); err != nil {
		return handleError(model.FixStatusCreatingPR, fmt.Errorf("failed to complete fix job: %w", err))
	}
	publishProgress(model.FixStatusCompleted, "")

	log.Printf("Fix %s: completed, pr=%s files=%d", job.ID, pr.HTMLURL, len(files))
	return nil
}

func countByType(issues []model.HighImpactIssue) (security, bugs int) {
	for _, issue := range issues {
		switch issue.Type {
		case model.IssueTypeSecurity:
			security++
		case model.IssueTypeBug:
			bugs++
		}
	}
	return security, bugs
}

func buildCommitMessage(issues []model.HighImpactIssue) string {
	security, bugs := countByType(issues)
	return fmt.Sprintf("fix: resolve %d security issue(s) and %d bug(s) found by automated review", security, bugs)
}

func buildPRTitle(issues []model.HighImpactIssue) string {
	security, bugs := countByType(issues)
	return fmt.Sprintf("Automated fixes: %d security issue(s), %d bug(s)", security, bugs)
}

func buildPRBody(issues []model.HighImpactIssue, files []string) string {
	body := "Automated fixes for high-impact issues found by code review.\n\n## Issues addressed\n"
	for _, issue := range issues {
		body += fmt.Sprintf("- **[%s/%s]** %s", issue.Type, issue.Severity, issue.Title)
		if issue.File != "" {
			body += fmt.Sprintf(" (`%s`)", issue.File)
		}
		body += "\n"
	}
	body += "\n## Files modified\n"
	for _, file := range files {
		body += fmt.Sprintf("- `%s`\n", file)
	}
	return body
}
