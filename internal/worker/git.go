package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CloneError 克隆错误，包含用户友好消息和原始错误
type CloneError struct {
	UserMessage string // 给用户看
	RawError    error  // 原始错误，写日志
}

func (e *CloneError) Error() string {
	return e.UserMessage
}

func (e *CloneError) Unwrap() error {
	return e.RawError
}

// PushError 推送错误，按 stderr 中的 HTTP 状态码分类
type PushError struct {
	UserMessage string
	RawError    error
}

func (e *PushError) Error() string {
	return e.UserMessage
}

func (e *PushError) Unwrap() error {
	return e.RawError
}

// classifyCloneError 根据 git 输出分类错误，返回用户提示
func classifyCloneError(stderr string, err error) *CloneError {
	lower := strings.ToLower(stderr + " " + err.Error())

	switch {
	case strings.Contains(lower, "404") ||
		strings.Contains(lower, "repository not found") ||
		strings.Contains(lower, "not found"):
		return &CloneError{
			UserMessage: "仓库不存在，请检查地址",
			RawError:    fmt.Errorf("%w, stderr: %s", err, stderr),
		}
	case strings.Contains(lower, "403") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "permission denied"):
		return &CloneError{
			UserMessage: "仓库访问被拒绝，请确认访问权限",
			RawError:    fmt.Errorf("%w, stderr: %s", err, stderr),
		}
	case strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded"):
		return &CloneError{
			UserMessage: "克隆超时，仓库可能过大或网络不稳定",
			RawError:    fmt.Errorf("%w, stderr: %s", err, stderr),
		}
	default:
		return &CloneError{
			UserMessage: "克隆仓库失败，请检查地址后重试",
			RawError:    fmt.Errorf("%w, stderr: %s", err, stderr),
		}
	}
}

// classifyPushError 根据 stderr 分类推送失败原因
func classifyPushError(stderr string, err error) *PushError {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "403"):
		return &PushError{
			UserMessage: "推送被拒绝，Token 缺少写权限",
			RawError:    fmt.Errorf("%w, stderr: %s", err, stderr),
		}
	case strings.Contains(lower, "404"):
		return &PushError{
			UserMessage: "推送失败，仓库不存在",
			RawError:    fmt.Errorf("%w, stderr: %s", err, stderr),
		}
	default:
		return &PushError{
			UserMessage: "推送失败，请稍后重试",
			RawError:    fmt.Errorf("%w, stderr: %s", err, stderr),
		}
	}
}

// GitClient 基于 Runner 的 git 命令封装
type GitClient struct {
	runner       *Runner
	bin          string // 测试时可替换为桩脚本
	botName      string
	botEmail     string
	cloneTimeout time.Duration
}

func NewGitClient(runner *Runner, botName, botEmail string, cloneTimeout time.Duration) *GitClient {
	if cloneTimeout <= 0 {
		cloneTimeout = 300 * time.Second
	}
	return &GitClient{
		runner:       runner,
		bin:          "git",
		botName:      botName,
		botEmail:     botEmail,
		cloneTimeout: cloneTimeout,
	}
}

// CloneInto 浅克隆仓库到指定目录。token 非空时用于私有仓库认证，
// 只出现在命令参数里，不进日志。
func (g *GitClient) CloneInto(ctx context.Context, dir, repoURL, token string) error {
	cloneURL := repoURL
	if token != "" {
		if authed, err := authenticatedURL(repoURL, token); err == nil {
			cloneURL = authed
		}
	}

	_, err := g.runner.Run(ctx, RunOptions{
		Name:    g.bin,
		Args:    []string{"clone", "--depth", "1", "--single-branch", cloneURL, dir},
		Timeout: g.cloneTimeout,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		if runErr, ok := err.(*RunError); ok {
			return classifyCloneError(runErr.Stderr, err)
		}
		return classifyCloneError("", err)
	}

	return nil
}

// ConfigureBotIdentity 在仓库内配置机器人提交身份
func (g *GitClient) ConfigureBotIdentity(ctx context.Context, dir string) error {
	if _, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"config", "user.name", g.botName}, Dir: dir,
	}); err != nil {
		return fmt.Errorf("failed to set bot name: %w", err)
	}
	if _, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"config", "user.email", g.botEmail}, Dir: dir,
	}); err != nil {
		return fmt.Errorf("failed to set bot email: %w", err)
	}
	return nil
}

// CreateBranch 创建并切换到新分支
func (g *GitClient) CreateBranch(ctx context.Context, dir, branch string) error {
	if _, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"checkout", "-b", branch}, Dir: dir,
	}); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	return nil
}

// CurrentBranch 返回当前分支名
func (g *GitClient) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"rev-parse", "--abbrev-ref", "HEAD"}, Dir: dir,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// CommitAll 暂存全部变更并提交。没有变更时返回 false。
func (g *GitClient) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	if _, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"add", "-A"}, Dir: dir,
	}); err != nil {
		return false, fmt.Errorf("git add failed: %w", err)
	}

	status, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"status", "--porcelain"}, Dir: dir,
	})
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}

	if _, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"commit", "-m", message}, Dir: dir,
	}); err != nil {
		return false, fmt.Errorf("git commit failed: %w", err)
	}

	return true, nil
}

// Push 用带 token 的远程地址推送分支
func (g *GitClient) Push(ctx context.Context, dir, repoURL, token, branch string) error {
	authed, err := authenticatedURL(repoURL, token)
	if err != nil {
		return fmt.Errorf("invalid repo url: %w", err)
	}

	if _, err := g.runner.Run(ctx, RunOptions{
		Name: g.bin, Args: []string{"remote", "set-url", "origin", authed}, Dir: dir,
	}); err != nil {
		return fmt.Errorf("failed to set remote url: %w", err)
	}

	_, err = g.runner.Run(ctx, RunOptions{
		Name:    g.bin,
		Args:    []string{"push", "-u", "origin", branch},
		Dir:     dir,
		Timeout: 2 * time.Minute,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		if runErr, ok := err.(*RunError); ok {
			return classifyPushError(runErr.Stderr, err)
		}
		return classifyPushError("", err)
	}

	return nil
}

// authenticatedURL 把 token 嵌入 https 仓库地址
func authenticatedURL(repoURL, token string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("only https urls support token auth")
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}

// ValidateRepoURL 验证仓库 URL 格式
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return fmt.Errorf("仓库地址不能为空")
	}

	if !strings.HasPrefix(repoURL, "https://") {
		return fmt.Errorf("仓库地址格式不正确，请使用 https:// 开头的地址")
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return fmt.Errorf("仓库地址格式不正确，请检查后重试")
	}

	if u.Host == "" {
		return fmt.Errorf("仓库地址缺少域名，请检查后重试")
	}

	// 路径至少需要 /owner/repo
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("仓库地址不完整，请提供完整的 用户名/仓库名 地址")
	}

	return nil
}
