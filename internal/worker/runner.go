package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// maxCapturedLines 单条流最多保留的行数，防止长时间运行的进程耗尽内存
const maxCapturedLines = 10000

// RunOptions 一次外部进程调用的参数
type RunOptions struct {
	Name    string
	Args    []string
	Dir     string
	Stdin   string // 非空时写入子进程标准输入
	Env     []string
	Timeout time.Duration
}

// RunError 外部进程失败，区分超时、启动失败和非零退出码
type RunError struct {
	Command     string
	ExitCode    int
	Stderr      string
	TimedOut    bool
	SpawnFailed bool
}

func (e *RunError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s timed out, stderr: %s", e.Command, truncate(e.Stderr, 500))
	case e.SpawnFailed:
		return fmt.Sprintf("failed to start %s: %s", e.Command, truncate(e.Stderr, 500))
	default:
		return fmt.Sprintf("%s exited with code %d, stderr: %s", e.Command, e.ExitCode, truncate(e.Stderr, 500))
	}
}

// Runner 外部进程执行器。流式捕获 stdout/stderr，超时强制结束进程。
type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Run 执行外部命令，返回捕获的 stdout。失败时 stdout 仍返回已捕获的部分，
// 调用方可据此实现"超时但已有输出"之类的降级策略。
func (r *Runner) Run(ctx context.Context, opts RunOptions) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...)
	// Agent 这类命令会派生孙进程。超时必须杀掉整个进程组，
	// 否则孙进程继续持有 stdout 管道，读取端永远等不到 EOF。
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == syscall.ESRCH {
			return os.ErrProcessDone
		}
		return err
	}
	// 进程组没杀干净时的兜底：到时强制关闭管道
	cmd.WaitDelay = 10 * time.Second
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &RunError{Command: opts.Name, SpawnFailed: true, Stderr: err.Error()}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &RunError{Command: opts.Name, SpawnFailed: true, Stderr: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return "", &RunError{Command: opts.Name, SpawnFailed: true, Stderr: err.Error()}
	}

	var mu sync.Mutex
	var stdoutLines, stderrLines []string

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			mu.Lock()
			if len(stdoutLines) < maxCapturedLines {
				stdoutLines = append(stdoutLines, scanner.Text())
			} else if len(stdoutLines) == maxCapturedLines {
				stdoutLines = append(stdoutLines, "[... output truncated ...]")
			}
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			mu.Lock()
			if len(stderrLines) < maxCapturedLines {
				stderrLines = append(stderrLines, scanner.Text())
			} else if len(stderrLines) == maxCapturedLines {
				stderrLines = append(stderrLines, "[... output truncated ...]")
			}
			mu.Unlock()
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()

	mu.Lock()
	outText := strings.Join(stdoutLines, "\n")
	errText := strings.Join(stderrLines, "\n")
	mu.Unlock()

	if ctx.Err() == context.DeadlineExceeded {
		// CommandContext 已经 kill 了进程
		return outText, &RunError{Command: opts.Name, TimedOut: true, Stderr: errText}
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return outText, &RunError{Command: opts.Name, ExitCode: exitCode, Stderr: errText}
	}

	return outText, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
