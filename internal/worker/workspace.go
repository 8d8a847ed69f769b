package worker

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// 目录遍历时跳过的构建产物/依赖目录
var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"dist":         {},
	"build":        {},
	"vendor":       {},
	"target":       {},
	"__pycache__":  {},
	".next":        {},
	"coverage":     {},
}

// WorkspaceManager 为每个任务分配独占的临时目录，并保证最终被清理
type WorkspaceManager struct {
	root string
}

func NewWorkspaceManager(root string) *WorkspaceManager {
	if root == "" {
		root = filepath.Join(os.TempDir(), "agent_review")
	}
	return &WorkspaceManager{root: root}
}

// Allocate 为任务创建全新的临时目录
func (m *WorkspaceManager) Allocate(jobID string) (string, error) {
	path := filepath.Join(m.root, jobID)

	// 残留目录先清掉，保证目录独占
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("failed to clean existing workspace: %w", err)
		}
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	return path, nil
}

// Release 递归删除任务目录。尽力而为：失败只记日志，绝不让清理失败
// 影响任务本身的终态。
func (m *WorkspaceManager) Release(path string) {
	if path == "" {
		return
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		log.Printf("Workspace release: failed to resolve %s: %v", path, err)
		return
	}

	absRoot, err := filepath.Abs(m.root)
	if err != nil || !strings.HasPrefix(absPath, absRoot) {
		log.Printf("Workspace release: refusing to delete outside root: %s", absPath)
		return
	}

	if err := os.RemoveAll(absPath); err != nil {
		log.Printf("Workspace release: failed to delete %s: %v", absPath, err)
	}
}

// Root 返回工作区根目录
func (m *WorkspaceManager) Root() string {
	return m.root
}

// WalkFiles 枚举仓库下的所有文件，跳过构建产物目录，单个条目的
// 读错误跳过不中断
func WalkFiles(root string, fn func(path string, info os.FileInfo)) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 读失败的条目直接跳过
		}
		if info.IsDir() {
			if _, skip := skipDirs[info.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		fn(path, info)
		return nil
	})
}
