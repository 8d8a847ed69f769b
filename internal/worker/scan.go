package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qs3c/agent_review_server/internal/model"
)

// ScanStructure 扫描克隆下来的仓库，统计文件、目录和语言分布。
// 结果同时作为分析结果的一部分和 Agent 评审提示词的上下文。
func ScanStructure(root string) (*model.StructureResult, error) {
	result := &model.StructureResult{
		Languages: make(map[string]int),
	}

	dirSeen := make(map[string]struct{})

	err := WalkFiles(root, func(path string, info os.FileInfo) {
		result.TotalFiles++
		result.TotalBytes += info.Size()

		if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
			result.Languages[ext]++
		}

		if rel, err := filepath.Rel(root, path); err == nil {
			if dir, _, ok := strings.Cut(rel, string(filepath.Separator)); ok {
				dirSeen[dir] = struct{}{}
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}

	for dir := range dirSeen {
		result.TopDirs = append(result.TopDirs, dir)
	}
	sort.Strings(result.TopDirs)
	result.TotalDirs = len(result.TopDirs)

	return result, nil
}

// summarizeStructure 生成给 Agent 提示词用的结构摘要
func summarizeStructure(s *model.StructureResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Files: %d, top-level dirs: %s\n", s.TotalFiles, strings.Join(s.TopDirs, ", "))

	type langCount struct {
		ext   string
		count int
	}
	langs := make([]langCount, 0, len(s.Languages))
	for ext, count := range s.Languages {
		langs = append(langs, langCount{ext, count})
	}
	sort.Slice(langs, func(i, j int) bool {
		if langs[i].count != langs[j].count {
			return langs[i].count > langs[j].count
		}
		return langs[i].ext < langs[j].ext
	})
	if len(langs) > 8 {
		langs = langs[:8]
	}

	b.WriteString("Languages:")
	for _, l := range langs {
		fmt.Fprintf(&b, " %s=%d", l.ext, l.count)
	}

	return b.String()
}
