package worker

import (
	"sort"

	"github.com/qs3c/agent_review_server/internal/model"
)

const maxBugIssues = 5

// IdentifyHighImpactIssues 从分析结果中筛选出值得自动修复的高影响问题。
//
// 规则:
//   - 安全问题取 critical/high 级别，全部保留;
//   - Bug 取 critical/high 级别，最多 5 条;
//   - 优先级: critical 安全=1，high 安全=2，critical Bug=1，high Bug=3;
//   - 排序稳定，同优先级保持原始顺序。
func IdentifyHighImpactIssues(result *model.AIAnalysisResult) []model.HighImpactIssue {
	if result == nil {
		return nil
	}

	var issues []model.HighImpactIssue

	for _, f := range result.Security {
		if f.Severity != "critical" && f.Severity != "high" {
			continue
		}
		priority := 2
		if f.Severity == "critical" {
			priority = 1
		}
		issues = append(issues, model.HighImpactIssue{
			ID:          model.GenerateID("issue"),
			Type:        model.IssueTypeSecurity,
			Severity:    f.Severity,
			Title:       f.Title,
			Description: f.Description,
			File:        f.File,
			Priority:    priority,
			Fixable:     f.Fixable || f.File != "",
		})
	}

	bugCount := 0
	for _, f := range result.Bugs {
		if f.Severity != "critical" && f.Severity != "high" {
			continue
		}
		if bugCount >= maxBugIssues {
			break
		}
		bugCount++
		priority := 3
		if f.Severity == "critical" {
			priority = 1
		}
		issues = append(issues, model.HighImpactIssue{
			ID:          model.GenerateID("issue"),
			Type:        model.IssueTypeBug,
			Severity:    f.Severity,
			Title:       f.Title,
			Description: f.Description,
			File:        f.File,
			Priority:    priority,
			Fixable:     f.Fixable || f.File != "",
		})
	}

	sort.SliceStable(issues, func(a, b int) bool {
		return issues[a].Priority < issues[b].Priority
	})

	return issues
}
