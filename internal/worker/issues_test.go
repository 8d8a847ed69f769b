package worker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/agent_review_server/internal/model"
)

func TestIdentifyHighImpactIssues_Nil(t *testing.T) {
	assert.Nil(t, IdentifyHighImpactIssues(nil))
}

func TestIdentifyHighImpactIssues_FiltersSeverity(t *testing.T) {
	result := &model.AIAnalysisResult{
		Security: []model.Finding{
			{Severity: "critical", Title: "sec-critical"},
			{Severity: "medium", Title: "sec-medium"},
			{Severity: "low", Title: "sec-low"},
		},
		Bugs: []model.Finding{
			{Severity: "high", Title: "bug-high"},
			{Severity: "medium", Title: "bug-medium"},
		},
	}

	issues := IdentifyHighImpactIssues(result)
	require.Len(t, issues, 2)
	assert.Equal(t, "sec-critical", issues[0].Title)
	assert.Equal(t, "bug-high", issues[1].Title)
}

func TestIdentifyHighImpactIssues_BugCap(t *testing.T) {
	result := &model.AIAnalysisResult{}
	for i := 0; i < 10; i++ {
		result.Bugs = append(result.Bugs, model.Finding{
			Severity: "high",
			Title:    fmt.Sprintf("bug-%d", i),
		})
	}

	issues := IdentifyHighImpactIssues(result)
	assert.Len(t, issues, maxBugIssues)
}

func TestIdentifyHighImpactIssues_SecurityNotCapped(t *testing.T) {
	result := &model.AIAnalysisResult{}
	for i := 0; i < 10; i++ {
		result.Security = append(result.Security, model.Finding{
			Severity: "high",
			Title:    fmt.Sprintf("sec-%d", i),
		})
	}

	issues := IdentifyHighImpactIssues(result)
	assert.Len(t, issues, 10)
}

func TestIdentifyHighImpactIssues_PriorityOrder(t *testing.T) {
	result := &model.AIAnalysisResult{
		Security: []model.Finding{
			{Severity: "high", Title: "sec-high"},
			{Severity: "critical", Title: "sec-critical"},
		},
		Bugs: []model.Finding{
			{Severity: "high", Title: "bug-high"},
			{Severity: "critical", Title: "bug-critical"},
		},
	}

	issues := IdentifyHighImpactIssues(result)
	require.Len(t, issues, 4)

	// critical（安全和 Bug）优先级 1，安全 high 为 2，Bug high 为 3
	assert.Equal(t, 1, issues[0].Priority)
	assert.Equal(t, 1, issues[1].Priority)
	assert.Equal(t, "sec-high", issues[2].Title)
	assert.Equal(t, "bug-high", issues[3].Title)
}

func TestIdentifyHighImpactIssues_StableWithinPriority(t *testing.T) {
	result := &model.AIAnalysisResult{
		Security: []model.Finding{
			{Severity: "critical", Title: "first"},
			{Severity: "critical", Title: "second"},
			{Severity: "critical", Title: "third"},
		},
	}

	issues := IdentifyHighImpactIssues(result)
	require.Len(t, issues, 3)
	assert.Equal(t, "first", issues[0].Title)
	assert.Equal(t, "second", issues[1].Title)
	assert.Equal(t, "third", issues[2].Title)
}

func TestIdentifyHighImpactIssues_FixableFlag(t *testing.T) {
	result := &model.AIAnalysisResult{
		Security: []model.Finding{
			{Severity: "high", Title: "with file", File: "a.go"},
			{Severity: "high", Title: "explicit", Fixable: true},
			{Severity: "high", Title: "neither"},
		},
	}

	issues := IdentifyHighImpactIssues(result)
	require.Len(t, issues, 3)
	assert.True(t, issues[0].Fixable)
	assert.True(t, issues[1].Fixable)
	assert.False(t, issues[2].Fixable)
}

func TestIdentifyHighImpactIssues_Empty(t *testing.T) {
	issues := IdentifyHighImpactIssues(&model.AIAnalysisResult{})
	assert.Empty(t, issues)
}
