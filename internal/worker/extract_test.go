package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAnalysis_PlainJSON(t *testing.T) {
	output := `{
		"architecture": {"pattern": "MVC", "strengths": ["clear layering"], "weaknesses": ["fat controllers"]},
		"codeQuality": {"score": 82, "issues": ["long functions"]},
		"bugs": [{"severity": "high", "title": "nil deref", "file": "main.go"}],
		"security": [{"severity": "critical", "title": "SQL injection", "file": "db.go"}],
		"recommendations": ["add tests"]
	}`

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	assert.Equal(t, "MVC", result.Architecture.Pattern)
	assert.Equal(t, 82, result.CodeQuality.Score)
	require.Len(t, result.Bugs, 1)
	assert.Equal(t, "nil deref", result.Bugs[0].Title)
	require.Len(t, result.Security, 1)
	assert.Equal(t, "critical", result.Security[0].Severity)
	assert.Equal(t, []string{"add tests"}, result.Recommendations)
}

func TestExtractAnalysis_SurroundedByProse(t *testing.T) {
	output := "I reviewed the repository. Here is my assessment:\n\n" +
		`{"codeQuality": {"score": 70}, "recommendations": ["simplify config"]}` +
		"\n\nLet me know if you need details."

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	assert.Equal(t, 70, result.CodeQuality.Score)
	assert.Equal(t, []string{"simplify config"}, result.Recommendations)
}

func TestExtractAnalysis_LastCandidateWins(t *testing.T) {
	// Agent 先输出了一个草稿对象，最终回答在末尾
	output := `Draft: {"codeQuality": {"score": 10}, "recommendations": []}` +
		"\nAfter more analysis my final answer:\n" +
		`{"codeQuality": {"score": 88}, "recommendations": ["looks good"]}`

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	assert.Equal(t, 88, result.CodeQuality.Score)
}

func TestExtractAnalysis_SkipsUnparseableTrailingFragment(t *testing.T) {
	// 末尾是无法解析的配平片段，应回退到前面带标志键的对象
	output := `{"codeQuality": {"score": 65}, "bugs": [], "security": [], "recommendations": []}` +
		"\nnote: {broken json}"

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	assert.Equal(t, 65, result.CodeQuality.Score)
}

func TestExtractAnalysis_NoJSON(t *testing.T) {
	_, err := ExtractAnalysis("The repository looks fine overall. No structured output.")
	assert.ErrorIs(t, err, ErrNoJSONFound)
}

func TestExtractAnalysis_MalformedOnly(t *testing.T) {
	_, err := ExtractAnalysis(`{this is not valid json}`)

	var malformed *MalformedJSONError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Error(), "无法解析")
}

func TestExtractAnalysis_SnakeCaseQuality(t *testing.T) {
	output := `{"code_quality": {"score": 91, "issues": ["a"]}, "recommendations": []}`

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	assert.Equal(t, 91, result.CodeQuality.Score)
	assert.Equal(t, []string{"a"}, result.CodeQuality.Issues)
}

func TestExtractAnalysis_NestedSecurityVulnerabilities(t *testing.T) {
	output := `{
		"codeQuality": {"score": 60},
		"security": {"vulnerabilities": [{"severity": "HIGH", "title": "weak hash"}]},
		"recommendations": []
	}`

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	require.Len(t, result.Security, 1)
	assert.Equal(t, "high", result.Security[0].Severity)
}

func TestExtractAnalysis_ScoreClamping(t *testing.T) {
	tests := []struct {
		name  string
		score string
		want  int
	}{
		{"above range", "150", 100},
		{"below range", "-20", 0},
		{"in range", "55", 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := `{"codeQuality": {"score": ` + tt.score + `}, "recommendations": []}`
			result, err := ExtractAnalysis(output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.CodeQuality.Score)
		})
	}
}

func TestExtractAnalysis_MissingScoreDefaults(t *testing.T) {
	output := `{"architecture": {"pattern": "monolith"}, "recommendations": []}`

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	assert.Equal(t, defaultScore, result.CodeQuality.Score)
	// 缺失的集合字段给空集合而不是 nil
	assert.NotNil(t, result.Bugs)
	assert.NotNil(t, result.Security)
	assert.NotNil(t, result.Recommendations)
}

func TestExtractAnalysis_FixableInference(t *testing.T) {
	output := `{
		"codeQuality": {"score": 50},
		"bugs": [
			{"severity": "high", "title": "with file", "file": "a.go"},
			{"severity": "high", "title": "without file"},
			{"severity": "high", "title": "explicit", "file": "b.go", "fixable": false}
		],
		"recommendations": []
	}`

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	require.Len(t, result.Bugs, 3)
	assert.True(t, result.Bugs[0].Fixable)
	assert.False(t, result.Bugs[1].Fixable)
	assert.False(t, result.Bugs[2].Fixable)
}

func TestExtractAnalysis_DropsEmptyFindings(t *testing.T) {
	output := `{
		"codeQuality": {"score": 50},
		"bugs": [{"severity": "high"}, {"severity": "high", "title": "real"}],
		"recommendations": []
	}`

	result, err := ExtractAnalysis(output)
	require.NoError(t, err)
	require.Len(t, result.Bugs, 1)
	assert.Equal(t, "real", result.Bugs[0].Title)
}

func TestJSONCandidates_Balanced(t *testing.T) {
	text := `before {"a": {"b": 1}} middle {"c": 2} after`
	candidates := jsonCandidates(text)
	require.Len(t, candidates, 2)
	assert.Equal(t, `{"a": {"b": 1}}`, candidates[0])
	assert.Equal(t, `{"c": 2}`, candidates[1])
}

func TestJSONCandidates_UnbalancedIgnored(t *testing.T) {
	candidates := jsonCandidates(`{"a": 1`)
	assert.Empty(t, candidates)
}
