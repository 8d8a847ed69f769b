package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qs3c/agent_review_server/internal/model"
)

// Agent 是自由文本工具，输出没有结构契约。这里从全文里找出所有大括号
// 配平的候选 JSON，从后往前取第一个能解析且带有预期顶层键的对象——
// Agent 的最终回答通常在输出末尾，前面可能有草稿或半成品 JSON。

// ErrNoJSONFound 输出里没有任何大括号配平的候选
var ErrNoJSONFound = errors.New("Agent 输出中未找到 JSON 对象")

// MalformedJSONError 候选都无法解析
type MalformedJSONError struct {
	Excerpt string
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("Agent 输出的 JSON 无法解析: %s", truncate(e.Excerpt, 200))
}

// 接受候选需要的顶层标志键
var markerKeys = []string{"architecture", "codeQuality", "code_quality", "recommendations"}

// defaultScore 缺失评分时的中性默认值
const defaultScore = 75

// jsonCandidates 从左到右扫描，收集所有大括号配平的最大子串
func jsonCandidates(text string) []string {
	var candidates []string
	depth := 0
	start := -1

	for i, ch := range text {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, text[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}

// ExtractAnalysis 从 Agent 的自由文本输出中提取并归一化分析结果
func ExtractAnalysis(output string) (*model.AIAnalysisResult, error) {
	candidates := jsonCandidates(output)
	if len(candidates) == 0 {
		return nil, ErrNoJSONFound
	}

	// 从最后一个候选往前找：能解析且包含标志键的优先
	for i := len(candidates) - 1; i >= 0; i-- {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(candidates[i]), &raw); err != nil {
			continue
		}
		if hasMarkerKey(raw) {
			return normalizeAnalysis(raw), nil
		}
	}

	// 兜底：无条件尝试最后一个候选
	last := candidates[len(candidates)-1]
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(last), &raw); err != nil {
		return nil, &MalformedJSONError{Excerpt: last}
	}

	return normalizeAnalysis(raw), nil
}

func hasMarkerKey(raw map[string]interface{}) bool {
	for _, key := range markerKeys {
		if _, ok := raw[key]; ok {
			return true
		}
	}
	return false
}

// normalizeAnalysis 把各种键名变体归一化成统一结构。缺失字段给空集合，
// 缺失评分给中性默认值。
func normalizeAnalysis(raw map[string]interface{}) *model.AIAnalysisResult {
	result := &model.AIAnalysisResult{
		Architecture: model.ArchitectureResult{
			Strengths:  []string{},
			Weaknesses: []string{},
		},
		CodeQuality: model.CodeQualityResult{
			Score:  defaultScore,
			Issues: []string{},
		},
		Bugs:            []model.Finding{},
		Security:        []model.Finding{},
		Recommendations: []string{},
	}

	if arch, ok := raw["architecture"].(map[string]interface{}); ok {
		result.Architecture.Pattern = stringField(arch, "pattern", "style")
		result.Architecture.Strengths = stringSlice(arch["strengths"])
		result.Architecture.Weaknesses = stringSlice(arch["weaknesses"])
	}

	// codeQuality / code_quality / 裸 score 字段
	quality, ok := raw["codeQuality"].(map[string]interface{})
	if !ok {
		quality, ok = raw["code_quality"].(map[string]interface{})
	}
	if ok {
		if score, found := numberField(quality, "score"); found {
			result.CodeQuality.Score = clampScore(score)
		}
		result.CodeQuality.Issues = stringSlice(quality["issues"])
	} else if score, found := numberField(raw, "score"); found {
		result.CodeQuality.Score = clampScore(score)
	}

	result.Bugs = findingSlice(raw["bugs"])

	// security 可能直接是数组，也可能嵌在 assessment 对象的 vulnerabilities 里
	switch sec := raw["security"].(type) {
	case []interface{}:
		result.Security = findingSlice(sec)
	case map[string]interface{}:
		result.Security = findingSlice(sec["vulnerabilities"])
	}

	result.Recommendations = stringSlice(raw["recommendations"])

	return result
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func numberField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case string:
		var n float64
		if _, err := fmt.Sscanf(v, "%f", &n); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		case map[string]interface{}:
			// 有时 Agent 会输出 {description: ...} 形式的建议
			if desc := stringField(s, "description", "recommendation", "title"); desc != "" {
				out = append(out, desc)
			}
		}
	}
	return out
}

func findingSlice(v interface{}) []model.Finding {
	items, ok := v.([]interface{})
	if !ok {
		return []model.Finding{}
	}
	out := make([]model.Finding, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		finding := model.Finding{
			Severity:    strings.ToLower(stringField(m, "severity", "level")),
			Title:       stringField(m, "title", "issue", "name"),
			Description: stringField(m, "description", "detail", "details"),
			File:        stringField(m, "file", "path", "location"),
		}
		if fixable, ok := m["fixable"].(bool); ok {
			finding.Fixable = fixable
		} else {
			finding.Fixable = finding.File != ""
		}
		if finding.Title == "" && finding.Description == "" {
			continue
		}
		out = append(out, finding)
	}
	return out
}
