package handler

import (
	"fmt"
	"strings"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/pkg/textx"
)

// longFunctionLines is the body-length threshold of the long-function
// heuristic.
const longFunctionLines = 50

// qualityMetrics are the locally-computed source metrics; the analyzer adds
// semantic findings on top.
type qualityMetrics struct {
	Lines          int     `json:"lines"`
	CommentDensity float64 `json:"comment_density"`
	TODOCount      int     `json:"todo_count"`
	LongFunctions  int     `json:"long_functions"`
	Score          float64 `json:"score"`
}

func (h *handlers) qualityAssessment(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.QualityAssessmentRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: quality_assessment payload type %T", domain.ErrInternal, req)
	}

	content := textx.SanitizeText(r.Content)
	metrics := measureQuality(content)

	analysis, err := h.Analyzer.AnalyzeSemantic(ctx, content, map[string]any{"source_path": r.SourcePath}, domain.AnalyzeOptions{
		Language: r.Language,
		Extra:    r.Options,
	})
	if err != nil {
		return nil, nil, err
	}

	findings := make([]map[string]any, 0, 4)
	if metrics.TODOCount > 0 {
		findings = append(findings, map[string]any{
			"kind":    "todo_markers",
			"message": fmt.Sprintf("%d TODO/FIXME markers", metrics.TODOCount),
		})
	}
	if metrics.LongFunctions > 0 {
		findings = append(findings, map[string]any{
			"kind":    "long_functions",
			"message": fmt.Sprintf("%d functions longer than %d lines", metrics.LongFunctions, longFunctionLines),
		})
	}
	if metrics.CommentDensity < 0.02 && metrics.Lines > 30 {
		findings = append(findings, map[string]any{
			"kind":    "sparse_comments",
			"message": "comment density below 2%",
		})
	}
	for _, p := range analysis.Patterns {
		findings = append(findings, map[string]any{"kind": "pattern", "message": p})
	}

	return map[string]any{
		"source_path":   r.SourcePath,
		"quality_score": metrics.Score,
		"metrics":       metrics,
		"findings":      findings,
		"entities":      analysis.Entities,
		"summary":       analysis.Summary,
		"confidence":    analysis.Confidence,
	}, nil, nil
}

// measureQuality computes the local heuristics. Language-agnostic on purpose:
// comment and function detection cover the common prefixes only.
func measureQuality(content string) qualityMetrics {
	lines := strings.Split(content, "\n")
	m := qualityMetrics{Lines: len(lines)}

	comments := 0
	funcBody := 0
	inFunc := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "//"), strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "--"):
			comments++
		}
		upper := strings.ToUpper(trimmed)
		if strings.Contains(upper, "TODO") || strings.Contains(upper, "FIXME") {
			m.TODOCount++
		}
		if isFunctionStart(trimmed) {
			if inFunc && funcBody > longFunctionLines {
				m.LongFunctions++
			}
			inFunc = true
			funcBody = 0
			continue
		}
		if inFunc {
			funcBody++
		}
	}
	if inFunc && funcBody > longFunctionLines {
		m.LongFunctions++
	}
	if m.Lines > 0 {
		m.CommentDensity = float64(comments) / float64(m.Lines)
	}

	score := 1.0
	score -= minf(0.3, float64(m.TODOCount)*0.02)
	score -= minf(0.3, float64(m.LongFunctions)*0.05)
	if m.CommentDensity < 0.02 && m.Lines > 30 {
		score -= 0.1
	}
	if score < 0 {
		score = 0
	}
	m.Score = score
	return m
}

func isFunctionStart(line string) bool {
	return strings.HasPrefix(line, "func ") ||
		strings.HasPrefix(line, "def ") ||
		strings.HasPrefix(line, "function ") ||
		strings.HasPrefix(line, "fn ")
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
