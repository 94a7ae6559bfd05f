package handler

import (
	"fmt"
	"log/slog"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

// similarPerPattern bounds the vector hits fetched per extracted pattern.
const similarPerPattern = 5

func (h *handlers) patternExtraction(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.PatternExtractionRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: pattern_extraction payload type %T", domain.ErrInternal, req)
	}
	lg := observability.LoggerFromContext(ctx)

	analysis, err := h.Analyzer.AnalyzeSemantic(ctx, r.Content, map[string]any{"source_path": r.SourcePath}, domain.AnalyzeOptions{
		Language:    r.Language,
		MaxPatterns: r.MaxPatterns,
	})
	if err != nil {
		return nil, nil, err
	}

	patterns := analysis.Patterns
	if r.MaxPatterns > 0 && len(patterns) > r.MaxPatterns {
		patterns = patterns[:r.MaxPatterns]
	}

	result := map[string]any{
		"source_path":   r.SourcePath,
		"patterns":      patterns,
		"pattern_count": len(patterns),
		"confidence":    analysis.Confidence,
	}

	// Similar-pattern enrichment is best-effort: embedding or search failure
	// degrades, it never fails the extraction.
	var degraded []string
	if len(patterns) == 0 {
		return result, nil, nil
	}
	if h.Embedder == nil || h.Vectors == nil {
		return result, append(degraded, "vector_search"), nil
	}

	vectors, err := h.Embedder.Embed(ctx, patterns)
	if err != nil {
		lg.Warn("pattern embedding degraded", slog.Any("error", err))
		return result, append(degraded, "embedding"), nil
	}

	seen := make(map[string]struct{})
	similar := make([]domain.VectorHit, 0, similarPerPattern)
	for _, vec := range vectors {
		sctx, cancel := h.storeCtx(ctx)
		hits, err := h.Vectors.Search(sctx, vec, map[string]any{"kind": "pattern"}, similarPerPattern)
		cancel()
		if err != nil {
			lg.Warn("similar pattern search degraded", slog.Any("error", err))
			degraded = append(degraded, "vector_search")
			break
		}
		for _, hit := range hits {
			if _, dup := seen[hit.ID]; dup {
				continue
			}
			seen[hit.ID] = struct{}{}
			similar = append(similar, hit)
		}
	}
	result["similar_patterns"] = similar
	return result, degraded, nil
}
