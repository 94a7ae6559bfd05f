package handler

import (
	"fmt"
	"log/slog"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

func (h *handlers) comprehensiveAnalysis(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.ComprehensiveAnalysisRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: comprehensive_analysis payload type %T", domain.ErrInternal, req)
	}
	lg := observability.LoggerFromContext(ctx)

	// Entity extraction is the one mandatory step; its failure fails the
	// operation with its own class.
	analysis, err := h.Analyzer.AnalyzeSemantic(ctx, r.Content, r.Context, domain.AnalyzeOptions{Language: r.Language})
	if err != nil {
		return nil, nil, err
	}

	result := map[string]any{
		"source_path": r.SourcePath,
		"entities":    analysis.Entities,
		"summary":     analysis.Summary,
		"confidence":  analysis.Confidence,
	}
	var degraded []string

	if r.IncludeEmbeddings {
		switch {
		case h.Embedder == nil:
			degraded = append(degraded, "embeddings")
		default:
			texts := entityNames(analysis.Entities)
			if len(texts) == 0 {
				texts = []string{analysis.Summary}
			}
			vectors, err := h.Embedder.Embed(ctx, texts)
			if err != nil {
				lg.Warn("embedding enrichment degraded", slog.Any("error", err))
				degraded = append(degraded, "embeddings")
			} else {
				result["embedding_count"] = len(vectors)
				result["embedding_dim"] = dim(vectors)
			}
		}
	}

	if r.IncludeRelationships {
		relationships := analysis.Relationships
		if len(relationships) == 0 {
			// The semantic pass found none; try the structural extractor.
			extra, err := h.Analyzer.ExtractDocument(ctx, r.Content, domain.AnalyzeOptions{Language: r.Language})
			if err != nil {
				lg.Warn("relationship extraction degraded", slog.Any("error", err))
				degraded = append(degraded, "relationships")
			} else {
				relationships = extra.Relationships
			}
		}
		result["relationships"] = relationships
	}

	return result, degraded, nil
}

func entityNames(entities []domain.Entity) []string {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names
}

func dim(vectors [][]float32) int {
	if len(vectors) == 0 {
		return 0
	}
	return len(vectors[0])
}
