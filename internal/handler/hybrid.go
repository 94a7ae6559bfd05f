package handler

import (
	"fmt"
	"log/slog"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/scoring"
)

func (h *handlers) hybridScore(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.HybridScoreRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: hybrid_score payload type %T", domain.ErrInternal, req)
	}

	keywords := r.Pattern.Keywords
	meta := r.Pattern.Metadata
	var degraded []string

	// A pattern_id reference resolves keywords and score dimensions from the
	// pattern store; inline request fields still win where set.
	if r.Pattern.PatternID != "" && len(keywords) == 0 {
		stored, err := h.lookupPattern(ctx, r.Pattern.PatternID)
		switch {
		case err != nil:
			observability.LoggerFromContext(ctx).Warn("pattern lookup degraded, scoring with defaults",
				slog.String("pattern_id", r.Pattern.PatternID),
				slog.Any("error", err))
			degraded = append(degraded, "pattern_lookup")
		case stored == nil:
			return nil, nil, fmt.Errorf("%w: pattern %q not found", domain.ErrInvalidInput, r.Pattern.PatternID)
		default:
			keywords = stored.Keywords
			if meta.QualityScore == nil {
				meta.QualityScore = &stored.QualityScore
			}
			if meta.SuccessRate == nil {
				meta.SuccessRate = &stored.SuccessRate
			}
		}
	}

	in := scoring.Input{
		PatternKeywords: keywords,
		ContextKeywords: r.Context.Keywords,
		QualityScore:    meta.QualityScore,
		SuccessRate:     meta.SuccessRate,
		SemanticScore:   meta.SemanticScore,
		ConfidenceScore: meta.ConfidenceScore,
	}
	if r.Weights != nil {
		in.Weights = &scoring.WeightOverrides{
			Keyword:     r.Weights.Keyword,
			Semantic:    r.Weights.Semantic,
			Quality:     r.Weights.Quality,
			SuccessRate: r.Weights.SuccessRate,
		}
	}
	if r.Task != nil {
		in.Task = &scoring.Traits{Complexity: r.Task.Complexity, Domain: r.Task.Domain}
	}

	res := h.Scorer.Score(in)
	observability.ObserveScore(res.HybridScore, res.Confidence)

	return map[string]any{
		"hybrid_score": res.HybridScore,
		"confidence":   res.Confidence,
		"breakdown":    res.Breakdown,
		"raw_weights":  res.RawWeights,
		"weights_used": res.WeightsUsed,
	}, degraded, nil
}

// lookupPattern fetches one pattern by ID; nil means not found.
func (h *handlers) lookupPattern(ctx domain.Context, id string) (*domain.Pattern, error) {
	if h.Patterns == nil {
		return nil, fmt.Errorf("%w: pattern capability not configured", domain.ErrExternalService)
	}
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	patterns, err := h.Patterns.Lookup(sctx, domain.PatternFilters{ID: id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return &patterns[0], nil
}
