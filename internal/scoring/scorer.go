// Package scoring implements the hybrid scorer: a pure merge of keyword,
// semantic, quality and success-rate dimensions under adaptive, bounded
// weights. No I/O, no lifecycle; safe for concurrent use.
package scoring

import (
	"math"

	"github.com/OmniNode-ai/omniintelligence-sub016/pkg/textx"
)

// Dimension names the four scored dimensions.
type Dimension string

const (
	DimKeyword     Dimension = "keyword"
	DimSemantic    Dimension = "semantic"
	DimQuality     Dimension = "quality"
	DimSuccessRate Dimension = "success_rate"
)

// Weights holds one weight per dimension.
type Weights struct {
	Keyword     float64 `json:"keyword" yaml:"keyword"`
	Semantic    float64 `json:"semantic" yaml:"semantic"`
	Quality     float64 `json:"quality" yaml:"quality"`
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`
}

// DefaultWeights returns the stock dimension weights.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.25, Semantic: 0.35, Quality: 0.20, SuccessRate: 0.20}
}

// Bounds clamps every post-adaptive weight; no single dimension may dominate
// or vanish.
type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DefaultBounds returns the stock per-dimension bounds.
func DefaultBounds() Bounds { return Bounds{Min: 0.10, Max: 0.80} }

// Config parameterizes a Scorer.
type Config struct {
	Weights  Weights
	Bounds   Bounds
	Adaptive bool
	// Profiles maps a task domain to the dimension it favors.
	Profiles map[string]Dimension
}

// DefaultConfig returns the stock scorer configuration with built-in domain
// profiles.
func DefaultConfig() Config {
	return Config{
		Weights:  DefaultWeights(),
		Bounds:   DefaultBounds(),
		Adaptive: true,
		Profiles: DefaultProfiles(),
	}
}

// DefaultProfiles returns the built-in domain-to-dimension preferences used
// when no profiles file is configured.
func DefaultProfiles() map[string]Dimension {
	return map[string]Dimension{
		"ml":             DimSemantic,
		"nlp":            DimSemantic,
		"search":         DimSemantic,
		"api":            DimKeyword,
		"frontend":       DimKeyword,
		"database":       DimQuality,
		"data":           DimQuality,
		"infrastructure": DimSuccessRate,
		"ops":            DimSuccessRate,
	}
}

// WeightOverrides optionally replaces individual default weights; nil fields
// keep the configured value.
type WeightOverrides struct {
	Keyword     *float64
	Semantic    *float64
	Quality     *float64
	SuccessRate *float64
}

// Traits describe the task for adaptive weighting.
type Traits struct {
	Complexity string
	Domain     string
}

// Input is one scoring request. Pointer dimensions distinguish absent from
// zero; absent dimensions default to 0.5, and semantic falls back to the
// supplied confidence score before the default.
type Input struct {
	PatternKeywords []string
	ContextKeywords []string
	QualityScore    *float64
	SuccessRate     *float64
	SemanticScore   *float64
	ConfidenceScore *float64
	Weights         *WeightOverrides
	Task            *Traits
}

// Breakdown carries the resolved per-dimension scores.
type Breakdown struct {
	Keyword     float64 `json:"keyword"`
	Semantic    float64 `json:"semantic"`
	Quality     float64 `json:"quality"`
	SuccessRate float64 `json:"success_rate"`
}

// Result is the scorer output. RawWeights are post-adaptive pre-clamp;
// WeightsUsed are the bounded, normalized weights that produced HybridScore.
type Result struct {
	HybridScore float64   `json:"hybrid_score"`
	Confidence  float64   `json:"confidence"`
	Breakdown   Breakdown `json:"breakdown"`
	RawWeights  Weights   `json:"raw_weights"`
	WeightsUsed Weights   `json:"weights_used"`
}

// Scorer merges the four dimensions under the configured weighting rules.
type Scorer struct {
	cfg Config
}

// New builds a Scorer, filling zero-value config fields with defaults.
func New(cfg Config) *Scorer {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Bounds == (Bounds{}) {
		cfg.Bounds = DefaultBounds()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	return &Scorer{cfg: cfg}
}

// Jaccard computes |A ∩ B| / |A ∪ B| over case-folded keyword sets. An empty
// union yields 0.
func Jaccard(a, b []string) float64 {
	sa := textx.FoldSet(a)
	sb := textx.FoldSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for k := range sa {
		if _, ok := sb[k]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Score computes the hybrid score. Identical inputs yield identical outputs;
// the merge allocates nothing beyond the folded input sets.
func (s *Scorer) Score(in Input) Result {
	keyword := Jaccard(in.PatternKeywords, in.ContextKeywords)
	semantic := resolveDim(in.SemanticScore, in.ConfidenceScore)
	quality := resolveDim(in.QualityScore, nil)
	success := resolveDim(in.SuccessRate, nil)

	raw := s.resolveWeights(in.Weights, in.Task)
	used := normalizeBounded(raw, s.cfg.Bounds)

	hybrid := clamp01(used.Keyword*keyword + used.Semantic*semantic + used.Quality*quality + used.SuccessRate*success)

	mean := (keyword + semantic + quality + success) / 4
	variance := (sq(keyword-mean) + sq(semantic-mean) + sq(quality-mean) + sq(success-mean)) / 4
	confidence := clamp01(mean * (1 - math.Min(variance, 1)))

	return Result{
		HybridScore: hybrid,
		Confidence:  confidence,
		Breakdown: Breakdown{
			Keyword:     keyword,
			Semantic:    semantic,
			Quality:     quality,
			SuccessRate: success,
		},
		RawWeights:  raw,
		WeightsUsed: used,
	}
}

// resolveDim picks the first present value, else the 0.5 default.
func resolveDim(primary, fallback *float64) float64 {
	if primary != nil {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	return 0.5
}

func sq(x float64) float64 { return x * x }

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
