package scoring

import (
	"math"

	"github.com/OmniNode-ai/omniintelligence-sub016/pkg/textx"
)

// Adaptive shift sizes: complexity moves ten points between the
// semantic+keyword pair and the quality+success pair; a domain profile moves
// ten points toward its favored dimension.
const (
	complexityShift = 0.05
	domainNudge     = 0.10
)

// resolveWeights applies per-field overrides and adaptive shifts, returning
// the pre-clamp weights surfaced to callers.
func (s *Scorer) resolveWeights(ov *WeightOverrides, task *Traits) Weights {
	w := s.cfg.Weights
	if ov != nil {
		if ov.Keyword != nil {
			w.Keyword = *ov.Keyword
		}
		if ov.Semantic != nil {
			w.Semantic = *ov.Semantic
		}
		if ov.Quality != nil {
			w.Quality = *ov.Quality
		}
		if ov.SuccessRate != nil {
			w.SuccessRate = *ov.SuccessRate
		}
	}
	if !s.cfg.Adaptive || task == nil {
		return w
	}

	switch textx.Fold(task.Complexity) {
	case "high":
		w.Semantic += complexityShift
		w.Keyword += complexityShift
		w.Quality -= complexityShift
		w.SuccessRate -= complexityShift
	case "low":
		w.Semantic -= complexityShift
		w.Keyword -= complexityShift
		w.Quality += complexityShift
		w.SuccessRate += complexityShift
	}

	if dim, ok := s.cfg.Profiles[textx.Fold(task.Domain)]; ok {
		nudge(&w, dim)
	}
	return w
}

// nudge moves domainNudge toward the favored dimension, drawn evenly from the
// other three.
func nudge(w *Weights, favored Dimension) {
	take := domainNudge / 3
	w.Keyword -= take
	w.Semantic -= take
	w.Quality -= take
	w.SuccessRate -= take
	switch favored {
	case DimKeyword:
		w.Keyword += take + domainNudge
	case DimSemantic:
		w.Semantic += take + domainNudge
	case DimQuality:
		w.Quality += take + domainNudge
	case DimSuccessRate:
		w.SuccessRate += take + domainNudge
	}
}

// normalizeBounded clamps each weight into bounds and renormalizes to sum 1,
// re-clamping until both hold. With four dimensions and bounds covering 1/4
// this always converges; pinned dimensions stop moving, so at most a few
// passes run.
func normalizeBounded(w Weights, b Bounds) Weights {
	v := [4]float64{w.Keyword, w.Semantic, w.Quality, w.SuccessRate}
	for i := range v {
		v[i] = clamp(v[i], b.Min, b.Max)
	}
	for iter := 0; iter < 8; iter++ {
		sum := v[0] + v[1] + v[2] + v[3]
		if math.Abs(sum-1) <= 1e-9 {
			break
		}
		var freeSum, pinnedSum float64
		var free [4]bool
		for i, x := range v {
			movable := (sum > 1 && x > b.Min+1e-12) || (sum < 1 && x < b.Max-1e-12)
			if movable {
				free[i] = true
				freeSum += x
			} else {
				pinnedSum += x
			}
		}
		if freeSum <= 0 {
			break
		}
		scale := (1 - pinnedSum) / freeSum
		if scale <= 0 {
			break
		}
		for i := range v {
			if free[i] {
				v[i] = clamp(v[i]*scale, b.Min, b.Max)
			}
		}
	}
	return Weights{Keyword: v[0], Semantic: v[1], Quality: v[2], SuccessRate: v[3]}
}

func clamp(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	}
	return x
}
