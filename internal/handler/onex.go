package handler

import (
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

// ONEX rule IDs. The set is small and local; compliance patterns from the
// pattern store enrich the verdict but never change it.
const (
	ruleFileNaming      = "ONEX-001"
	ruleMetadataName    = "ONEX-002"
	ruleMetadataVersion = "ONEX-003"
	ruleMetadataOwner   = "ONEX-004"
)

var (
	snakeCaseFile = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9]+)?$`)
	semverish     = regexp.MustCompile(`^v?\d+\.\d+(\.\d+)?`)
)

type onexViolation struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

func (h *handlers) onexCompliance(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.OnexComplianceRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: onex_compliance payload type %T", domain.ErrInternal, req)
	}

	violations := evaluateOnexRules(r)
	var degraded []string

	// Reference patterns are advisory; a failed lookup degrades the result
	// instead of failing the operation.
	var references []domain.Pattern
	if h.Patterns == nil {
		degraded = append(degraded, "pattern_lookup")
	} else {
		sctx, cancel := h.storeCtx(ctx)
		refs, err := h.Patterns.Lookup(sctx, domain.PatternFilters{
			Kind:   "compliance",
			Domain: r.RuleSet,
			Limit:  10,
		})
		cancel()
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("compliance pattern lookup degraded",
				slog.Any("error", err))
			degraded = append(degraded, "pattern_lookup")
		} else {
			references = refs
		}
	}

	return map[string]any{
		"source_path":        r.SourcePath,
		"compliant":          len(violations) == 0,
		"violations":         violations,
		"reference_patterns": references,
	}, degraded, nil
}

// evaluateOnexRules runs the local naming and metadata checks. Metadata may
// come from the request's metadata map or from "onex:key value" lines in the
// content.
func evaluateOnexRules(r *domain.OnexComplianceRequest) []onexViolation {
	violations := make([]onexViolation, 0, 4)

	base := path.Base(r.SourcePath)
	if !snakeCaseFile.MatchString(base) {
		violations = append(violations, onexViolation{
			RuleID:  ruleFileNaming,
			Message: fmt.Sprintf("file name %q is not snake_case", base),
		})
	}

	meta := collectMetadata(r)
	if meta["name"] == "" {
		violations = append(violations, onexViolation{
			RuleID:  ruleMetadataName,
			Message: "missing metadata field: name",
		})
	}
	switch version := meta["version"]; {
	case version == "":
		violations = append(violations, onexViolation{
			RuleID:  ruleMetadataVersion,
			Message: "missing metadata field: version",
		})
	case !semverish.MatchString(version):
		violations = append(violations, onexViolation{
			RuleID:  ruleMetadataVersion,
			Message: fmt.Sprintf("version %q is not semver-like", version),
		})
	}
	if meta["owner"] == "" {
		violations = append(violations, onexViolation{
			RuleID:  ruleMetadataOwner,
			Message: "missing metadata field: owner",
		})
	}
	return violations
}

func collectMetadata(r *domain.OnexComplianceRequest) map[string]string {
	meta := make(map[string]string, len(r.Metadata)+3)
	for _, line := range strings.Split(r.Content, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "/#-"))
		rest, found := strings.CutPrefix(trimmed, "onex:")
		if !found {
			continue
		}
		key, value, found := strings.Cut(rest, " ")
		if found {
			meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	// Explicit request metadata wins over content markers.
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return meta
}
