package handler

import (
	"fmt"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// dependencyQuery pulls the dependency neighborhood of one scope.
const dependencyQuery = `MATCH (m:Module {scope: $scope})-[:DEPENDS_ON]->(d:Module)
RETURN m.name AS module, m.layer AS layer, d.name AS depends_on, d.layer AS depends_on_layer`

// Architectural rule IDs.
const (
	ruleLayering = "ARCH-001"
	ruleCycles   = "ARCH-002"
)

// layerRank orders the layers; a module may depend only on equal or lower
// ranks.
var layerRank = map[string]int{
	"interface":      3,
	"application":    2,
	"domain":         1,
	"infrastructure": 0,
}

type archViolation struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// depEdge is one dependency extracted from the graph records.
type depEdge struct {
	from, fromLayer string
	to, toLayer     string
}

func (h *handlers) architecturalCompliance(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.ArchitecturalComplianceRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: architectural_compliance payload type %T", domain.ErrInternal, req)
	}
	if h.Graph == nil {
		return nil, nil, fmt.Errorf("%w: graph capability not configured", domain.ErrExternalService)
	}

	sctx, cancel := h.storeCtx(ctx)
	records, err := h.Graph.Query(sctx, dependencyQuery, map[string]any{"scope": r.Scope})
	cancel()
	if err != nil {
		return nil, nil, err
	}

	edges := extractEdges(records)
	violations := make([]archViolation, 0, 4)
	if ruleEnabled(r.Rules, ruleLayering) {
		violations = append(violations, checkLayering(edges)...)
	}
	if ruleEnabled(r.Rules, ruleCycles) {
		violations = append(violations, checkCycles(edges)...)
	}

	return map[string]any{
		"scope":      r.Scope,
		"compliant":  len(violations) == 0,
		"violations": violations,
		"edge_count": len(edges),
	}, nil, nil
}

// ruleEnabled treats an empty rule list as "run everything".
func ruleEnabled(rules []string, id string) bool {
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r == id {
			return true
		}
	}
	return false
}

func extractEdges(records []domain.GraphRecord) []depEdge {
	edges := make([]depEdge, 0, len(records))
	for _, rec := range records {
		e := depEdge{
			from:      str(rec["module"]),
			fromLayer: str(rec["layer"]),
			to:        str(rec["depends_on"]),
			toLayer:   str(rec["depends_on_layer"]),
		}
		if e.from == "" || e.to == "" {
			continue
		}
		edges = append(edges, e)
	}
	return edges
}

// checkLayering flags dependencies that point at a higher-ranked layer.
// Unknown layers are skipped, not guessed.
func checkLayering(edges []depEdge) []archViolation {
	var out []archViolation
	for _, e := range edges {
		fromRank, okFrom := layerRank[e.fromLayer]
		toRank, okTo := layerRank[e.toLayer]
		if !okFrom || !okTo {
			continue
		}
		if toRank > fromRank {
			out = append(out, archViolation{
				RuleID: ruleLayering,
				Message: fmt.Sprintf("%s (%s) depends upward on %s (%s)",
					e.from, e.fromLayer, e.to, e.toLayer),
			})
		}
	}
	return out
}

// checkCycles reports each dependency cycle once, by its modules.
func checkCycles(edges []depEdge) []archViolation {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(adj))
	var out []archViolation
	var stack []string

	var visit func(node string)
	visit = func(node string) {
		state[node] = visiting
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch state[next] {
			case unvisited:
				visit(next)
			case visiting:
				// Slice the cycle out of the current path.
				for i, n := range stack {
					if n == next {
						out = append(out, archViolation{
							RuleID:  ruleCycles,
							Message: fmt.Sprintf("dependency cycle: %v", append(append([]string(nil), stack[i:]...), next)),
						})
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
	}
	for node := range adj {
		if state[node] == unvisited {
			visit(node)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
