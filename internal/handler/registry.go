// Package handler implements one handler per operation behind a static
// dispatcher table. Handlers are stateless; every capability they touch comes
// in through Deps, and capabilities left nil are disabled.
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/scoring"
)

// TokenCounter estimates model tokens for chunking decisions.
type TokenCounter interface {
	CountTokens(text string) int
}

// Deps carries the capability ports shared by all handlers. Analyzer,
// Embedder and Scorer are process-wide; the stores are nil when their
// endpoint is unconfigured.
type Deps struct {
	Analyzer domain.Analyzer
	Embedder domain.Embedder
	Tokens   TokenCounter
	Patterns domain.PatternStore
	Vectors  domain.VectorStore
	Graph    domain.GraphStore
	Schema   domain.SchemaStore
	Scorer   *scoring.Scorer

	// StoreTimeout bounds each capability sub-query independently of the
	// handler deadline.
	StoreTimeout time.Duration
}

// handlerFunc runs one operation: a result map, the names of degraded
// sub-steps, or an error.
type handlerFunc func(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error)

// Registry is the static operation dispatcher. It implements the engine's
// Dispatcher contract.
type Registry struct {
	table map[domain.OperationType]handlerFunc
}

// NewRegistry wires the handler table.
func NewRegistry(deps Deps) *Registry {
	h := &handlers{Deps: deps}
	if h.StoreTimeout <= 0 {
		h.StoreTimeout = 5 * time.Second
	}
	if h.Scorer == nil {
		h.Scorer = scoring.New(scoring.DefaultConfig())
	}
	return &Registry{table: map[domain.OperationType]handlerFunc{
		domain.OpQualityAssessment:       h.qualityAssessment,
		domain.OpOnexCompliance:          h.onexCompliance,
		domain.OpPatternExtraction:       h.patternExtraction,
		domain.OpArchitecturalCompliance: h.architecturalCompliance,
		domain.OpComprehensiveAnalysis:   h.comprehensiveAnalysis,
		domain.OpHybridScore:             h.hybridScore,
		domain.OpInfrastructureScan:      h.infrastructureScan,
		domain.OpModelDiscovery:          h.modelDiscovery,
		domain.OpSchemaDiscovery:         h.schemaDiscovery,
		domain.OpDocumentIngestion:       h.ingestDocument,
	}}
}

// Execute dispatches req to its handler and shapes the completion. Partial
// results surface the degraded sub-steps by name.
func (r *Registry) Execute(ctx domain.Context, req domain.RequestPayload) (domain.AnalysisCompleted, error) {
	op := req.Operation()
	fn, ok := r.table[op]
	if !ok {
		return domain.AnalysisCompleted{}, fmt.Errorf("%w: no handler for operation %q", domain.ErrInvalidInput, op)
	}

	start := time.Now()
	result, degraded, err := fn(ctx, req)
	if err != nil {
		return domain.AnalysisCompleted{}, err
	}

	status := domain.StatusSuccess
	if len(degraded) > 0 {
		status = domain.StatusPartial
	}
	return domain.AnalysisCompleted{
		Operation:      op,
		Status:         status,
		PartialResults: len(degraded) > 0,
		Degraded:       degraded,
		Result:         result,
		DurationMS:     time.Since(start).Milliseconds(),
	}, nil
}

// handlers groups the per-operation methods around shared deps.
type handlers struct {
	Deps
}

// storeCtx derives the bounded context for one capability sub-query.
func (h *handlers) storeCtx(ctx domain.Context) (domain.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.StoreTimeout)
}
