package handler

import (
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

const testStoreTimeout = time.Second

type fakeAnalyzer struct {
	semantic    domain.AnalysisObject
	semanticErr error
	document    domain.AnalysisObject
	documentErr error
	calls       int
}

func (a *fakeAnalyzer) AnalyzeSemantic(domain.Context, string, map[string]any, domain.AnalyzeOptions) (domain.AnalysisObject, error) {
	a.calls++
	return a.semantic, a.semanticErr
}

func (a *fakeAnalyzer) ExtractDocument(domain.Context, string, domain.AnalyzeOptions) (domain.AnalysisObject, error) {
	a.calls++
	return a.document, a.documentErr
}

type fakeEmbedder struct {
	dim  int
	err  error
	seen [][]string
}

func (e *fakeEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	e.seen = append(e.seen, texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

type fakePatterns struct {
	patterns []domain.Pattern
	err      error
	filters  []domain.PatternFilters
}

func (p *fakePatterns) Lookup(_ domain.Context, filters domain.PatternFilters) ([]domain.Pattern, error) {
	p.filters = append(p.filters, filters)
	return p.patterns, p.err
}

type fakeVectors struct {
	hits      []domain.VectorHit
	searchErr error
	upsertErr error
	upserted  [][]domain.VectorPoint
}

func (v *fakeVectors) Search(domain.Context, []float32, map[string]any, int) ([]domain.VectorHit, error) {
	return v.hits, v.searchErr
}

func (v *fakeVectors) Upsert(_ domain.Context, points []domain.VectorPoint) error {
	if v.upsertErr != nil {
		return v.upsertErr
	}
	v.upserted = append(v.upserted, points)
	return nil
}

type fakeGraph struct {
	records []domain.GraphRecord
	err     error
	queries []string
}

func (g *fakeGraph) Query(_ domain.Context, query string, _ map[string]any) ([]domain.GraphRecord, error) {
	g.queries = append(g.queries, query)
	return g.records, g.err
}

type fakeSchema struct {
	catalog domain.SchemaCatalog
	err     error
}

func (s *fakeSchema) Introspect(_ domain.Context, scope string) (domain.SchemaCatalog, error) {
	if s.err != nil {
		return domain.SchemaCatalog{}, s.err
	}
	if s.catalog.Scope == "" {
		s.catalog.Scope = scope
	}
	return s.catalog, nil
}
