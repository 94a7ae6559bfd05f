package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

func TestInfrastructureScanBothSubQueries(t *testing.T) {
	schema := &fakeSchema{catalog: domain.SchemaCatalog{
		Scope:  "public",
		Tables: []domain.SchemaTable{{Name: "patterns"}},
	}}
	graph := &fakeGraph{records: []domain.GraphRecord{{"service": "analyzer", "kind": "http"}}}
	h := &handlers{Deps: Deps{Schema: schema, Graph: graph, StoreTimeout: testStoreTimeout}}

	result, degraded, err := h.infrastructureScan(context.Background(), &domain.InfrastructureScanRequest{
		Op:    domain.OpInfrastructureScan,
		Scope: "public",
	})
	require.NoError(t, err)
	assert.Empty(t, degraded)
	assert.Contains(t, result, "schemas")
	assert.Contains(t, result, "services")
}

func TestInfrastructureScanPartialFailureDegrades(t *testing.T) {
	schema := &fakeSchema{catalog: domain.SchemaCatalog{Scope: "public"}}
	graph := &fakeGraph{err: domain.ErrExternalService}
	h := &handlers{Deps: Deps{Schema: schema, Graph: graph, StoreTimeout: testStoreTimeout}}

	result, degraded, err := h.infrastructureScan(context.Background(), &domain.InfrastructureScanRequest{
		Op: domain.OpInfrastructureScan,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"graph"}, degraded)
	assert.Contains(t, result, "schemas")
	assert.NotContains(t, result, "services")
}

func TestInfrastructureScanAllFailedIsFatal(t *testing.T) {
	h := &handlers{Deps: Deps{
		Schema:       &fakeSchema{err: domain.ErrTimeout},
		Graph:        &fakeGraph{err: domain.ErrExternalService},
		StoreTimeout: testStoreTimeout,
	}}
	_, _, err := h.infrastructureScan(context.Background(), &domain.InfrastructureScanRequest{
		Op: domain.OpInfrastructureScan,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestInfrastructureScanHonorsInclude(t *testing.T) {
	schema := &fakeSchema{catalog: domain.SchemaCatalog{Scope: "public"}}
	graph := &fakeGraph{}
	h := &handlers{Deps: Deps{Schema: schema, Graph: graph, StoreTimeout: testStoreTimeout}}

	result, degraded, err := h.infrastructureScan(context.Background(), &domain.InfrastructureScanRequest{
		Op:      domain.OpInfrastructureScan,
		Include: []string{"schemas"},
	})
	require.NoError(t, err)
	assert.Empty(t, degraded)
	assert.Contains(t, result, "schemas")
	assert.Empty(t, graph.queries, "graph sub-query excluded by include list")
	assert.NotContains(t, result, "services")
}

func TestModelDiscoveryFiltersAndLimit(t *testing.T) {
	patterns := &fakePatterns{patterns: []domain.Pattern{
		{ID: "m-1", Name: "invoice", Kind: "model"},
	}}
	h := &handlers{Deps: Deps{Patterns: patterns, StoreTimeout: testStoreTimeout}}

	result, degraded, err := h.modelDiscovery(context.Background(), &domain.ModelDiscoveryRequest{
		Op:      domain.OpModelDiscovery,
		Filters: map[string]string{"domain": "billing", "language": "go"},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, degraded)
	assert.Equal(t, 1, result["model_count"])

	require.Len(t, patterns.filters, 1)
	assert.Equal(t, "model", patterns.filters[0].Kind)
	assert.Equal(t, "billing", patterns.filters[0].Domain)
	assert.Equal(t, "go", patterns.filters[0].Language)
	assert.Equal(t, 10, patterns.filters[0].Limit)
}

func TestModelDiscoverySimilarityEnrichment(t *testing.T) {
	patterns := &fakePatterns{patterns: []domain.Pattern{{ID: "m-1", Name: "invoice"}}}
	vectors := &fakeVectors{hits: []domain.VectorHit{{ID: "m-2", Score: 0.8}}}
	h := &handlers{Deps: Deps{
		Patterns:     patterns,
		Embedder:     &fakeEmbedder{dim: 3},
		Vectors:      vectors,
		StoreTimeout: testStoreTimeout,
	}}

	result, degraded, err := h.modelDiscovery(context.Background(), &domain.ModelDiscoveryRequest{
		Op: domain.OpModelDiscovery,
	})
	require.NoError(t, err)
	assert.Empty(t, degraded)
	hits := result["similar_models"].([]domain.VectorHit)
	require.Len(t, hits, 1)
	assert.Equal(t, "m-2", hits[0].ID)
}

func TestModelDiscoverySearchFailureDegrades(t *testing.T) {
	patterns := &fakePatterns{patterns: []domain.Pattern{{ID: "m-1", Name: "invoice"}}}
	h := &handlers{Deps: Deps{
		Patterns:     patterns,
		Embedder:     &fakeEmbedder{dim: 3},
		Vectors:      &fakeVectors{searchErr: domain.ErrTimeout},
		StoreTimeout: testStoreTimeout,
	}}

	result, degraded, err := h.modelDiscovery(context.Background(), &domain.ModelDiscoveryRequest{
		Op: domain.OpModelDiscovery,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"vector_search"}, degraded)
	assert.NotContains(t, result, "similar_models")
}

func TestModelDiscoveryWithoutPatternStoreFails(t *testing.T) {
	h := &handlers{Deps: Deps{StoreTimeout: testStoreTimeout}}
	_, _, err := h.modelDiscovery(context.Background(), &domain.ModelDiscoveryRequest{Op: domain.OpModelDiscovery})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestSchemaDiscoveryReturnsCatalog(t *testing.T) {
	schema := &fakeSchema{catalog: domain.SchemaCatalog{
		Scope: "public",
		Tables: []domain.SchemaTable{
			{Name: "patterns"},
			{Name: "outcomes"},
		},
	}}
	h := &handlers{Deps: Deps{Schema: schema, StoreTimeout: testStoreTimeout}}

	result, degraded, err := h.schemaDiscovery(context.Background(), &domain.SchemaDiscoveryRequest{
		Op:    domain.OpSchemaDiscovery,
		Scope: "public",
	})
	require.NoError(t, err)
	assert.Empty(t, degraded)
	assert.Equal(t, "public", result["scope"])
	assert.Equal(t, 2, result["table_count"])
}

func TestSchemaDiscoveryWithoutSchemaStoreFails(t *testing.T) {
	h := &handlers{Deps: Deps{StoreTimeout: testStoreTimeout}}
	_, _, err := h.schemaDiscovery(context.Background(), &domain.SchemaDiscoveryRequest{Op: domain.OpSchemaDiscovery})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestSchemaDiscoveryPropagatesStoreError(t *testing.T) {
	h := &handlers{Deps: Deps{Schema: &fakeSchema{err: domain.ErrTimeout}, StoreTimeout: testStoreTimeout}}
	_, _, err := h.schemaDiscovery(context.Background(), &domain.SchemaDiscoveryRequest{Op: domain.OpSchemaDiscovery})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}
