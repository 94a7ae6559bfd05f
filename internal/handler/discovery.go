package handler

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

// serviceInventoryQuery pulls the service inventory for infrastructure scans.
const serviceInventoryQuery = `MATCH (s:Service) WHERE $scope = '' OR s.scope = $scope
RETURN s.name AS service, s.kind AS kind, s.endpoint AS endpoint`

func (h *handlers) infrastructureScan(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.InfrastructureScanRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: infrastructure_scan payload type %T", domain.ErrInternal, req)
	}
	lg := observability.LoggerFromContext(ctx)

	include := r.Include
	if len(include) == 0 {
		include = []string{"schemas", "graph"}
	}

	result := map[string]any{"scope": r.Scope}
	var degraded []string
	succeeded := 0

	if slices.Contains(include, "schemas") {
		switch {
		case h.Schema == nil:
			degraded = append(degraded, "schemas")
		default:
			sctx, cancel := h.storeCtx(ctx)
			catalog, err := h.Schema.Introspect(sctx, r.Scope)
			cancel()
			if err != nil {
				lg.Warn("schema sub-query degraded", slog.Any("error", err))
				degraded = append(degraded, "schemas")
			} else {
				result["schemas"] = catalog
				succeeded++
			}
		}
	}

	if slices.Contains(include, "graph") {
		switch {
		case h.Graph == nil:
			degraded = append(degraded, "graph")
		default:
			sctx, cancel := h.storeCtx(ctx)
			records, err := h.Graph.Query(sctx, serviceInventoryQuery, map[string]any{"scope": r.Scope})
			cancel()
			if err != nil {
				lg.Warn("graph sub-query degraded", slog.Any("error", err))
				degraded = append(degraded, "graph")
			} else {
				result["services"] = records
				succeeded++
			}
		}
	}

	// An inventory with zero successful sub-queries is not an inventory.
	if succeeded == 0 {
		return nil, nil, fmt.Errorf("%w: every infrastructure sub-query failed", domain.ErrExternalService)
	}
	return result, degraded, nil
}

func (h *handlers) modelDiscovery(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.ModelDiscoveryRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: model_discovery payload type %T", domain.ErrInternal, req)
	}
	if h.Patterns == nil {
		return nil, nil, fmt.Errorf("%w: pattern capability not configured", domain.ErrExternalService)
	}
	lg := observability.LoggerFromContext(ctx)

	sctx, cancel := h.storeCtx(ctx)
	models, err := h.Patterns.Lookup(sctx, domain.PatternFilters{
		Kind:     "model",
		Domain:   r.Filters["domain"],
		Language: r.Filters["language"],
		Limit:    r.Limit,
	})
	cancel()
	if err != nil {
		return nil, nil, err
	}

	result := map[string]any{
		"models":      models,
		"model_count": len(models),
	}

	var degraded []string
	if len(models) > 0 && h.Embedder != nil && h.Vectors != nil {
		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.Name)
		}
		vectors, err := h.Embedder.Embed(ctx, names[:1])
		if err == nil {
			sctx, cancel := h.storeCtx(ctx)
			hits, serr := h.Vectors.Search(sctx, vectors[0], map[string]any{"kind": "model"}, 10)
			cancel()
			err = serr
			if serr == nil {
				result["similar_models"] = hits
			}
		}
		if err != nil {
			lg.Warn("model similarity enrichment degraded", slog.Any("error", err))
			degraded = append(degraded, "vector_search")
		}
	}
	return result, degraded, nil
}

func (h *handlers) schemaDiscovery(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	r, ok := req.(*domain.SchemaDiscoveryRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: schema_discovery payload type %T", domain.ErrInternal, req)
	}
	if h.Schema == nil {
		return nil, nil, fmt.Errorf("%w: schema capability not configured", domain.ErrExternalService)
	}

	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	catalog, err := h.Schema.Introspect(sctx, r.Scope)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{
		"scope":       catalog.Scope,
		"tables":      catalog.Tables,
		"table_count": len(catalog.Tables),
	}, nil, nil
}
