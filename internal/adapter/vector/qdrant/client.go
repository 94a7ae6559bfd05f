// Package qdrant implements the vector capability over the Qdrant HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// pointNamespace seeds deterministic point UUIDs so a redelivered ingestion
// upserts the same points instead of duplicating them.
var pointNamespace = uuid.MustParse("7d1f9f6e-0b1c-4a73-9a0e-3a2f51a6e0c4")

// payloadKeyField preserves the caller's point key inside the payload, since
// Qdrant point IDs must be UUIDs.
const payloadKeyField = "point_key"

// Store is the Qdrant-backed VectorStore.
type Store struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

// New builds the store for one collection. The timeout bounds every call.
func New(baseURL, apiKey, collection string, timeout time.Duration) *Store {
	return &Store{
		baseURL:    baseURL,
		apiKey:     apiKey,
		collection: collection,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// EnsureCollection creates the collection when absent. Called once at seed
// time, not per request.
func (s *Store) EnsureCollection(ctx context.Context, vectorSize int) error {
	status, _, err := s.do(ctx, http.MethodGet, "/collections/"+s.collection, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"},
	}
	status, _, err = s.do(ctx, http.MethodPut, "/collections/"+s.collection, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: qdrant create collection status %d", domain.ErrExternalService, status)
	}
	return nil
}

// Search returns the nearest points for embedding, optionally filtered by
// exact payload matches.
func (s *Store) Search(ctx context.Context, embedding []float32, filter map[string]any, limit int) ([]domain.VectorHit, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]map[string]any, 0, len(filter))
		for key, value := range filter {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": value},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}
	status, raw, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: qdrant search status %d", domain.ErrExternalService, status)
	}
	var out struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: qdrant search response: %v", domain.ErrExternalService, err)
	}
	hits := make([]domain.VectorHit, 0, len(out.Result))
	for _, r := range out.Result {
		hit := domain.VectorHit{
			ID:      fmt.Sprint(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		}
		// Surface the original key as the hit ID when present.
		if key, ok := r.Payload[payloadKeyField].(string); ok && key != "" {
			hit.ID = key
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Upsert writes points idempotently: each point UUID derives from the
// caller's point ID, so the same input always lands on the same point.
func (s *Store) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	qp := make([]map[string]any, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadKeyField] = p.ID
		qp = append(qp, map[string]any{
			"id":      uuid.NewSHA1(pointNamespace, []byte(p.ID)).String(),
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	status, _, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", map[string]any{"points": qp})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: qdrant upsert status %d", domain.ErrExternalService, status)
	}
	return nil
}

func (s *Store) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: encode qdrant request: %v", domain.ErrInternal, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: qdrant request: %v", domain.ErrInternal, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return 0, nil, fmt.Errorf("%w: qdrant %s", domain.ErrTimeout, path)
		}
		return 0, nil, fmt.Errorf("%w: qdrant %s: %v", domain.ErrExternalService, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: qdrant %s: read body: %v", domain.ErrExternalService, path, err)
	}
	return resp.StatusCode, raw, nil
}
