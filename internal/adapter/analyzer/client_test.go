package analyzer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/adapter/analyzer"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/breaker"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/cache"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

func newClient(t *testing.T, url string, timeout time.Duration) (*analyzer.Client, *breaker.Breaker, *cache.Cache) {
	t.Helper()
	brk := breaker.New(breaker.Config{Name: "analyzer", FailureThreshold: 5, ResetTimeout: time.Minute})
	results := cache.New(128, time.Minute)
	cfg := config.Config{AnalyzerURL: url, AnalyzerTimeout: timeout}
	return analyzer.New(cfg, brk, results), brk, results
}

func goodResponse() map[string]any {
	return map[string]any{
		"entities": []map[string]any{
			{"name": "PaymentService", "kind": "class", "line": 42, "confidence": 0.93},
		},
		"relationships": []map[string]any{
			{"from": "PaymentService", "to": "Ledger", "kind": "depends_on"},
		},
		"patterns":   []string{"repository"},
		"summary":    "payment handling service",
		"confidence": 0.91,
		"metadata":   map[string]any{"model": "sem-2"},
	}
}

func TestAnalyzeSemantic_HappyPath(t *testing.T) {
	var gotPath, gotCID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCID = r.Header.Get("X-Correlation-ID")
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "func main() {}", body["content"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(goodResponse())
	}))
	defer ts.Close()

	c, _, _ := newClient(t, ts.URL, 2*time.Second)
	ctx := observability.ContextWithCorrelationID(context.Background(), "cid-123")

	obj, err := c.AnalyzeSemantic(ctx, "func main() {}", map[string]any{"repo": "core"}, domain.AnalyzeOptions{Language: "go"})
	require.NoError(t, err)

	assert.Equal(t, "/analyze/semantic", gotPath)
	assert.Equal(t, "cid-123", gotCID)
	require.Len(t, obj.Entities, 1)
	assert.Equal(t, "PaymentService", obj.Entities[0].Name)
	assert.Equal(t, []string{"repository"}, obj.Patterns)
	assert.InDelta(t, 0.91, obj.Confidence, 1e-9)
	assert.Equal(t, "payment handling service", obj.Summary)
}

func TestAnalyzeSemantic_CachesValidatedResponses(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(goodResponse())
	}))
	defer ts.Close()

	c, _, results := newClient(t, ts.URL, 2*time.Second)
	ctx := context.Background()

	first, err := c.AnalyzeSemantic(ctx, "content", nil, domain.AnalyzeOptions{})
	require.NoError(t, err)
	second, err := c.AnalyzeSemantic(ctx, "content", nil, domain.AnalyzeOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load(), "second call served from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), results.Metrics().Hits)

	// Different context keys miss.
	_, err = c.AnalyzeSemantic(ctx, "content", map[string]any{"repo": "other"}, domain.AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestAnalyzeSemantic_MalformedNeverCached(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("{not json"))
	}))
	defer ts.Close()

	c, _, _ := newClient(t, ts.URL, 2*time.Second)

	_, err := c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
	require.ErrorIs(t, err, domain.ErrExternalService)

	_, err = c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
	require.ErrorIs(t, err, domain.ErrExternalService)
	assert.Equal(t, int64(2), hits.Load(), "malformed replies are not cached")
}

func TestAnalyzeSemantic_ShapeValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing confidence", map[string]any{"summary": "x"}},
		{"confidence out of range", map[string]any{"confidence": 1.5}},
		{"entity without name", map[string]any{
			"confidence": 0.5,
			"entities":   []map[string]any{{"kind": "fn"}},
		}},
		{"relationship missing endpoint", map[string]any{
			"confidence":    0.5,
			"relationships": []map[string]any{{"from": "A"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer ts.Close()

			c, _, _ := newClient(t, ts.URL, 2*time.Second)
			_, err := c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
			require.ErrorIs(t, err, domain.ErrExternalService)
		})
	}
}

func TestAnalyzeSemantic_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		sentinel  error
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, domain.ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, `{"error":"bad content"}`, domain.ErrInvalidInput, false},
		{"not found", http.StatusNotFound, `{"error":"no such endpoint"}`, domain.ErrInvalidInput, false},
		{"rejection with unparseable body", http.StatusBadRequest, "<html>proxy error</html>", domain.ErrParsing, false},
		{"rejection with empty body", http.StatusUnprocessableEntity, "", domain.ErrParsing, false},
		{"server error", http.StatusInternalServerError, "boom", domain.ErrExternalService, true},
		{"bad gateway", http.StatusBadGateway, "<html>bad gateway</html>", domain.ErrExternalService, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			c, _, _ := newClient(t, ts.URL, 2*time.Second)
			_, err := c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
			require.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.retryable, domain.Classify(err).Retryable)
		})
	}
}

func TestAnalyzeSemantic_UnparseableRejectionClassifiesAsParsing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("<html><body>502 from the edge</body></html>"))
	}))
	defer ts.Close()

	c, _, _ := newClient(t, ts.URL, 2*time.Second)
	_, err := c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
	require.ErrorIs(t, err, domain.ErrParsing)

	cls := domain.Classify(err)
	assert.Equal(t, domain.ClassParsing, cls.Class)
	assert.False(t, cls.Retryable, "a protocol breakdown is terminal, not retryable")
}

func TestAnalyzeSemantic_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_ = json.NewEncoder(w).Encode(goodResponse())
	}))
	defer ts.Close()

	c, _, _ := newClient(t, ts.URL, 50*time.Millisecond)
	_, err := c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
	require.Error(t, err)

	cls := domain.Classify(err)
	assert.Equal(t, domain.ClassTimeout, cls.Class)
	assert.True(t, cls.Retryable)
}

func TestAnalyzeSemantic_BreakerOpenSkipsNetwork(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	brk := breaker.New(breaker.Config{Name: "analyzer", FailureThreshold: 1, ResetTimeout: time.Minute})
	results := cache.New(16, time.Minute)
	c := analyzer.New(config.Config{AnalyzerURL: ts.URL, AnalyzerTimeout: time.Second}, brk, results)

	_, err := c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
	require.ErrorIs(t, err, domain.ErrExternalService)
	require.Equal(t, breaker.StateOpen, brk.State())

	_, err = c.AnalyzeSemantic(context.Background(), "content", nil, domain.AnalyzeOptions{})
	require.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.Equal(t, int64(1), hits.Load(), "open breaker blocks network I/O")
}

func TestAnalyzeSemantic_CacheHitBypassesOpenBreaker(t *testing.T) {
	fail := atomic.Bool{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(goodResponse())
	}))
	defer ts.Close()

	brk := breaker.New(breaker.Config{Name: "analyzer", FailureThreshold: 1, ResetTimeout: time.Minute})
	results := cache.New(16, time.Minute)
	c := analyzer.New(config.Config{AnalyzerURL: ts.URL, AnalyzerTimeout: time.Second}, brk, results)

	_, err := c.AnalyzeSemantic(context.Background(), "warm", nil, domain.AnalyzeOptions{})
	require.NoError(t, err)

	fail.Store(true)
	_, err = c.AnalyzeSemantic(context.Background(), "other", nil, domain.AnalyzeOptions{})
	require.Error(t, err)
	require.Equal(t, breaker.StateOpen, brk.State())

	got, err := c.AnalyzeSemantic(context.Background(), "warm", nil, domain.AnalyzeOptions{})
	require.NoError(t, err, "cached result served while breaker is open")
	assert.InDelta(t, 0.91, got.Confidence, 1e-9)
}

func TestExtractDocument(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"confidence": 0.8,
			"summary":    "design document",
			"patterns":   []string{"adr"},
		})
	}))
	defer ts.Close()

	c, _, _ := newClient(t, ts.URL, 2*time.Second)
	obj, err := c.ExtractDocument(context.Background(), "# Title\nbody", domain.AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/extract/document", gotPath)
	assert.Equal(t, "design document", obj.Summary)
	assert.Equal(t, []string{"adr"}, obj.Patterns)
}
