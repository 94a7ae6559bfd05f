// Package analyzer wraps the external semantic-analysis service with the
// result cache, the circuit breaker, a hard per-call timeout and response
// shape validation. Call order on a miss: breaker gate, HTTP, validation,
// cache insert. Malformed responses are never cached.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"log/slog"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/breaker"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/cache"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

const (
	semanticPath = "/analyze/semantic"
	documentPath = "/extract/document"
)

// Client implements domain.Analyzer over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	hc      *http.Client
	brk     *breaker.Breaker
	results *cache.Cache
}

// New constructs the analyzer client. brk and results are shared process-wide
// and injected by the caller.
func New(cfg config.Config, brk *breaker.Breaker, results *cache.Cache) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Analyzer %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		baseURL: cfg.AnalyzerURL,
		timeout: cfg.AnalyzerTimeout,
		hc: &http.Client{
			Transport: transport,
		},
		brk:     brk,
		results: results,
	}
}

// analyzeRequest is the wire shape of both analyzer endpoints.
type analyzeRequest struct {
	Content  string         `json:"content"`
	Context  map[string]any `json:"context,omitempty"`
	Language string         `json:"language,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// analyzeResponse mirrors the analyzer's reply; Confidence is a pointer so a
// missing field fails shape validation rather than defaulting to zero.
type analyzeResponse struct {
	Entities      []domain.Entity       `json:"entities"`
	Relationships []domain.Relationship `json:"relationships"`
	Patterns      []string              `json:"patterns"`
	Summary       string                `json:"summary"`
	Confidence    *float64              `json:"confidence"`
	Metadata      map[string]any        `json:"metadata"`
}

// AnalyzeSemantic runs semantic analysis over content with optional context.
func (c *Client) AnalyzeSemantic(ctx domain.Context, content string, reqContext map[string]any, opts domain.AnalyzeOptions) (domain.AnalysisObject, error) {
	ctxJSON, _ := json.Marshal(reqContext)
	key := cache.Key(semanticPath, content, string(ctxJSON), opts.Language)
	return c.analyze(ctx, semanticPath, key, analyzeRequest{
		Content:  content,
		Context:  reqContext,
		Language: opts.Language,
		Options:  opts.Extra,
	})
}

// ExtractDocument extracts structure from a document.
func (c *Client) ExtractDocument(ctx domain.Context, content string, opts domain.AnalyzeOptions) (domain.AnalysisObject, error) {
	key := cache.Key(documentPath, content, opts.Language)
	return c.analyze(ctx, documentPath, key, analyzeRequest{
		Content:  content,
		Language: opts.Language,
		Options:  opts.Extra,
	})
}

func (c *Client) analyze(ctx domain.Context, path, key string, reqBody analyzeRequest) (domain.AnalysisObject, error) {
	if v, ok := c.results.Get(key); ok {
		if obj, ok := v.(domain.AnalysisObject); ok {
			return obj, nil
		}
	}

	var obj domain.AnalysisObject
	err := c.brk.Attempt(ctx, func(ctx domain.Context) error {
		var err error
		obj, err = c.call(ctx, path, reqBody)
		return err
	})
	if err != nil {
		return domain.AnalysisObject{}, err
	}

	c.results.Put(key, obj)
	return obj, nil
}

func (c *Client) call(ctx domain.Context, path string, reqBody analyzeRequest) (domain.AnalysisObject, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b, err := json.Marshal(reqBody)
	if err != nil {
		return domain.AnalysisObject{}, fmt.Errorf("%w: encode analyzer request: %v", domain.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return domain.AnalysisObject{}, fmt.Errorf("%w: build analyzer request: %v", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cid := observability.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	endpoint := path[1:]
	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.AnalyzerRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		// Deadline and cancellation surface as the context error so the
		// classifier sees timeout rather than a dependency failure.
		if ctxErr := callCtx.Err(); ctxErr != nil {
			observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "timeout").Inc()
			return domain.AnalysisObject{}, fmt.Errorf("analyzer %s after %s: %w", path, c.timeout, ctxErr)
		}
		observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return domain.AnalysisObject{}, fmt.Errorf("%w: analyzer %s: %v", domain.ErrExternalService, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return domain.AnalysisObject{}, fmt.Errorf("%w: analyzer %s status 429", domain.ErrRateLimited, path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body := readSnippet(resp.Body, 64<<10)
		snippet := body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		// A rejection whose body is not even JSON cannot be attributed to the
		// input; it is a protocol breakdown and classifies as a parsing error.
		if !json.Valid([]byte(body)) {
			observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "malformed").Inc()
			slog.Warn("analyzer rejection with unparseable body",
				slog.String("endpoint", endpoint),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet))
			return domain.AnalysisObject{}, fmt.Errorf("%w: analyzer %s status %d with unparseable body", domain.ErrParsing, path, resp.StatusCode)
		}
		observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "rejected").Inc()
		slog.Warn("analyzer rejected request",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet))
		return domain.AnalysisObject{}, fmt.Errorf("%w: analyzer %s status %d: %s", domain.ErrInvalidInput, path, resp.StatusCode, snippet)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		snippet := readSnippet(resp.Body, 512)
		slog.Error("analyzer non-2xx",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet))
		return domain.AnalysisObject{}, fmt.Errorf("%w: analyzer %s status %d", domain.ErrExternalService, path, resp.StatusCode)
	}

	var ar analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "malformed").Inc()
		return domain.AnalysisObject{}, fmt.Errorf("%w: analyzer %s returned malformed body: %v", domain.ErrExternalService, path, err)
	}
	if err := validateShape(ar); err != nil {
		observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "malformed").Inc()
		return domain.AnalysisObject{}, fmt.Errorf("%w: analyzer %s: %v", domain.ErrExternalService, path, err)
	}

	observability.AnalyzerRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return domain.AnalysisObject{
		Entities:      ar.Entities,
		Relationships: ar.Relationships,
		Patterns:      ar.Patterns,
		Summary:       ar.Summary,
		Confidence:    *ar.Confidence,
		Metadata:      ar.Metadata,
	}, nil
}

// validateShape rejects replies the rest of the pipeline cannot trust.
func validateShape(ar analyzeResponse) error {
	if ar.Confidence == nil {
		return fmt.Errorf("missing confidence")
	}
	if *ar.Confidence < 0 || *ar.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]", *ar.Confidence)
	}
	for i, e := range ar.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity %d has empty name", i)
		}
	}
	for i, r := range ar.Relationships {
		if r.From == "" || r.To == "" {
			return fmt.Errorf("relationship %d missing endpoint", i)
		}
	}
	return nil
}

// readSnippet reads up to n bytes from r for error logs.
func readSnippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(b)
}
