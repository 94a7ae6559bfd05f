// Package embedder wraps the external embedding service. Calls from
// concurrent handlers are coalesced into batches, outgoing requests are
// capped by a semaphore and smoothed by a rate limiter, and transient
// failures are retried a small, bounded number of times independently of
// the top-level retry subsystem.
//
// Ordering: each caller's vectors map 1:1 and in order to its texts. No
// ordering is promised across unrelated callers sharing a batch.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"log/slog"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

const embedPath = "/embed"

// maxTransientRetries bounds the client-internal retry. The top-level retry
// subsystem never sees these attempts.
const maxTransientRetries = 2

// request is one caller's pending Embed call.
type request struct {
	texts  []string
	tokens int
	done   chan result
}

type result struct {
	vectors [][]float32
	err     error
}

// Client implements domain.Embedder over HTTP with batching.
type Client struct {
	baseURL string
	timeout time.Duration
	hc      *http.Client

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	batchSize   int
	batchWindow time.Duration
	maxTokens   int

	enc    *tiktoken.Tiktoken
	encErr error

	incoming chan *request
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu          sync.Mutex
	lastSuccess time.Time
}

// New constructs the embedder client and starts its batch collector. Callers
// must Close it to stop the collector.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Embedder %s %s", r.Method, r.URL.Path)
		}),
	)
	maxConcurrent := cfg.EmbedderMaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	rps := cfg.EmbedderRPS
	if rps < 1 {
		rps = 1
	}
	enc, encErr := tiktoken.GetEncoding("cl100k_base")
	if encErr != nil {
		slog.Warn("tiktoken encoding unavailable, falling back to byte heuristic", slog.Any("error", encErr))
	}
	c := &Client{
		baseURL:     cfg.EmbedderURL,
		timeout:     cfg.EmbedderTimeout,
		hc:          &http.Client{Transport: transport},
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		batchSize:   cfg.EmbedderBatchSize,
		batchWindow: cfg.EmbedderBatchWindow(),
		maxTokens:   cfg.EmbedderMaxTokensPerBatch,
		enc:         enc,
		encErr:      encErr,
		incoming:    make(chan *request),
		stop:        make(chan struct{}),
	}
	if c.batchSize < 1 {
		c.batchSize = 16
	}
	if c.batchWindow <= 0 {
		c.batchWindow = 25 * time.Millisecond
	}
	if c.maxTokens < 1 {
		c.maxTokens = 8000
	}
	c.wg.Add(1)
	go c.collect()
	return c
}

// Close stops the batch collector. In-flight batches finish; queued requests
// fail with a typed error.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// LastSuccess reports when the embedder last answered a batch, consumed by
// readiness.
func (c *Client) LastSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// Embed returns one vector per input text, same order. Failures surface as
// typed errors the caller may degrade on.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := &request{
		texts:  texts,
		tokens: c.countTokens(texts),
		done:   make(chan result, 1),
	}
	select {
	case c.incoming <- req:
	case <-c.stop:
		return nil, fmt.Errorf("%w: embedder closed", domain.ErrExternalService)
	case <-ctx.Done():
		return nil, fmt.Errorf("embedder enqueue: %w", ctx.Err())
	}
	select {
	case res := <-req.done:
		return res.vectors, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("embedder wait: %w", ctx.Err())
	}
}

// collect gathers caller requests into batches. A batch flushes when the
// window elapses, when it holds batchSize texts, or when the next request
// would blow the token budget.
func (c *Client) collect() {
	defer c.wg.Done()

	var (
		pending []*request
		texts   int
		tokens  int
		timer   *time.Timer
		timeout <-chan time.Time
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending, texts, tokens = nil, 0, 0
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
		c.wg.Add(1)
		go c.dispatch(batch)
	}
	for {
		select {
		case <-c.stop:
			flush()
			return
		case req := <-c.incoming:
			// A single oversized request still goes out alone; the service
			// owns the hard limit.
			if len(pending) > 0 && (texts+len(req.texts) > c.batchSize || tokens+req.tokens > c.maxTokens) {
				flush()
			}
			pending = append(pending, req)
			texts += len(req.texts)
			tokens += req.tokens
			if texts >= c.batchSize || tokens >= c.maxTokens {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(c.batchWindow)
				timeout = timer.C
			}
		case <-timeout:
			timer, timeout = nil, nil
			flush()
		}
	}
}

// dispatch sends one batch and distributes per-request slices back to the
// callers that contributed them.
func (c *Client) dispatch(batch []*request) {
	defer c.wg.Done()

	all := make([]string, 0, len(batch))
	for _, r := range batch {
		all = append(all, r.texts...)
	}
	observability.EmbedderBatchTexts.Observe(float64(len(all)))

	vectors, err := c.callWithRetry(all)
	if err != nil {
		for _, r := range batch {
			r.done <- result{err: err}
		}
		return
	}

	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.mu.Unlock()

	off := 0
	for _, r := range batch {
		r.done <- result{vectors: vectors[off : off+len(r.texts)]}
		off += len(r.texts)
	}
}

// callWithRetry wraps the HTTP call with a small exponential backoff for
// transient failures. Terminal rejections are not retried.
func (c *Client) callWithRetry(texts []string) ([][]float32, error) {
	var out [][]float32
	attempts := 0
	op := func() error {
		attempts++
		v, err := c.call(texts)
		if err != nil {
			cls := domain.Classify(err)
			if !cls.Retryable || attempts > maxTransientRetries {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	expo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, expo); err != nil {
		return nil, err
	}
	return out, nil
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

func (c *Client) call(texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		observability.EmbedderRequestsTotal.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("embedder rate wait: %w", ctx.Err())
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		observability.EmbedderRequestsTotal.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("embedder slot wait: %w", ctx.Err())
	}
	defer c.sem.Release(1)

	b, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: encode embed request: %v", domain.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedPath, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: build embed request: %v", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			observability.EmbedderRequestsTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("embedder after %s: %w", c.timeout, ctxErr)
		}
		observability.EmbedderRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: embedder: %v", domain.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.EmbedderRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, fmt.Errorf("%w: embedder status 429", domain.ErrRateLimited)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		observability.EmbedderRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: embedder status %d", domain.ErrInvalidInput, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		observability.EmbedderRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: embedder status %d", domain.ErrExternalService, resp.StatusCode)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		observability.EmbedderRequestsTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: embedder returned malformed body: %v", domain.ErrExternalService, err)
	}
	if len(er.Vectors) != len(texts) {
		observability.EmbedderRequestsTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrExternalService, len(er.Vectors), len(texts))
	}
	observability.EmbedderRequestsTotal.WithLabelValues("ok").Inc()
	return er.Vectors, nil
}

// countTokens estimates the token cost of texts for batch budgeting. When the
// encoding is unavailable a bytes/4 heuristic keeps batches roughly bounded.
func (c *Client) countTokens(texts []string) int {
	n := 0
	for _, t := range texts {
		if c.enc != nil {
			n += len(c.enc.Encode(t, nil, nil))
			continue
		}
		n += len(t)/4 + 1
	}
	return n
}

// CountTokens exposes the token estimate for one text; the ingestion handler
// uses it for chunking.
func (c *Client) CountTokens(text string) int {
	return c.countTokens([]string{text})
}
