// Package httpapi implements the graph_query capability against the graph
// service's HTTP endpoint.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// Client is the HTTP-backed GraphStore.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds the client. The timeout bounds every query.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type queryRequest struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

type queryResponse struct {
	Records []domain.GraphRecord `json:"records"`
}

// Query runs one graph query and returns its records.
func (c *Client) Query(ctx context.Context, query string, params map[string]any) ([]domain.GraphRecord, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty graph query", domain.ErrInvalidInput)
	}
	body, err := json.Marshal(queryRequest{Query: query, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: encode graph query: %v", domain.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: graph request: %v", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: graph query", domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: graph query: %v", domain.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: graph query: read body: %v", domain.ErrExternalService, err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: graph query rejected: %s", domain.ErrInvalidInput, truncateBody(raw))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: graph query status %d", domain.ErrExternalService, resp.StatusCode)
	}

	var out queryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: graph query response: %v", domain.ErrExternalService, err)
	}
	return out.Records, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
