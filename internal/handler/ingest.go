package handler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
	"github.com/OmniNode-ai/omniintelligence-sub016/pkg/textx"
)

// chunkTokenBudget caps one chunk's estimated tokens; chunks stay well under
// the embedder's per-batch token ceiling.
const chunkTokenBudget = 512

func (h *handlers) ingestDocument(ctx domain.Context, req domain.RequestPayload) (map[string]any, []string, error) {
	p, ok := req.(*domain.DocumentIngestion)
	if !ok {
		return nil, nil, fmt.Errorf("%w: document payload type %T", domain.ErrInternal, req)
	}
	lg := observability.LoggerFromContext(ctx)

	content := textx.SanitizeText(p.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil, fmt.Errorf("%w: document %s has no usable content", domain.ErrInvalidInput, p.DocumentID)
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = mimetype.Detect([]byte(content)).String()
	}

	chunks := chunkByTokens(content, chunkTokenBudget, h.countTokens)
	result := map[string]any{
		"document_id":  p.DocumentID,
		"content_type": contentType,
		"chunk_count":  len(chunks),
		"vector_count": 0,
	}

	// The document is registered even when vectors cannot be produced; those
	// failures degrade instead of failing the ingestion.
	if h.Embedder == nil || h.Vectors == nil {
		return result, []string{"vectors"}, nil
	}
	vectors, err := h.Embedder.Embed(ctx, chunks)
	if err != nil {
		lg.Warn("document embedding degraded", slog.Any("error", err))
		return result, []string{"embedding"}, nil
	}

	points := make([]domain.VectorPoint, 0, len(vectors))
	for i, vec := range vectors {
		points = append(points, domain.VectorPoint{
			// document_id:chunk_index keys the point, so a redelivered
			// ingestion overwrites instead of duplicating.
			ID:     fmt.Sprintf("%s:%d", p.DocumentID, i),
			Vector: vec,
			Payload: map[string]any{
				"document_id":  p.DocumentID,
				"chunk_index":  i,
				"source_path":  p.SourcePath,
				"content_type": contentType,
				"text":         textx.Truncate(chunks[i], 512),
				"kind":         "document",
			},
		})
	}
	sctx, cancel := h.storeCtx(ctx)
	err = h.Vectors.Upsert(sctx, points)
	cancel()
	if err != nil {
		// Upserts are idempotent, so the whole ingestion can safely retry.
		return nil, nil, err
	}

	result["vector_count"] = len(points)
	return result, nil, nil
}

// countTokens estimates tokens through the configured counter, falling back
// to the bytes/4 heuristic.
func (h *handlers) countTokens(text string) int {
	if h.Tokens != nil {
		return h.Tokens.CountTokens(text)
	}
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// chunkByTokens splits content on paragraph boundaries, packing paragraphs
// into chunks under the token budget. A single oversized paragraph splits on
// line boundaries, and as a last resort by runes.
func chunkByTokens(content string, budget int, count func(string) int) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentTokens = 0
	}

	for _, para := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		tokens := count(para)
		if tokens > budget {
			flush()
			chunks = append(chunks, splitOversized(para, budget, count)...)
			continue
		}
		if currentTokens+tokens > budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += tokens
	}
	flush()
	return chunks
}

func splitOversized(para string, budget int, count func(string) int) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0
	for _, line := range strings.Split(para, "\n") {
		tokens := count(line)
		if tokens > budget {
			if s := strings.TrimSpace(current.String()); s != "" {
				chunks = append(chunks, s)
			}
			current.Reset()
			currentTokens = 0
			chunks = append(chunks, splitByRunes(line, budget)...)
			continue
		}
		if currentTokens+tokens > budget {
			if s := strings.TrimSpace(current.String()); s != "" {
				chunks = append(chunks, s)
			}
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		currentTokens += tokens
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// splitByRunes is the rune-window fallback for pathological single lines,
// sized by the bytes/4 heuristic.
func splitByRunes(line string, budget int) []string {
	runes := []rune(line)
	window := budget * 4
	if window <= 0 {
		window = 1
	}
	var chunks []string
	for start := 0; start < len(runes); start += window {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			chunks = append(chunks, s)
		}
	}
	return chunks
}
