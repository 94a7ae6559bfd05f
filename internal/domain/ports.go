package domain

import "time"

// AnalyzeOptions tunes a single analyzer call.
type AnalyzeOptions struct {
	Language    string         `json:"language,omitempty"`
	MaxPatterns int            `json:"max_patterns,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Entity is one unit extracted by the analyzer.
type Entity struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Line       int            `json:"line,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Relationship links two extracted entities.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// AnalysisObject is the validated shape returned by the analyzer service.
type AnalysisObject struct {
	Entities      []Entity       `json:"entities,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Patterns      []string       `json:"patterns,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Analyzer (port) fronts the external analyzer service behind cache and
// breaker.
type Analyzer interface {
	AnalyzeSemantic(ctx Context, content string, context map[string]any, opts AnalyzeOptions) (AnalysisObject, error)
	ExtractDocument(ctx Context, content string, opts AnalyzeOptions) (AnalysisObject, error)
}

// Embedder (port) returns one vector per input text, same order.
type Embedder interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
}

// Pattern is a stored success pattern. Parent linkage is by ID only; in-memory
// traversals follow IDs, never object pointers.
type Pattern struct {
	ID           string            `json:"id"`
	ParentID     string            `json:"parent_id,omitempty"`
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	Domain       string            `json:"domain,omitempty"`
	Language     string            `json:"language,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	QualityScore float64           `json:"quality_score"`
	SuccessRate  float64           `json:"success_rate"`
	UsageCount   int64             `json:"usage_count"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at,omitempty"`
}

// PatternFilters narrows a pattern lookup. ID short-circuits the rest.
type PatternFilters struct {
	ID       string
	Kind     string
	Domain   string
	Language string
	Keywords []string
	Limit    int
}

// PatternStore (port) is the opaque pattern_lookup capability.
type PatternStore interface {
	Lookup(ctx Context, filters PatternFilters) ([]Pattern, error)
}

// VectorHit is one vector_search result.
type VectorHit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// VectorPoint is one upsert unit. IDs are deterministic so redelivered
// records upsert idempotently.
type VectorPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// VectorStore (port) is the opaque vector_search capability plus the upsert
// used by ingestion.
type VectorStore interface {
	Search(ctx Context, embedding []float32, filter map[string]any, limit int) ([]VectorHit, error)
	Upsert(ctx Context, points []VectorPoint) error
}

// GraphRecord is one row returned by graph_query.
type GraphRecord map[string]any

// GraphStore (port) is the opaque graph_query capability.
type GraphStore interface {
	Query(ctx Context, query string, params map[string]any) ([]GraphRecord, error)
}

// SchemaColumn, SchemaTable and SchemaCatalog shape schema_introspect output.
type SchemaColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

type SchemaTable struct {
	Schema  string         `json:"schema"`
	Name    string         `json:"name"`
	Columns []SchemaColumn `json:"columns"`
}

type SchemaCatalog struct {
	Scope  string        `json:"scope"`
	Tables []SchemaTable `json:"tables"`
}

// SchemaStore (port) is the opaque schema_introspect capability.
type SchemaStore interface {
	Introspect(ctx Context, scope string) (SchemaCatalog, error)
}

// OutcomeStore (port) records terminal outcomes per event_id so a replayed
// envelope cannot produce a second terminal outcome. MarkTerminal returns
// false when the event already has a terminal marker.
type OutcomeStore interface {
	MarkTerminal(ctx Context, eventID string, outcome string) (bool, error)
}

// EventPublisher (port) publishes terminal and retry envelopes. PublishRetry
// targets the envelope's source topic and carries the accumulated retry
// history so any consumer instance can continue the provenance chain; the
// others target their family topics.
type EventPublisher interface {
	PublishCompletion(ctx Context, env Envelope) error
	PublishFailure(ctx Context, env Envelope) error
	PublishRetry(ctx Context, env Envelope, history []RetryAttempt) error
}

// DeadLetterPublisher (port) publishes exactly one DLQ event per
// terminally-failed input; publication is durable before offsets commit.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx Context, letter DeadLetter) error
}
