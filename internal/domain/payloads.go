package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType discriminates analysis request payloads. The set is closed;
// unknown values are a terminal validation error, never a runtime surprise.
type OperationType string

const (
	OpQualityAssessment       OperationType = "quality_assessment"
	OpOnexCompliance          OperationType = "onex_compliance"
	OpPatternExtraction       OperationType = "pattern_extraction"
	OpArchitecturalCompliance OperationType = "architectural_compliance"
	OpComprehensiveAnalysis   OperationType = "comprehensive_analysis"
	OpHybridScore             OperationType = "hybrid_score"
	OpInfrastructureScan      OperationType = "infrastructure_scan"
	OpModelDiscovery          OperationType = "model_discovery"
	OpSchemaDiscovery         OperationType = "schema_discovery"

	// OpDocumentIngestion keys the document-ingested family in the handler
	// table and metrics. It is not a valid analysis-request operation.
	OpDocumentIngestion OperationType = "document_ingestion"
)

// RequestPayload is the closed sum of request payload variants. Decoders
// return fully-validated values; no partial payload escapes.
type RequestPayload interface {
	Operation() OperationType
	Validate() error
}

// requestDecoders is the static tag-to-type table for analysis requests.
var requestDecoders = map[OperationType]func() RequestPayload{
	OpQualityAssessment:       func() RequestPayload { return &QualityAssessmentRequest{} },
	OpOnexCompliance:          func() RequestPayload { return &OnexComplianceRequest{} },
	OpPatternExtraction:       func() RequestPayload { return &PatternExtractionRequest{} },
	OpArchitecturalCompliance: func() RequestPayload { return &ArchitecturalComplianceRequest{} },
	OpComprehensiveAnalysis:   func() RequestPayload { return &ComprehensiveAnalysisRequest{} },
	OpHybridScore:             func() RequestPayload { return &HybridScoreRequest{} },
	OpInfrastructureScan:      func() RequestPayload { return &InfrastructureScanRequest{} },
	OpModelDiscovery:          func() RequestPayload { return &ModelDiscoveryRequest{} },
	OpSchemaDiscovery:         func() RequestPayload { return &SchemaDiscoveryRequest{} },
}

// Operations lists the analysis operations in table order. Handler wiring and
// tests iterate this rather than restating the set.
func Operations() []OperationType {
	return []OperationType{
		OpQualityAssessment,
		OpOnexCompliance,
		OpPatternExtraction,
		OpArchitecturalCompliance,
		OpComprehensiveAnalysis,
		OpHybridScore,
		OpInfrastructureScan,
		OpModelDiscovery,
		OpSchemaDiscovery,
	}
}

// Valid reports whether o is a known analysis operation.
func (o OperationType) Valid() bool {
	_, ok := requestDecoders[o]
	return ok
}

// DecodeWork extracts the typed unit of work from a request envelope,
// routing by event family. Non-request event types are invalid_input.
func DecodeWork(env Envelope) (RequestPayload, error) {
	switch env.EventType {
	case EventCodeAnalysisRequested:
		return DecodeAnalysisRequest(env)
	case EventDocumentIngested:
		return DecodeDocumentIngestion(env)
	default:
		return nil, fmt.Errorf("%w: event_type %q is not a unit of work", ErrInvalidInput, env.EventType)
	}
}

// DecodeAnalysisRequest resolves the operation tag and decodes the matching
// payload variant. Unknown or missing operations are invalid_input.
func DecodeAnalysisRequest(env Envelope) (RequestPayload, error) {
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty request payload", ErrInvalidInput)
	}
	var probe struct {
		Operation OperationType `json:"operation"`
	}
	if err := json.Unmarshal(env.Payload, &probe); err != nil {
		return nil, fmt.Errorf("%w: request payload: %v", ErrInvalidInput, err)
	}
	if probe.Operation == "" {
		return nil, fmt.Errorf("%w: request payload missing operation", ErrInvalidInput)
	}
	mk, ok := requestDecoders[probe.Operation]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, probe.Operation)
	}
	p := mk()
	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidInput, probe.Operation, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeDocumentIngestion decodes the payload of a document-ingested
// envelope.
func DecodeDocumentIngestion(env Envelope) (RequestPayload, error) {
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty document payload", ErrInvalidInput)
	}
	var p DocumentIngestion
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: document payload: %v", ErrInvalidInput, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// QualityAssessmentRequest asks for source-quality metrics backed by one
// semantic analysis pass.
type QualityAssessmentRequest struct {
	Op         OperationType  `json:"operation"`
	SourcePath string         `json:"source_path" validate:"required"`
	Content    string         `json:"content" validate:"required"`
	Language   string         `json:"language,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

func (r *QualityAssessmentRequest) Operation() OperationType { return OpQualityAssessment }
func (r *QualityAssessmentRequest) Validate() error          { return validateStruct(r) }

// OnexComplianceRequest asks for ONEX convention checks over one source unit.
type OnexComplianceRequest struct {
	Op         OperationType     `json:"operation"`
	SourcePath string            `json:"source_path" validate:"required"`
	Content    string            `json:"content" validate:"required"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RuleSet    string            `json:"rule_set,omitempty"`
}

func (r *OnexComplianceRequest) Operation() OperationType { return OpOnexCompliance }
func (r *OnexComplianceRequest) Validate() error          { return validateStruct(r) }

// PatternExtractionRequest asks for reusable patterns mined from content,
// enriched with similar known patterns from the vector store.
type PatternExtractionRequest struct {
	Op          OperationType `json:"operation"`
	SourcePath  string        `json:"source_path" validate:"required"`
	Content     string        `json:"content" validate:"required"`
	Language    string        `json:"language,omitempty"`
	MaxPatterns int           `json:"max_patterns,omitempty" validate:"omitempty,gte=1,lte=100"`
}

func (r *PatternExtractionRequest) Operation() OperationType { return OpPatternExtraction }
func (r *PatternExtractionRequest) Validate() error          { return validateStruct(r) }

// ArchitecturalComplianceRequest asks for layering/dependency rule checks over
// a scope known to the graph store.
type ArchitecturalComplianceRequest struct {
	Op      OperationType `json:"operation"`
	Scope   string        `json:"scope" validate:"required"`
	Rules   []string      `json:"rules,omitempty"`
	Content string        `json:"content,omitempty"`
}

func (r *ArchitecturalComplianceRequest) Operation() OperationType { return OpArchitecturalCompliance }
func (r *ArchitecturalComplianceRequest) Validate() error          { return validateStruct(r) }

// ComprehensiveAnalysisRequest asks for the full enrichment pass: entities,
// optional embeddings, optional relationships. Sub-failures degrade to a
// partial result unless terminal.
type ComprehensiveAnalysisRequest struct {
	Op                   OperationType  `json:"operation"`
	SourcePath           string         `json:"source_path" validate:"required"`
	Content              string         `json:"content" validate:"required"`
	Language             string         `json:"language,omitempty"`
	IncludeEmbeddings    bool           `json:"include_embeddings,omitempty"`
	IncludeRelationships bool           `json:"include_relationships,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
}

func (r *ComprehensiveAnalysisRequest) Operation() OperationType { return OpComprehensiveAnalysis }
func (r *ComprehensiveAnalysisRequest) Validate() error          { return validateStruct(r) }

// ScoreMetadata carries the optional score dimensions attached to a pattern.
// Pointers distinguish absent from zero; absent dimensions default to 0.5 in
// the scorer.
type ScoreMetadata struct {
	QualityScore    *float64 `json:"quality_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	SuccessRate     *float64 `json:"success_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	SemanticScore   *float64 `json:"semantic_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ScorePattern is the pattern side of a hybrid-score request: inline keywords
// and metadata, or a pattern_id resolved through the pattern store.
type ScorePattern struct {
	PatternID string        `json:"pattern_id,omitempty"`
	Keywords  []string      `json:"keywords,omitempty"`
	Metadata  ScoreMetadata `json:"metadata,omitempty"`
}

// ScoreContext is the task side of a hybrid-score request.
type ScoreContext struct {
	Keywords []string `json:"keywords,omitempty"`
}

// ScoreWeights optionally overrides the default dimension weights. Absent
// fields fall back per-dimension.
type ScoreWeights struct {
	Keyword     *float64 `json:"keyword,omitempty" validate:"omitempty,gte=0"`
	Semantic    *float64 `json:"semantic,omitempty" validate:"omitempty,gte=0"`
	Quality     *float64 `json:"quality,omitempty" validate:"omitempty,gte=0"`
	SuccessRate *float64 `json:"success_rate,omitempty" validate:"omitempty,gte=0"`
}

// TaskTraits feed adaptive weighting.
type TaskTraits struct {
	Complexity string `json:"complexity,omitempty" validate:"omitempty,oneof=low medium high"`
	Domain     string `json:"domain,omitempty"`
}

// HybridScoreRequest asks for a pure hybrid-score computation; the only I/O
// is an optional pattern lookup when pattern_id is set.
type HybridScoreRequest struct {
	Op      OperationType `json:"operation"`
	Pattern ScorePattern  `json:"pattern"`
	Context ScoreContext  `json:"context"`
	Weights *ScoreWeights `json:"weights,omitempty"`
	Task    *TaskTraits   `json:"task_characteristics,omitempty"`
}

func (r *HybridScoreRequest) Operation() OperationType { return OpHybridScore }
func (r *HybridScoreRequest) Validate() error          { return validateStruct(r) }

// InfrastructureScanRequest asks for an inventory assembled from the schema
// and graph capabilities. Each sub-query may partially fail.
type InfrastructureScanRequest struct {
	Op      OperationType `json:"operation"`
	Scope   string        `json:"scope,omitempty"`
	Include []string      `json:"include,omitempty" validate:"omitempty,dive,oneof=schemas graph"`
}

func (r *InfrastructureScanRequest) Operation() OperationType { return OpInfrastructureScan }
func (r *InfrastructureScanRequest) Validate() error          { return validateStruct(r) }

// ModelDiscoveryRequest asks for model definitions known to the pattern
// store, optionally enriched with vector-similar models.
type ModelDiscoveryRequest struct {
	Op      OperationType     `json:"operation"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty" validate:"omitempty,gte=1,lte=500"`
}

func (r *ModelDiscoveryRequest) Operation() OperationType { return OpModelDiscovery }
func (r *ModelDiscoveryRequest) Validate() error          { return validateStruct(r) }

// SchemaDiscoveryRequest asks for relational catalog introspection. An empty
// scope means the default schema.
type SchemaDiscoveryRequest struct {
	Op    OperationType `json:"operation"`
	Scope string        `json:"scope,omitempty"`
}

func (r *SchemaDiscoveryRequest) Operation() OperationType { return OpSchemaDiscovery }
func (r *SchemaDiscoveryRequest) Validate() error          { return validateStruct(r) }

// DocumentIngestion is the payload of a document-ingested envelope.
type DocumentIngestion struct {
	DocumentID  string            `json:"document_id" validate:"required"`
	SourcePath  string            `json:"source_path,omitempty"`
	Content     string            `json:"content" validate:"required"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (p *DocumentIngestion) Operation() OperationType { return OpDocumentIngestion }
func (p *DocumentIngestion) Validate() error          { return validateStruct(p) }

// Completion statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
)

// AnalysisCompleted is the completion payload for both event families. For
// document-processed events Operation is document_ingestion.
type AnalysisCompleted struct {
	Operation      OperationType  `json:"operation"`
	Status         string         `json:"status"`
	PartialResults bool           `json:"partial_results,omitempty"`
	Degraded       []string       `json:"degraded,omitempty"`
	Result         map[string]any `json:"result"`
	DurationMS     int64          `json:"duration_ms"`
}

// AnalysisFailed is the failure payload published alongside the DLQ event for
// terminally-failed inputs.
type AnalysisFailed struct {
	Operation    OperationType  `json:"operation,omitempty"`
	ErrorClass   ErrorClass     `json:"error_class"`
	Message      string         `json:"message"`
	Retryable    bool           `json:"retry_allowed"`
	RetryCount   int            `json:"retry_count"`
	RetryHistory []RetryAttempt `json:"retry_history"`
	FailedAt     time.Time      `json:"failed_at"`
}
