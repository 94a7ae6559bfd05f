// Package domain defines the event model, error taxonomy, retry entities and
// ports of the intelligence pipeline. It depends on no adapter package.
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EventType discriminates envelopes on the bus. Request families are consumed
// by the engine; terminal families are produced by it.
type EventType string

const (
	EventCodeAnalysisRequested EventType = "code-analysis-requested"
	EventCodeAnalysisCompleted EventType = "code-analysis-completed"
	EventCodeAnalysisFailed    EventType = "code-analysis-failed"
	EventDocumentIngested      EventType = "document-ingested"
	EventDocumentProcessed     EventType = "document-processed"
	EventDocumentFailed        EventType = "document-failed"
	EventDeadLettered          EventType = "intelligence-dlq"
)

var knownEventTypes = map[EventType]struct{}{
	EventCodeAnalysisRequested: {},
	EventCodeAnalysisCompleted: {},
	EventCodeAnalysisFailed:    {},
	EventDocumentIngested:      {},
	EventDocumentProcessed:     {},
	EventDocumentFailed:        {},
	EventDeadLettered:          {},
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// IsRequest reports whether envelopes of this type are units of work for the
// engine (as opposed to terminal outcomes it produces).
func (t EventType) IsRequest() bool {
	return t == EventCodeAnalysisRequested || t == EventDocumentIngested
}

// Source identifies the producing service and instance of an envelope.
type Source struct {
	Service  string `json:"service"`
	Instance string `json:"instance,omitempty"`
}

// Envelope is the uniform wrapper carried by every bus message. Envelopes are
// immutable once published; a retried message is a new envelope with the same
// correlation_id and an incremented retry_count.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        Source          `json:"source"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RetryCount    int             `json:"retry_count,omitempty"`
}

// NewEventID returns a ULID string. ULIDs sort by creation time, which keeps
// bus dumps and DLQ audits readable.
func NewEventID() string { return ulid.Make().String() }

// NewCorrelationID returns a UUID string shared by all envelopes of one
// logical operation.
func NewCorrelationID() string { return uuid.NewString() }

// NewEnvelope builds a publishable envelope around payload. The payload is
// marshaled immediately so a bad value fails here, not at publish time.
func NewEnvelope(t EventType, correlationID string, src Source, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: encode payload: %v", ErrInternal, err)
	}
	return Envelope{
		EventID:       NewEventID(),
		EventType:     t,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Source:        src,
		Payload:       raw,
	}, nil
}

// Encode serializes the envelope as UTF-8 JSON. Encoding is deterministic for
// a given value and refuses envelopes that would not decode back.
func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: encode envelope: %v", ErrInternal, err)
	}
	return b, nil
}

// DecodeEnvelope parses and validates an envelope. Every failure classifies as
// invalid_input; no partially-populated envelope escapes.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrInvalidInput, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate enforces the envelope invariants shared by every event family.
func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: envelope missing event_id", ErrInvalidInput)
	case e.EventType == "":
		return fmt.Errorf("%w: envelope missing event_type", ErrInvalidInput)
	case !e.EventType.Valid():
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidInput, e.EventType)
	case e.CorrelationID == "":
		return fmt.Errorf("%w: envelope missing correlation_id", ErrInvalidInput)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: envelope missing timestamp", ErrInvalidInput)
	case e.Source.Service == "":
		return fmt.Errorf("%w: envelope missing source.service", ErrInvalidInput)
	case e.RetryCount < 0:
		return fmt.Errorf("%w: negative retry_count", ErrInvalidInput)
	}
	return nil
}

// WithRetry derives the next retry envelope: fresh event_id and timestamp,
// identical correlation_id, source and payload, retry_count incremented.
func (e Envelope) WithRetry() Envelope {
	next := e
	next.EventID = NewEventID()
	next.Timestamp = time.Now().UTC()
	next.RetryCount = e.RetryCount + 1
	return next
}

// Context is an alias so adapters and handlers share the std context without
// the domain package naming it everywhere.
type Context = context.Context
