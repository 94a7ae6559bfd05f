package domain

import (
	"context"
	"errors"
)

// Error taxonomy (sentinels). Adapters wrap these with fmt.Errorf("%w: ...")
// so Classify can walk the chain with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrParsing             = errors.New("parsing error")
	ErrTimeout             = errors.New("timeout")
	ErrExternalService     = errors.New("external service error")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInternal            = errors.New("internal error")
	ErrBreakerOpen         = errors.New("circuit breaker open")
)

// ErrorClass is the closed classification set carried on failure and DLQ
// events.
type ErrorClass string

const (
	ClassInvalidInput        ErrorClass = "invalid_input"
	ClassUnsupportedLanguage ErrorClass = "unsupported_language"
	ClassParsing             ErrorClass = "parsing_error"
	ClassTimeout             ErrorClass = "timeout"
	ClassExternalService     ErrorClass = "external_service_error"
	ClassRateLimited         ErrorClass = "rate_limit_exceeded"
	ClassInternal            ErrorClass = "internal_error"
	ClassBreakerOpen         ErrorClass = "circuit_breaker_open"
)

// retryableClasses fixes which classes the retry scheduler may act on. The
// same table drives bus-republish and in-process redelivery modes.
var retryableClasses = map[ErrorClass]bool{
	ClassTimeout:         true,
	ClassExternalService: true,
	ClassBreakerOpen:     true,
	ClassRateLimited:     true,

	ClassInvalidInput:        false,
	ClassUnsupportedLanguage: false,
	ClassParsing:             false,
	ClassInternal:            false,
}

// Retryable reports whether the class qualifies for backoff-and-retry.
func (c ErrorClass) Retryable() bool { return retryableClasses[c] }

func (c ErrorClass) String() string { return string(c) }

// Classification is the classifier's verdict for one failure. RetryCount is
// filled in by the engine from the envelope being processed.
type Classification struct {
	Class      ErrorClass `json:"error_class"`
	Retryable  bool       `json:"retry_allowed"`
	Message    string     `json:"message"`
	RetryCount int        `json:"retry_count"`
}

// Classify maps any error onto the closed taxonomy. It returns a value and
// never panics; errors outside the taxonomy are implementation bugs and
// classify as terminal internal_error.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: ClassInternal, Retryable: false, Message: "classify called with nil error"}
	}
	c := Classification{Message: err.Error()}
	switch {
	case errors.Is(err, ErrBreakerOpen):
		c.Class = ClassBreakerOpen
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.Class = ClassTimeout
	case errors.Is(err, ErrRateLimited):
		c.Class = ClassRateLimited
	case errors.Is(err, ErrExternalService):
		c.Class = ClassExternalService
	case errors.Is(err, ErrInvalidInput):
		c.Class = ClassInvalidInput
	case errors.Is(err, ErrUnsupportedLanguage):
		c.Class = ClassUnsupportedLanguage
	case errors.Is(err, ErrParsing):
		c.Class = ClassParsing
	case errors.Is(err, context.Canceled):
		// Shutdown interruption: the record is surrendered and redelivered,
		// so classify as a retryable timeout rather than a bug.
		c.Class = ClassTimeout
	default:
		c.Class = ClassInternal
	}
	c.Retryable = c.Class.Retryable()
	return c
}
