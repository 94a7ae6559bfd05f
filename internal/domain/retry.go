package domain

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the retry subsystem. Delays follow
// min(base * 2^(n-1), cap) for attempt n, with optional jitter.
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns the stock policy: three retries at roughly
// 2s/4s/8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 2 * time.Second,
		BackoffCap:  60 * time.Second,
		Jitter:      true,
	}
}

// Delay computes the backoff before retry attempt n (1-based). Jitter adds up
// to 10% so synchronized consumers fan out without obscuring the schedule.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffCap || delay < 0 {
			delay = p.BackoffCap
			break
		}
	}
	if delay > p.BackoffCap {
		delay = p.BackoffCap
	}
	if p.Jitter && delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay)/10 + 1))
	}
	return delay
}

// RetryAttempt is one entry of the retry history carried on failure and DLQ
// events, and across republished retries via the retry-history record header.
type RetryAttempt struct {
	Attempt int        `json:"attempt"`
	Class   ErrorClass `json:"error_class"`
	Message string     `json:"error"`
	Backoff string     `json:"backoff"`
	At      time.Time  `json:"timestamp"`
}

// RetryState is the scheduler's in-memory record for one correlation_id.
// Ephemeral: evicted on terminal outcome or TTL.
type RetryState struct {
	CorrelationID  string
	Attempts       int
	FirstSeen      time.Time
	LastError      string
	NextEligibleAt time.Time
	History        []RetryAttempt
}

// DeadLetter is the DLQ event payload: the original envelope plus full
// failure provenance for offline inspection.
type DeadLetter struct {
	Original      Envelope       `json:"original_event"`
	ErrorClass    ErrorClass     `json:"error_class"`
	Message       string         `json:"error_message"`
	Reason        string         `json:"failure_reason"`
	RetryHistory  []RetryAttempt `json:"retry_history"`
	FailedAt      time.Time      `json:"failed_at"`
	ConsumerGroup string         `json:"consumer_group,omitempty"`
	Service       string         `json:"service,omitempty"`
}
