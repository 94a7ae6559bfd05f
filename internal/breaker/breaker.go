// Package breaker implements the circuit breaker guarding each external
// dependency. One Breaker instance protects one dependency; instances are
// constructor-injected so tests can substitute their own.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// State is the breaker state machine position.
type State int

const (
	// StateClosed allows calls to pass through.
	StateClosed State = iota
	// StateOpen rejects calls without downstream I/O.
	StateOpen
	// StateHalfOpen admits a single probe call at a time.
	StateHalfOpen
)

// String returns the wire/metric name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker instance. Zero values pick the defaults.
type Config struct {
	// Name identifies the guarded dependency in logs and errors.
	Name string
	// FailureThreshold is the consecutive qualifying failures that open the
	// breaker. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before admitting a
	// probe. Default 60s.
	ResetTimeout time.Duration
	// SuccessThreshold is the probe successes required to close again.
	// Default 1, capped at 3.
	SuccessThreshold int
	// CountTimeouts makes timeout-class failures qualify toward the failure
	// threshold. Off by default: a slow dependency is not a rejecting one.
	CountTimeouts bool
	// OnStateChange, when set, observes every transition. It runs under the
	// breaker's lock and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use;
// transitions are atomic under one mutex so concurrent callers observe a
// consistent state.
type Breaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	successThreshold int
	countTimeouts    bool
	onStateChange    func(string, State, State)

	mu          sync.Mutex
	state       State
	failures    int // consecutive qualifying failures while closed
	successes   int // probe successes while half-open
	probing     bool
	openedAt    time.Time
	lastSuccess time.Time
	lastFailure time.Time

	totalRequests int64
	totalFailures int64
}

// New builds a Breaker from cfg, applying defaults for zero values.
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "dependency"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.SuccessThreshold > 3 {
		cfg.SuccessThreshold = 3
	}
	return &Breaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		successThreshold: cfg.SuccessThreshold,
		countTimeouts:    cfg.CountTimeouts,
		onStateChange:    cfg.OnStateChange,
		state:            StateClosed,
	}
}

// State returns the current state, promoting open to half_open when the
// reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen(time.Now())
	return b.state
}

// Attempt runs fn through the breaker. When the breaker is open (or the
// half-open probe slot is taken) it returns an error wrapping
// domain.ErrBreakerOpen without invoking fn. Otherwise fn's error is
// recorded and returned unchanged.
func (b *Breaker) Attempt(ctx domain.Context, fn func(domain.Context) error) error {
	if !b.Allow() {
		return fmt.Errorf("%w: %s", domain.ErrBreakerOpen, b.name)
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure(err)
		return err
	}
	b.RecordSuccess()
	return nil
}

// Allow reports whether a call may proceed, reserving the half-open probe
// slot when it does. A caller that receives true must follow up with
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.maybeHalfOpen(now)

	switch b.state {
	case StateClosed:
		b.totalRequests++
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		b.totalRequests++
		return true
	default:
		return false
	}
}

// RecordSuccess registers a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = time.Now()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(StateClosed)
			b.failures = 0
		}
	}
}

// RecordFailure registers a failed call. Errors that classify as timeouts
// are ignored unless CountTimeouts is set, and breaker-open errors never
// count against the dependency.
func (b *Breaker) RecordFailure(err error) {
	qualifying := b.qualifies(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailure = now
	b.totalFailures++

	switch b.state {
	case StateClosed:
		if !qualifying {
			return
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		if !qualifying {
			return
		}
		b.successes = 0
		b.openedAt = now
		b.transition(StateOpen)
	}
}

// Snapshot is a point-in-time view of the breaker for health payloads.
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"consecutive_failures"`
	TotalRequests int64     `json:"total_requests"`
	TotalFailures int64     `json:"total_failures"`
	LastSuccess   time.Time `json:"last_success,omitempty"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
}

// Snapshot returns current counters and state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen(time.Now())
	return Snapshot{
		Name:          b.name,
		State:         b.state.String(),
		Failures:      b.failures,
		TotalRequests: b.totalRequests,
		TotalFailures: b.totalFailures,
		LastSuccess:   b.lastSuccess,
		LastFailure:   b.lastFailure,
	}
}

// qualifies reports whether err counts toward the failure threshold.
func (b *Breaker) qualifies(err error) bool {
	if err == nil {
		return false
	}
	c := domain.Classify(err)
	switch c.Class {
	case domain.ClassBreakerOpen:
		return false
	case domain.ClassTimeout:
		return b.countTimeouts
	default:
		return true
	}
}

// maybeHalfOpen promotes open to half_open once the reset timeout elapses.
// Caller holds b.mu.
func (b *Breaker) maybeHalfOpen(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.resetTimeout {
		b.successes = 0
		b.probing = false
		b.transition(StateHalfOpen)
	}
}

// transition moves to next and notifies observers. Caller holds b.mu.
func (b *Breaker) transition(next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	slog.Info("circuit breaker state change",
		slog.String("breaker", b.name),
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
		slog.Int("consecutive_failures", b.failures))
	if b.onStateChange != nil {
		b.onStateChange(b.name, prev, next)
	}
}
