package kafka

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

// RetryMode selects how an eligible retry is redelivered.
type RetryMode string

const (
	// RetryModeBus republishes the retry envelope onto its source topic.
	RetryModeBus RetryMode = "bus"
	// RetryModeInProcess re-dispatches the envelope inside this process.
	RetryModeInProcess RetryMode = "inprocess"
)

// republishAttempts bounds the immediate redelivery attempts before the
// scheduler gives the envelope to the DLQ instead of losing it.
const republishAttempts = 3

// delayed is one entry of the delay queue.
type delayed struct {
	env        domain.Envelope
	eligibleAt time.Time
	index      int
}

// delayHeap is a min-heap keyed by eligibleAt.
type delayHeap []*delayed

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].eligibleAt.Before(h[j].eligibleAt) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *delayHeap) Push(x any)         { d := x.(*delayed); d.index = len(*h); *h = append(*h, d) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return d
}

// submission asks the scheduler to delay and redeliver one envelope.
type submission struct {
	env   domain.Envelope
	class domain.Classification
}

// resolution evicts retry state after a terminal outcome.
type resolution struct {
	correlationID string
}

// Scheduler owns the retry delay queue and the in-memory retry state map,
// keyed by correlation_id. It is a single goroutine; workers submit through
// channels and move on, never busy-waiting. Both redelivery modes share the
// same classification rules and backoff policy.
type Scheduler struct {
	policy    domain.RetryPolicy
	mode      RetryMode
	stateTTL  time.Duration
	publisher domain.EventPublisher
	dlq       domain.DeadLetterPublisher
	// redeliver handles in-process mode; wired by the engine before Start.
	redeliver func(env domain.Envelope, history []domain.RetryAttempt)

	submissions chan submission
	resolutions chan resolution

	mu     sync.Mutex
	states map[string]*domain.RetryState

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewScheduler builds a stopped scheduler; call Start to run it.
func NewScheduler(policy domain.RetryPolicy, mode RetryMode, stateTTL time.Duration, publisher domain.EventPublisher, dlq domain.DeadLetterPublisher) *Scheduler {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &Scheduler{
		policy:      policy,
		mode:        mode,
		stateTTL:    stateTTL,
		publisher:   publisher,
		dlq:         dlq,
		submissions: make(chan submission, 64),
		resolutions: make(chan resolution, 64),
		states:      make(map[string]*domain.RetryState),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetRedeliver wires the in-process redelivery sink. Must be called before
// Start when the mode is inprocess.
func (s *Scheduler) SetRedeliver(fn func(env domain.Envelope, history []domain.RetryAttempt)) {
	s.redeliver = fn
}

// Start runs the scheduler loop until Stop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop drains the delay queue before returning. The source offsets of
// pending retries were committed when the retries were accepted, so dropping
// them would leave records with no terminal outcome; instead each pending
// envelope is republished immediately, ignoring its remaining backoff, and
// dead-lettered when the bus is down.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Schedule accepts one retryable failure for delayed redelivery. The
// returned error is non-nil only when the scheduler is stopped; a nil return
// means the retry is owned by the scheduler and the caller may mark the
// source offset committable.
func (s *Scheduler) Schedule(env domain.Envelope, class domain.Classification, priorHistory []domain.RetryAttempt) error {
	if !class.Retryable {
		return fmt.Errorf("%w: scheduling non-retryable class %s", domain.ErrInternal, class.Class)
	}
	s.recordAttempt(env, class, priorHistory)
	select {
	case s.submissions <- submission{env: env, class: class}:
		return nil
	case <-s.stop:
		return fmt.Errorf("%w: retry scheduler stopped", domain.ErrInternal)
	}
}

// Resolve evicts the retry state of a correlation chain after its terminal
// outcome.
func (s *Scheduler) Resolve(correlationID string) {
	select {
	case s.resolutions <- resolution{correlationID: correlationID}:
	case <-s.stop:
	}
}

// History returns a copy of the accumulated attempts for one correlation
// chain. Used when the terminal failure happens in-process after earlier
// in-process retries.
func (s *Scheduler) History(correlationID string) []domain.RetryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[correlationID]
	if !ok {
		return nil
	}
	out := make([]domain.RetryAttempt, len(st.History))
	copy(out, st.History)
	return out
}

// ActiveCount reports envelopes currently tracked by the scheduler.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// recordAttempt folds the new failure into the correlation chain's state.
// The prior history seeds state for chains whose earlier attempts ran on a
// different instance (bus mode).
func (s *Scheduler) recordAttempt(env domain.Envelope, class domain.Classification, priorHistory []domain.RetryAttempt) {
	attempt := env.RetryCount + 1
	delay := s.policy.Delay(attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[env.CorrelationID]
	if !ok {
		st = &domain.RetryState{
			CorrelationID: env.CorrelationID,
			FirstSeen:     time.Now().UTC(),
			History:       append([]domain.RetryAttempt(nil), priorHistory...),
		}
		s.states[env.CorrelationID] = st
	}
	st.Attempts = attempt
	st.LastError = class.Message
	st.NextEligibleAt = time.Now().UTC().Add(delay)
	st.History = append(st.History, domain.RetryAttempt{
		Attempt: attempt,
		Class:   class.Class,
		Message: class.Message,
		Backoff: delay.String(),
		At:      time.Now().UTC(),
	})
	observability.RetriesScheduledTotal.WithLabelValues(class.Class.String()).Inc()
}

func (s *Scheduler) run() {
	defer close(s.done)

	var dq delayHeap
	heap.Init(&dq)

	sweep := time.NewTicker(s.stateTTL / 2)
	defer sweep.Stop()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if len(dq) == 0 {
			timer.Reset(time.Hour)
			return
		}
		d := time.Until(dq[0].eligibleAt)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}

	for {
		select {
		case <-s.stop:
			s.drain(&dq)
			observability.ActiveRetries.Set(0)
			return

		case sub := <-s.submissions:
			s.mu.Lock()
			eligible := time.Now()
			if st, ok := s.states[sub.env.CorrelationID]; ok {
				eligible = st.NextEligibleAt
			}
			s.mu.Unlock()
			heap.Push(&dq, &delayed{env: sub.env, eligibleAt: eligible})
			observability.ActiveRetries.Set(float64(len(dq)))
			rearm()

		case res := <-s.resolutions:
			s.mu.Lock()
			delete(s.states, res.correlationID)
			s.mu.Unlock()

		case <-timer.C:
			now := time.Now()
			for len(dq) > 0 && !dq[0].eligibleAt.After(now) {
				d := heap.Pop(&dq).(*delayed)
				s.fire(d.env)
			}
			observability.ActiveRetries.Set(float64(len(dq)))
			rearm()

		case <-sweep.C:
			s.evictStale()
		}
	}
}

// drain empties the pending queue at shutdown, including submissions still
// buffered in the channel. Every entry is republished onto the bus right
// away, regardless of mode: an in-process sink is a stopping engine, and an
// early retry beats a lost one.
func (s *Scheduler) drain(dq *delayHeap) {
	for {
		select {
		case sub := <-s.submissions:
			heap.Push(dq, &delayed{env: sub.env})
		default:
			if len(*dq) == 0 {
				return
			}
			d := heap.Pop(dq).(*delayed)
			slog.Info("redelivering pending retry at shutdown",
				slog.String("correlation_id", d.env.CorrelationID),
				slog.Int("retry_count", d.env.RetryCount+1))
			s.republish(d.env.WithRetry(), d.env, s.History(d.env.CorrelationID))
		}
	}
}

// fire redelivers one eligible retry as a fresh envelope with retry_count
// incremented.
func (s *Scheduler) fire(env domain.Envelope) {
	next := env.WithRetry()
	history := s.History(env.CorrelationID)

	if s.mode == RetryModeInProcess && s.redeliver != nil {
		slog.Debug("redelivering retry in-process",
			slog.String("correlation_id", next.CorrelationID),
			slog.Int("retry_count", next.RetryCount))
		s.redeliver(next, history)
		return
	}

	s.republish(next, env, history)
}

// republish pushes one retry back onto the bus. When publishing keeps
// failing, the envelope goes to the DLQ rather than vanishing: its source
// offset is already committed.
func (s *Scheduler) republish(next, original domain.Envelope, history []domain.RetryAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	for i := 0; i < republishAttempts; i++ {
		if err = s.publisher.PublishRetry(ctx, next, history); err == nil {
			slog.Info("retry republished",
				slog.String("correlation_id", next.CorrelationID),
				slog.String("event_type", string(next.EventType)),
				slog.Int("retry_count", next.RetryCount))
			return
		}
	}
	slog.Error("retry republish exhausted, dead-lettering",
		slog.String("correlation_id", next.CorrelationID),
		slog.Any("error", err))
	letter := domain.DeadLetter{
		Original:     original,
		ErrorClass:   domain.ClassExternalService,
		Message:      fmt.Sprintf("retry republish failed: %v", err),
		Reason:       "retry republish exhausted",
		RetryHistory: history,
		FailedAt:     time.Now().UTC(),
	}
	if dlqErr := s.dlq.PublishDeadLetter(ctx, letter); dlqErr != nil {
		slog.Error("dead-lettering failed retry republish also failed; envelope lost",
			slog.String("correlation_id", next.CorrelationID),
			slog.Any("error", dlqErr))
	}
	s.Resolve(original.CorrelationID)
}

// evictStale drops retry state idle past the TTL. The delay queue itself is
// bounded by max_retries and needs no sweeping.
func (s *Scheduler) evictStale() {
	cutoff := time.Now().UTC().Add(-s.stateTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.states {
		last := st.FirstSeen
		if n := len(st.History); n > 0 {
			last = st.History[n-1].At
		}
		if last.Before(cutoff) {
			delete(s.states, id)
		}
	}
}
