package kafka

import (
	"sync"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// fakeBus records published envelopes and dead letters; errors are injectable
// per method.
type fakeBus struct {
	mu          sync.Mutex
	completions []domain.Envelope
	failures    []domain.Envelope
	retries     []domain.Envelope
	histories   [][]domain.RetryAttempt
	letters     []domain.DeadLetter

	completionErr error
	failureErr    error
	retryErr      error
	letterErr     error
}

func (b *fakeBus) PublishCompletion(_ domain.Context, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.completionErr != nil {
		return b.completionErr
	}
	b.completions = append(b.completions, env)
	return nil
}

func (b *fakeBus) PublishFailure(_ domain.Context, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failureErr != nil {
		return b.failureErr
	}
	b.failures = append(b.failures, env)
	return nil
}

func (b *fakeBus) PublishRetry(_ domain.Context, env domain.Envelope, history []domain.RetryAttempt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retryErr != nil {
		return b.retryErr
	}
	b.retries = append(b.retries, env)
	b.histories = append(b.histories, history)
	return nil
}

func (b *fakeBus) PublishDeadLetter(_ domain.Context, letter domain.DeadLetter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.letterErr != nil {
		return b.letterErr
	}
	b.letters = append(b.letters, letter)
	return nil
}

func (b *fakeBus) retryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.retries)
}

func (b *fakeBus) letterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.letters)
}

// fakeDispatcher routes every Execute through fn.
type fakeDispatcher struct {
	fn func(ctx domain.Context, req domain.RequestPayload) (domain.AnalysisCompleted, error)
}

func (d *fakeDispatcher) Execute(ctx domain.Context, req domain.RequestPayload) (domain.AnalysisCompleted, error) {
	return d.fn(ctx, req)
}

// fakeOutcomes is an OutcomeStore with scripted answers.
type fakeOutcomes struct {
	mu    sync.Mutex
	first bool
	err   error
	seen  []string
}

func (o *fakeOutcomes) MarkTerminal(_ domain.Context, eventID, _ string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, eventID)
	return o.first, o.err
}
