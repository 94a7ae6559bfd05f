package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass domain.ErrorClass
		wantRetry bool
	}{
		{"timeout sentinel", fmt.Errorf("%w: analyzer call", domain.ErrTimeout), domain.ClassTimeout, true},
		{"deadline exceeded", context.DeadlineExceeded, domain.ClassTimeout, true},
		{"wrapped deadline", fmt.Errorf("analyze: %w", context.DeadlineExceeded), domain.ClassTimeout, true},
		{"external service", fmt.Errorf("%w: status 502", domain.ErrExternalService), domain.ClassExternalService, true},
		{"breaker open", domain.ErrBreakerOpen, domain.ClassBreakerOpen, true},
		{"rate limited", fmt.Errorf("%w: 429", domain.ErrRateLimited), domain.ClassRateLimited, true},
		{"invalid input", fmt.Errorf("%w: missing source_path", domain.ErrInvalidInput), domain.ClassInvalidInput, false},
		{"unsupported language", domain.ErrUnsupportedLanguage, domain.ClassUnsupportedLanguage, false},
		{"parsing", fmt.Errorf("%w: malformed body", domain.ErrParsing), domain.ClassParsing, false},
		{"internal", domain.ErrInternal, domain.ClassInternal, false},
		{"unknown error is internal", errors.New("surprise"), domain.ClassInternal, false},
		{"canceled is retryable", context.Canceled, domain.ClassTimeout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.Classify(tt.err)
			assert.Equal(t, tt.wantClass, got.Class)
			assert.Equal(t, tt.wantRetry, got.Retryable)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestClassify_NilError(t *testing.T) {
	got := domain.Classify(nil)
	assert.Equal(t, domain.ClassInternal, got.Class)
	assert.False(t, got.Retryable)
}

func TestErrorClass_Retryable(t *testing.T) {
	retryable := []domain.ErrorClass{
		domain.ClassTimeout,
		domain.ClassExternalService,
		domain.ClassBreakerOpen,
		domain.ClassRateLimited,
	}
	terminal := []domain.ErrorClass{
		domain.ClassInvalidInput,
		domain.ClassUnsupportedLanguage,
		domain.ClassParsing,
		domain.ClassInternal,
	}
	for _, c := range retryable {
		assert.True(t, c.Retryable(), "class %s", c)
	}
	for _, c := range terminal {
		assert.False(t, c.Retryable(), "class %s", c)
	}
	// Outside the closed set nothing retries.
	assert.False(t, domain.ErrorClass("made_up").Retryable())
}
