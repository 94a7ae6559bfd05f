// Package redis implements the terminal-outcome marker store. One marker per
// event_id keeps replayed envelopes from producing duplicate terminal events.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// keyPrefix namespaces outcome markers.
const keyPrefix = "outcome:"

// Store is the Redis-backed OutcomeStore.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to addr. Markers expire after ttl, which should comfortably
// exceed the topic retention of the request topics.
func New(addr string, ttl time.Duration) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: outcome store ping: %v", domain.ErrExternalService, err)
	}
	return nil
}

// MarkTerminal records the terminal outcome for eventID. Returns true when
// this call created the marker, false when the event was already terminal.
func (s *Store) MarkTerminal(ctx context.Context, eventID, outcome string) (bool, error) {
	first, err := s.client.SetNX(ctx, keyPrefix+eventID, outcome, s.ttl).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: outcome marker %s", domain.ErrTimeout, eventID)
		}
		return false, fmt.Errorf("%w: outcome marker %s: %v", domain.ErrExternalService, eventID, err)
	}
	return first, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
