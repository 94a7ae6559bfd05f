package kafka

import (
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// Record header keys. retry-history carries the accumulated attempt records
// across republished retries so a different consumer instance can build the
// full DLQ provenance.
const (
	headerEventType    = "event-type"
	headerRetryHistory = "retry-history"
)

// encodeRetryHistory serializes history for the record header. Empty history
// yields nil so first-attempt envelopes carry no header at all.
func encodeRetryHistory(history []domain.RetryAttempt) []byte {
	if len(history) == 0 {
		return nil
	}
	b, err := json.Marshal(history)
	if err != nil {
		slog.Error("encode retry history", slog.Any("error", err))
		return nil
	}
	return b
}

// decodeRetryHistory extracts the attempt records from a consumed record. A
// missing or malformed header is an empty history, never an error: history is
// provenance, not a processing input.
func decodeRetryHistory(rec *kgo.Record) []domain.RetryAttempt {
	for _, h := range rec.Headers {
		if h.Key != headerRetryHistory {
			continue
		}
		var history []domain.RetryAttempt
		if err := json.Unmarshal(h.Value, &history); err != nil {
			slog.Warn("malformed retry-history header dropped",
				slog.String("topic", rec.Topic),
				slog.Int64("offset", rec.Offset),
				slog.Any("error", err))
			return nil
		}
		return history
	}
	return nil
}
