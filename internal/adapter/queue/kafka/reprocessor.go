package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// Reprocessor drains the DLQ back onto the request topics. It is an operator
// tool, disabled by default: each dead letter's original request envelope is
// republished with a fresh event_id and a reset retry count so it re-enters
// the pipeline as a first attempt. Non-request originals are skipped.
type Reprocessor struct {
	client    *kgo.Client
	publisher domain.EventPublisher
}

// NewReprocessor builds the DLQ consumer on its own consumer group so its
// progress never interferes with the engine's.
func NewReprocessor(cfg config.Config, topics Topics, publisher domain.EventPublisher) (*Reprocessor, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ConsumerGroup(cfg.KafkaConsumerGroup+"-dlq-reprocess"),
		kgo.ConsumeTopics(topics.DLQ()),
		kgo.AutoCommitMarks(),
		kgo.FetchMaxWait(2*time.Second),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("dlq reprocessor client: %w", err)
	}
	return &Reprocessor{client: client, publisher: publisher}, nil
}

// Run consumes dead letters until ctx is cancelled. A record is marked for
// commit only after its original request is durably republished; failures
// leave it for the next pass.
func (r *Reprocessor) Run(ctx context.Context) error {
	slog.Info("dlq reprocessor started")
	defer r.client.Close()

	for {
		fetches := r.client.PollRecords(ctx, 10)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			slog.Info("dlq reprocessor stopped")
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("dlq fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			if r.reprocess(ctx, rec) {
				r.client.MarkCommitRecords(rec)
			}
		})
	}
}

// reprocess republishes one dead letter's original request. Returns true when
// the record is finished with, including the skip cases.
func (r *Reprocessor) reprocess(ctx context.Context, rec *kgo.Record) bool {
	env, err := domain.DecodeEnvelope(rec.Value)
	if err != nil {
		slog.Warn("undecodable dlq record skipped",
			slog.Int64("offset", rec.Offset), slog.Any("error", err))
		return true
	}
	var letter domain.DeadLetter
	if err := json.Unmarshal(env.Payload, &letter); err != nil {
		slog.Warn("dlq payload is not a dead letter, skipped",
			slog.String("event_id", env.EventID), slog.Any("error", err))
		return true
	}
	original := letter.Original
	if !original.EventType.IsRequest() {
		slog.Warn("dead letter original is not a request, skipped",
			slog.String("event_id", env.EventID),
			slog.String("event_type", string(original.EventType)))
		return true
	}

	fresh := original
	fresh.EventID = domain.NewEventID()
	fresh.Timestamp = time.Now().UTC()
	fresh.RetryCount = 0

	if err := r.publisher.PublishRetry(ctx, fresh, nil); err != nil {
		slog.Error("dlq republish failed, will retry",
			slog.String("correlation_id", fresh.CorrelationID),
			slog.Any("error", err))
		return false
	}
	slog.Info("dead letter reprocessed",
		slog.String("correlation_id", fresh.CorrelationID),
		slog.String("event_type", string(fresh.EventType)),
		slog.String("error_class", letter.ErrorClass.String()))
	return true
}
