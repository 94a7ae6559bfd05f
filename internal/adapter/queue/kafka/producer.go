package kafka

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

// Publisher publishes outcome, retry and dead-letter envelopes. All
// publications are synchronous with acks from the full ISR, so a returned nil
// means the event is durable and the caller may mark the source offset
// committable.
type Publisher struct {
	client *kgo.Client
	topics Topics
	source domain.Source
	group  string
}

// NewPublisher builds the shared producer client.
func NewPublisher(cfg config.Config, topics Topics) (*Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
		kgo.RequestRetries(5),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}
	return &Publisher{
		client: client,
		topics: topics,
		source: domain.Source{Service: cfg.ServiceName, Instance: cfg.ServiceInstanceID},
		group:  cfg.KafkaConsumerGroup,
	}, nil
}

// Source is the envelope source stamped on events this publisher emits.
func (p *Publisher) Source() domain.Source { return p.source }

// Close flushes and closes the underlying client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

// PublishCompletion publishes env to its family's completion topic.
func (p *Publisher) PublishCompletion(ctx domain.Context, env domain.Envelope) error {
	return p.publish(ctx, env, nil)
}

// PublishFailure publishes env to its family's failure topic. The retry
// history rides inside the payload, not the header.
func (p *Publisher) PublishFailure(ctx domain.Context, env domain.Envelope) error {
	return p.publish(ctx, env, nil)
}

// PublishRetry republishes a retry envelope onto its source topic with the
// accumulated history in the retry-history header.
func (p *Publisher) PublishRetry(ctx domain.Context, env domain.Envelope, history []domain.RetryAttempt) error {
	return p.publish(ctx, env, history)
}

// PublishDeadLetter wraps the dead letter in a DLQ envelope, correlated with
// the failed input, and publishes it durably.
func (p *Publisher) PublishDeadLetter(ctx domain.Context, letter domain.DeadLetter) error {
	letter.ConsumerGroup = p.group
	letter.Service = p.source.Service
	env, err := domain.NewEnvelope(domain.EventDeadLettered, letter.Original.CorrelationID, p.source, letter)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, env, nil); err != nil {
		return err
	}
	observability.DLQPublishedTotal.WithLabelValues(letter.ErrorClass.String()).Inc()
	return nil
}

func (p *Publisher) publish(ctx domain.Context, env domain.Envelope, history []domain.RetryAttempt) error {
	topic, err := p.topics.ForEvent(env.EventType)
	if err != nil {
		return err
	}
	value, err := env.Encode()
	if err != nil {
		return err
	}
	// Key by correlation_id so all envelopes of one logical operation land on
	// one partition.
	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(env.CorrelationID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: headerEventType, Value: []byte(env.EventType)},
		},
	}
	if h := encodeRetryHistory(history); h != nil {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: headerRetryHistory, Value: h})
	}

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		slog.Error("publish failed",
			slog.String("topic", topic),
			slog.String("event_type", string(env.EventType)),
			slog.String("correlation_id", env.CorrelationID),
			slog.Any("error", err))
		return fmt.Errorf("%w: publish %s: %v", domain.ErrExternalService, topic, err)
	}
	observability.EventsPublishedTotal.WithLabelValues(string(env.EventType)).Inc()
	return nil
}
