// Package kafka is the bus adapter: the consumer engine, the event and
// dead-letter publishers, the retry scheduler and the offset tracker. It
// speaks franz-go to any Kafka-compatible log.
package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
)

// busDomain is the domain segment of every topic this service owns.
const busDomain = "intelligence"

// errTopicAlreadyExists is Kafka protocol error code 36.
const errTopicAlreadyExists = 36

// Topics derives concrete topic names under the
// {environment}.{service}.{domain}.{event}.{version} convention.
type Topics struct {
	prefix  string
	service string
}

// NewTopics builds the topic namer for one deployment environment.
func NewTopics(prefix, service string) Topics {
	return Topics{prefix: prefix, service: service}
}

func (t Topics) name(event domain.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s.v1", t.prefix, t.service, busDomain, event)
}

// AnalysisRequested is the code-analysis request topic.
func (t Topics) AnalysisRequested() string { return t.name(domain.EventCodeAnalysisRequested) }

// AnalysisCompleted is the code-analysis completion topic.
func (t Topics) AnalysisCompleted() string { return t.name(domain.EventCodeAnalysisCompleted) }

// AnalysisFailed is the code-analysis failure topic.
func (t Topics) AnalysisFailed() string { return t.name(domain.EventCodeAnalysisFailed) }

// DocumentIngested is the document-ingestion request topic.
func (t Topics) DocumentIngested() string { return t.name(domain.EventDocumentIngested) }

// DocumentProcessed is the document-ingestion completion topic.
func (t Topics) DocumentProcessed() string { return t.name(domain.EventDocumentProcessed) }

// DocumentFailed is the document-ingestion failure topic.
func (t Topics) DocumentFailed() string { return t.name(domain.EventDocumentFailed) }

// DLQ is the dead-letter topic shared by both event families.
func (t Topics) DLQ() string { return t.name(domain.EventDeadLettered) }

// Requests lists the topics the engine subscribes to.
func (t Topics) Requests() []string {
	return []string{t.AnalysisRequested(), t.DocumentIngested()}
}

// All lists every topic the deployment needs.
func (t Topics) All() []string {
	return []string{
		t.AnalysisRequested(), t.AnalysisCompleted(), t.AnalysisFailed(),
		t.DocumentIngested(), t.DocumentProcessed(), t.DocumentFailed(),
		t.DLQ(),
	}
}

// ForEvent maps a produced event type to its topic.
func (t Topics) ForEvent(et domain.EventType) (string, error) {
	switch et {
	case domain.EventCodeAnalysisRequested:
		return t.AnalysisRequested(), nil
	case domain.EventCodeAnalysisCompleted:
		return t.AnalysisCompleted(), nil
	case domain.EventCodeAnalysisFailed:
		return t.AnalysisFailed(), nil
	case domain.EventDocumentIngested:
		return t.DocumentIngested(), nil
	case domain.EventDocumentProcessed:
		return t.DocumentProcessed(), nil
	case domain.EventDocumentFailed:
		return t.DocumentFailed(), nil
	case domain.EventDeadLettered:
		return t.DLQ(), nil
	default:
		return "", fmt.Errorf("%w: no topic for event_type %q", domain.ErrInternal, et)
	}
}

// CompletionFor maps a request event type to its completion event type.
func CompletionFor(et domain.EventType) domain.EventType {
	if et == domain.EventDocumentIngested {
		return domain.EventDocumentProcessed
	}
	return domain.EventCodeAnalysisCompleted
}

// FailureFor maps a request event type to its failure event type.
func FailureFor(et domain.EventType) domain.EventType {
	if et == domain.EventDocumentIngested {
		return domain.EventDocumentFailed
	}
	return domain.EventCodeAnalysisFailed
}

// EnsureTopics creates the given topics when absent. "Already exists" is not
// an error; anything else fails startup so misconfiguration surfaces early.
func EnsureTopics(ctx context.Context, client *kgo.Client, topics []string, partitions int32, replication int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	for _, topic := range topics {
		tr := kmsg.NewCreateTopicsRequestTopic()
		tr.Topic = topic
		tr.NumPartitions = partitions
		tr.ReplicationFactor = replication
		req.Topics = append(req.Topics, tr)
	}

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("create topics request: %w", err)
	}
	ctResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}
	for _, tr := range ctResp.Topics {
		if tr.ErrorCode == 0 {
			slog.Info("topic created",
				slog.String("topic", tr.Topic),
				slog.Int("partitions", int(partitions)))
			continue
		}
		if tr.ErrorCode == errTopicAlreadyExists {
			slog.Debug("topic already exists", slog.String("topic", tr.Topic))
			continue
		}
		msg := ""
		if tr.ErrorMessage != nil {
			msg = *tr.ErrorMessage
		}
		return fmt.Errorf("create topic %s: %s (code %d)", tr.Topic, msg, tr.ErrorCode)
	}
	return nil
}
