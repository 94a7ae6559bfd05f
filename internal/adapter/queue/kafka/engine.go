package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/domain"
	"github.com/OmniNode-ai/omniintelligence-sub016/internal/observability"
)

// Dispatcher executes one decoded unit of work. The engine owns the deadline;
// implementations return a completion or a classifiable error.
type Dispatcher interface {
	Execute(ctx domain.Context, req domain.RequestPayload) (domain.AnalysisCompleted, error)
}

// commitInterval is how often accumulated watermarks are committed.
const commitInterval = time.Second

// recordRef locates a consumed record for offset accounting. In-process
// redeliveries carry no ref: their source offset is already committed.
type recordRef struct {
	topic     string
	partition int32
	offset    int64
	tracked   bool
}

// redelivery is one in-process retry handed back by the scheduler.
type redelivery struct {
	env     domain.Envelope
	history []domain.RetryAttempt
}

// Engine is the consumer loop: poll, dispatch to a bounded worker pool,
// publish terminal outcomes, commit watermarks. One engine per process.
type Engine struct {
	client     *kgo.Client
	topics     Topics
	publisher  domain.EventPublisher
	dlq        domain.DeadLetterPublisher
	scheduler  *Scheduler
	outcomes   domain.OutcomeStore // nil disables replay dedup
	dispatcher Dispatcher
	tracker    *OffsetTracker

	source         domain.Source
	group          string
	maxRetries     int
	handlerTimeout time.Duration
	maxPollRecords int
	shutdownGrace  time.Duration

	sem          *semaphore.Weighted
	wg           sync.WaitGroup
	redeliveries chan redelivery

	// workCtx outlives the poll context so in-flight handlers finish during
	// graceful shutdown; it is cancelled when the grace period expires.
	workCtx    context.Context
	workCancel context.CancelFunc

	subscribed atomic.Bool
	lastPoll   atomic.Int64 // unix nanos
}

// NewEngine builds the consumer group client and the engine around it. Call
// Run to start consuming.
func NewEngine(cfg config.Config, topics Topics, publisher domain.EventPublisher, dlq domain.DeadLetterPublisher, scheduler *Scheduler, outcomes domain.OutcomeStore, dispatcher Dispatcher) (*Engine, error) {
	// The retry scheduler is not optional: every failure path resolves or
	// schedules through it.
	if scheduler == nil {
		return nil, fmt.Errorf("kafka engine: retry scheduler is required")
	}
	tracker := NewOffsetTracker()
	e := &Engine{
		topics:         topics,
		publisher:      publisher,
		dlq:            dlq,
		scheduler:      scheduler,
		outcomes:       outcomes,
		dispatcher:     dispatcher,
		tracker:        tracker,
		source:         domain.Source{Service: cfg.ServiceName, Instance: cfg.ServiceInstanceID},
		group:          cfg.KafkaConsumerGroup,
		maxRetries:     cfg.MaxRetryAttempts,
		handlerTimeout: cfg.HandlerTimeout(),
		maxPollRecords: cfg.MaxPollRecords,
		shutdownGrace:  cfg.ShutdownTimeout,
		sem:            semaphore.NewWeighted(int64(cfg.ProcessingConcurrency)),
		redeliveries:   make(chan redelivery, cfg.ProcessingConcurrency),
	}
	e.workCtx, e.workCancel = context.WithCancel(context.Background())

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.ConsumerGroup(cfg.KafkaConsumerGroup),
		kgo.ConsumeTopics(topics.Requests()...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(2*time.Second),
		kgo.DialTimeout(10*time.Second),
		kgo.OnPartitionsRevoked(e.onRevoked),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}
	e.client = client

	scheduler.SetRedeliver(e.enqueueRedelivery)
	return e, nil
}

// Subscribed reports whether the engine has completed at least one poll since
// start. Health readiness gates on it.
func (e *Engine) Subscribed() bool { return e.subscribed.Load() }

// LastPoll returns the time of the most recent poll, zero before the first.
func (e *Engine) LastPoll() time.Time {
	n := e.lastPoll.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run consumes until ctx is cancelled, then drains in-flight work within the
// shutdown grace period, commits final watermarks and closes the client.
func (e *Engine) Run(ctx context.Context) error {
	commitDone := make(chan struct{})
	go e.commitLoop(ctx, commitDone)
	go e.redeliveryLoop()

	slog.Info("consumer engine started",
		slog.String("group", e.group),
		slog.Any("topics", e.topics.Requests()))

	for {
		fetches := e.client.PollRecords(ctx, e.maxPollRecords)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}
		e.lastPoll.Store(time.Now().UnixNano())
		e.subscribed.Store(true)

		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if n := len(p.Records); n > 0 {
				lag := p.HighWatermark - p.Records[n-1].Offset - 1
				if lag < 0 {
					lag = 0
				}
				observability.ConsumerLag.
					WithLabelValues(p.Topic, strconv.Itoa(int(p.Partition))).
					Set(float64(lag))
			}
		})

		stop := false
		fetches.EachRecord(func(rec *kgo.Record) {
			if stop {
				return
			}
			if err := e.sem.Acquire(ctx, 1); err != nil {
				// Shutdown mid-batch: records not yet tracked are simply
				// redelivered to the next owner.
				stop = true
				return
			}
			e.tracker.Track(rec.Topic, rec.Partition, rec.Offset)
			e.wg.Add(1)
			go func(rec *kgo.Record) {
				defer e.wg.Done()
				defer e.sem.Release(1)
				e.processRecord(rec)
			}(rec)
		})
		if stop {
			break
		}
	}

	e.shutdown()
	<-commitDone
	return nil
}

// shutdown waits for in-flight work up to the grace period, then cancels it,
// flushes final watermarks and closes the client.
func (e *Engine) shutdown() {
	slog.Info("consumer engine draining",
		slog.Int("outstanding", e.tracker.Outstanding()),
		slog.Duration("grace", e.shutdownGrace))

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(e.shutdownGrace):
		slog.Warn("shutdown grace expired, abandoning in-flight work",
			slog.Int("outstanding", e.tracker.Outstanding()))
		e.workCancel()
		<-drained
	}
	e.workCancel()

	e.commitNow(context.Background())
	e.client.Close()
	e.subscribed.Store(false)
	slog.Info("consumer engine stopped")
}

func (e *Engine) commitLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(commitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.commitNow(context.Background())
		case <-ctx.Done():
			return
		}
	}
}

// commitNow commits watermarks that advanced since the last flush.
func (e *Engine) commitNow(ctx context.Context) {
	offsets := e.tracker.Flush()
	if len(offsets) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	e.client.CommitOffsetsSync(ctx, offsets, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, _ *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			slog.Error("offset commit failed", slog.Any("error", err))
		}
	})
}

// onRevoked commits whatever is committable on the revoked partitions before
// ownership moves, then drops their tracker state.
func (e *Engine) onRevoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	e.commitNow(ctx)
	for topic, partitions := range revoked {
		for _, p := range partitions {
			e.tracker.Revoke(topic, p)
		}
	}
}

// enqueueRedelivery is the scheduler's in-process sink.
func (e *Engine) enqueueRedelivery(env domain.Envelope, history []domain.RetryAttempt) {
	select {
	case e.redeliveries <- redelivery{env: env, history: history}:
	case <-e.workCtx.Done():
	}
}

func (e *Engine) redeliveryLoop() {
	for {
		select {
		case rd := <-e.redeliveries:
			if err := e.sem.Acquire(e.workCtx, 1); err != nil {
				return
			}
			e.wg.Add(1)
			go func(rd redelivery) {
				defer e.wg.Done()
				defer e.sem.Release(1)
				e.processEnvelope(rd.env, rd.history, recordRef{})
			}(rd)
		case <-e.workCtx.Done():
			return
		}
	}
}

// processRecord handles one consumed record end to end. Undecodable records
// dead-letter immediately; everything else flows through processEnvelope.
func (e *Engine) processRecord(rec *kgo.Record) {
	ref := recordRef{topic: rec.Topic, partition: rec.Partition, offset: rec.Offset, tracked: true}

	env, err := domain.DecodeEnvelope(rec.Value)
	if err != nil {
		e.deadLetterRaw(rec, err, ref)
		return
	}
	if !env.EventType.IsRequest() {
		// Misrouted outcome event on a request topic: nothing to execute,
		// nothing to publish. Commit and move on.
		slog.Warn("non-request envelope on request topic",
			slog.String("topic", rec.Topic),
			slog.String("event_type", string(env.EventType)),
			slog.String("correlation_id", env.CorrelationID))
		e.markDone(ref)
		return
	}
	e.processEnvelope(env, decodeRetryHistory(rec), ref)
}

// processEnvelope runs the full per-envelope state machine: decode work,
// dispatch, then exactly one of completion, scheduled retry, or terminal
// failure with DLQ. The ref's offset becomes committable only after the
// outcome is durable (published or owned by the scheduler).
func (e *Engine) processEnvelope(env domain.Envelope, history []domain.RetryAttempt, ref recordRef) {
	ctx := observability.ContextWithCorrelationID(e.workCtx, env.CorrelationID)
	lg := observability.WithCorrelation(slog.Default(), env.CorrelationID)
	ctx = observability.ContextWithLogger(ctx, lg)

	start := time.Now()
	completion, op, err := e.execute(ctx, env)
	outcome := "completed"
	if err != nil {
		outcome = string(domain.Classify(err).Class)
	}
	observability.ObserveHandler(string(op), outcome, time.Since(start))

	if err == nil {
		e.finishCompleted(ctx, lg, env, completion, ref)
		return
	}
	e.finishFailed(ctx, lg, env, op, err, history, ref)
}

// execute decodes the unit of work and dispatches it under the handler
// deadline.
func (e *Engine) execute(ctx context.Context, env domain.Envelope) (domain.AnalysisCompleted, domain.OperationType, error) {
	req, err := domain.DecodeWork(env)
	if err != nil {
		return domain.AnalysisCompleted{}, "unknown", err
	}
	ctx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	defer cancel()
	completion, err := e.dispatcher.Execute(ctx, req)
	if err != nil {
		return domain.AnalysisCompleted{}, req.Operation(), err
	}
	return completion, req.Operation(), nil
}

func (e *Engine) finishCompleted(ctx context.Context, lg *slog.Logger, env domain.Envelope, completion domain.AnalysisCompleted, ref recordRef) {
	if !e.claimTerminal(ctx, lg, env.EventID, "completed") {
		e.markDone(ref)
		e.scheduler.Resolve(env.CorrelationID)
		return
	}
	out, err := domain.NewEnvelope(CompletionFor(env.EventType), env.CorrelationID, e.source, completion)
	if err == nil {
		err = e.publisher.PublishCompletion(ctx, out)
	}
	if err != nil {
		lg.Error("completion publish failed, leaving offset for redelivery",
			slog.Any("error", err))
		e.surrender(ref)
		return
	}
	lg.Info("operation completed",
		slog.String("operation", string(completion.Operation)),
		slog.String("status", completion.Status),
		slog.Int64("duration_ms", completion.DurationMS))
	e.markDone(ref)
	e.scheduler.Resolve(env.CorrelationID)
}

func (e *Engine) finishFailed(ctx context.Context, lg *slog.Logger, env domain.Envelope, op domain.OperationType, handlerErr error, history []domain.RetryAttempt, ref recordRef) {
	class := domain.Classify(handlerErr)
	class.RetryCount = env.RetryCount

	if class.Retryable && env.RetryCount < e.maxRetries {
		if err := e.scheduler.Schedule(env, class, history); err != nil {
			lg.Error("retry scheduling failed, leaving offset for redelivery",
				slog.Any("error", err))
			e.surrender(ref)
			return
		}
		lg.Warn("retry scheduled",
			slog.String("operation", string(op)),
			slog.String("error_class", class.Class.String()),
			slog.Int("retry_count", env.RetryCount))
		e.markDone(ref)
		return
	}

	// Terminal: exhausted retries or a non-retryable class.
	full := e.scheduler.History(env.CorrelationID)
	if len(full) == 0 {
		full = history
	}
	reason := "non-retryable error"
	if class.Retryable {
		reason = "retry attempts exhausted"
	}

	if !e.claimTerminal(ctx, lg, env.EventID, "failed") {
		e.markDone(ref)
		e.scheduler.Resolve(env.CorrelationID)
		return
	}

	failedAt := time.Now().UTC()
	failure := domain.AnalysisFailed{
		Operation:    op,
		ErrorClass:   class.Class,
		Message:      class.Message,
		Retryable:    class.Retryable,
		RetryCount:   env.RetryCount,
		RetryHistory: full,
		FailedAt:     failedAt,
	}
	out, err := domain.NewEnvelope(FailureFor(env.EventType), env.CorrelationID, e.source, failure)
	if err == nil {
		err = e.publisher.PublishFailure(ctx, out)
	}
	if err == nil {
		err = e.dlq.PublishDeadLetter(ctx, domain.DeadLetter{
			Original:     env,
			ErrorClass:   class.Class,
			Message:      class.Message,
			Reason:       reason,
			RetryHistory: full,
			FailedAt:     failedAt,
		})
	}
	if err != nil {
		lg.Error("terminal failure publish failed, leaving offset for redelivery",
			slog.Any("error", err))
		e.surrender(ref)
		return
	}
	lg.Warn("operation failed terminally",
		slog.String("operation", string(op)),
		slog.String("error_class", class.Class.String()),
		slog.String("reason", reason),
		slog.Int("retry_count", env.RetryCount))
	e.markDone(ref)
	e.scheduler.Resolve(env.CorrelationID)
}

// claimTerminal consults the outcome store before publishing a terminal
// event. False means the event already has a terminal outcome (replay) and
// nothing must be published. A store error degrades to publishing: duplicate
// terminal events beat lost ones.
func (e *Engine) claimTerminal(ctx context.Context, lg *slog.Logger, eventID, outcome string) bool {
	if e.outcomes == nil {
		return true
	}
	first, err := e.outcomes.MarkTerminal(ctx, eventID, outcome)
	if err != nil {
		lg.Warn("outcome store unavailable, publishing without dedup",
			slog.Any("error", err))
		return true
	}
	if !first {
		lg.Info("replayed envelope already terminal, skipping publish",
			slog.String("event_id", eventID))
	}
	return first
}

// deadLetterRaw dead-letters a record whose bytes never became a valid
// envelope. The synthetic original preserves the raw payload and whatever
// correlation the record key carried.
func (e *Engine) deadLetterRaw(rec *kgo.Record, decodeErr error, ref recordRef) {
	correlationID := string(rec.Key)
	if correlationID == "" {
		correlationID = domain.NewCorrelationID()
	}
	class := domain.Classify(decodeErr)
	letter := domain.DeadLetter{
		Original: domain.Envelope{
			EventID:       domain.NewEventID(),
			CorrelationID: correlationID,
			Timestamp:     time.Now().UTC(),
			Source:        domain.Source{Service: "unknown"},
			Payload:       rec.Value,
		},
		ErrorClass: class.Class,
		Message:    class.Message,
		Reason:     "undecodable envelope",
		FailedAt:   time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(e.workCtx, 10*time.Second)
	defer cancel()
	if err := e.dlq.PublishDeadLetter(ctx, letter); err != nil {
		slog.Error("dead-lettering undecodable record failed, leaving offset for redelivery",
			slog.String("topic", rec.Topic),
			slog.Int64("offset", rec.Offset),
			slog.Any("error", err))
		e.surrender(ref)
		return
	}
	slog.Warn("undecodable record dead-lettered",
		slog.String("topic", rec.Topic),
		slog.Int64("offset", rec.Offset),
		slog.String("error_class", class.Class.String()))
	observability.RecordsProcessedTotal.WithLabelValues("unknown", string(class.Class)).Inc()
	e.markDone(ref)
}

func (e *Engine) markDone(ref recordRef) {
	if ref.tracked {
		e.tracker.MarkCommittable(ref.topic, ref.partition, ref.offset)
	}
}

func (e *Engine) surrender(ref recordRef) {
	if ref.tracked {
		e.tracker.Surrender(ref.topic, ref.partition, ref.offset)
	}
}
