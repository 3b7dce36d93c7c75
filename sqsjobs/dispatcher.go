package sqsjobs

import (
	"context"
	stderr "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/sqs-dispatcher/backoff"
	jprop "go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName string = "sqs-dispatcher"

// OutcomeKind tags the result of one fetch cycle.
type OutcomeKind uint8

const (
	// OutcomeOK means messages were received and dispatched.
	OutcomeOK OutcomeKind = iota
	// OutcomeEmpty means the queue had nothing to deliver.
	OutcomeEmpty
	// OutcomeFetchFailed means the receive call failed.
	OutcomeFetchFailed
	// OutcomeCancelled means the receive call was interrupted by ctx.
	OutcomeCancelled
)

// FetchOutcome is the result of one fetch cycle. Failures is the consecutive
// fetch-failure count after the cycle.
type FetchOutcome struct {
	Kind     OutcomeKind
	Failures int
}

// HandlerError is a job handler failure, either a returned error or a recovered panic.
type HandlerError struct {
	Class string
	Err   error
}

func (e *HandlerError) Error() string {
	return "job handler " + e.Class + " failed: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Stats are monotonic counters of a dispatcher.
type Stats struct {
	Cycles        uint64 `json:"cycles"`
	Empty         uint64 `json:"empty"`
	FetchFailures uint64 `json:"fetch_failures"`
	Received      uint64 `json:"received"`
	Succeeded     uint64 `json:"succeeded"`
	Failed        uint64 `json:"failed"`
	Unroutable    uint64 `json:"unroutable"`
	Acknowledged  uint64 `json:"acknowledged"`
}

type counters struct {
	cycles, empty, fetchFailures, received      atomic.Uint64
	succeeded, failed, unroutable, acknowledged atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSleeper replaces the timer used for backoff waits.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) {
		d.sleep = s
	}
}

// WithTracerProvider sets the provider used for fetch and dispatch spans.
// The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer(tracerName)
	}
}

// WithMaxCycles stops the run after n fetch cycles in any drive mode. Zero means no limit.
func WithMaxCycles(n int) Option {
	return func(d *Dispatcher) {
		d.maxCycles = n
	}
}

// Dispatcher fetches message batches, routes each message to the handler registered for its
// job class, and acknowledges or schedules redelivery depending on the outcome.
type Dispatcher struct {
	log    *zap.Logger
	queue  Queue
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
	sleep  Sleeper

	parser  *Parser
	deleter *Deleter
	retrier *Retrier

	// delay between failed fetches, capped by maxFetchDelay
	fetchBackoff backoff.Strategy

	mu       sync.RWMutex
	handlers map[string]Handler

	waitTime      int32
	maxFetchDelay int
	mode          DriveMode
	maxRetry      int
	awaitDeletion bool
	maxCycles     int

	// background acknowledgements when awaitDeletion is off
	pending sync.WaitGroup
	stats   counters
}

// NewDispatcher validates cfg and composes the parser, deleter and retrier on top of queue.
// cfg must have been passed through InitDefault.
func NewDispatcher(queue Queue, cfg *Config, log *zap.Logger, opts ...Option) (*Dispatcher, error) {
	const op = errors.Op("new_sqs_dispatcher")

	if err := cfg.Validate(); err != nil {
		return nil, errors.E(op, err)
	}

	d := &Dispatcher{
		log:           log,
		queue:         queue,
		tracer:        otel.GetTracerProvider().Tracer(tracerName),
		prop:          propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}, jprop.Jaeger{}),
		sleep:         sleep,
		parser:        NewParser(cfg.Message.JobClassAttributeName, cfg.Message.BodyFormat),
		handlers:      make(map[string]Handler),
		waitTime:      cfg.Queue.LongPollingTimeSeconds,
		maxFetchDelay: defaultMaxFetchDelay,
		mode:          cfg.Queue.DriveMode,
		maxRetry:      cfg.Queue.MaxFetchingRetry,
		awaitDeletion: true,
	}

	if cfg.Queue.MaxFetchingDelaySeconds != nil {
		d.maxFetchDelay = *cfg.Queue.MaxFetchingDelaySeconds
	}
	if cfg.Queue.AwaitDeletion != nil {
		d.awaitDeletion = *cfg.Queue.AwaitDeletion
	}

	for _, opt := range opts {
		opt(d)
	}

	d.deleter = NewDeleter(queue, log, d.sleep)
	d.retrier = NewRetrier(queue, log)
	d.fetchBackoff = backoff.NewCappedFibonacci(time.Second, d.maxFetchDelay)

	return d, nil
}

// Register sets the handler for a job class, replacing any previous one.
func (d *Dispatcher) Register(class string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[class] = h
}

func (d *Dispatcher) handler(class string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[class]
	return h, ok
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Cycles:        d.stats.cycles.Load(),
		Empty:         d.stats.empty.Load(),
		FetchFailures: d.stats.fetchFailures.Load(),
		Received:      d.stats.received.Load(),
		Succeeded:     d.stats.succeeded.Load(),
		Failed:        d.stats.failed.Load(),
		Unroutable:    d.stats.unroutable.Load(),
		Acknowledged:  d.stats.acknowledged.Load(),
	}
}

// Start runs fetch cycles until the drive mode terminates the run, and returns nil.
// Message and handler failures never surface here. If ctx is cancelled the run stops after
// the current cycle settles and ctx.Err() is returned.
func (d *Dispatcher) Start(ctx context.Context) error {
	defer d.pending.Wait()

	d.log.Info("dispatcher started", zap.String("drive_mode", string(d.mode)))

	failures := 0
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			d.log.Info("dispatcher stopped", zap.Error(err))
			return err
		}

		out := d.fetchAndProcess(ctx, failures)
		if out.Kind == OutcomeCancelled {
			d.log.Info("dispatcher stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		}
		failures = out.Failures

		if d.terminated(out) {
			d.log.Info("dispatcher terminated", zap.String("drive_mode", string(d.mode)), zap.Int("cycles", cycle))
			return nil
		}

		if d.maxCycles > 0 && cycle >= d.maxCycles {
			d.log.Info("dispatcher reached the cycle limit", zap.Int("cycles", cycle))
			return nil
		}
	}
}

func (d *Dispatcher) terminated(out FetchOutcome) bool {
	switch d.mode {
	case DriveSingle:
		return true
	case DriveDeplete:
		switch out.Kind {
		case OutcomeEmpty:
			return true
		case OutcomeFetchFailed:
			return out.Failures > d.maxRetry
		default:
			return false
		}
	default:
		return false
	}
}

// fetchAndProcess runs one fetch cycle. failures is the consecutive fetch-failure count so far.
func (d *Dispatcher) fetchAndProcess(ctx context.Context, failures int) FetchOutcome {
	d.stats.cycles.Add(1)
	log := d.log.With(zap.String("cycle", uuid.NewString()))

	ctx, span := d.tracer.Start(ctx, "sqs_fetch", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	log.Info("fetching messages from queue")
	messages, err := d.queue.Receive(ctx, batchLimit, d.waitTime)
	if err != nil && ctx.Err() != nil {
		log.Debug("fetch interrupted", zap.Error(err))
		return FetchOutcome{Kind: OutcomeCancelled, Failures: failures}
	}

	if err != nil {
		d.stats.fetchFailures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var qErr *QueueError
		if stderr.As(err, &qErr) && qErr.Kind == KindNonExistentQueue {
			log.Error("queue does not exist", zap.Error(err))
		} else {
			log.Error("failed to receive messages from queue", zap.Error(err))
		}

		wait := d.fetchBackoff.Delay(failures)
		log.Error("waiting before retry", zap.Duration("wait", wait), zap.Int("failures", failures+1))
		_ = d.sleep(ctx, wait)

		return FetchOutcome{Kind: OutcomeFetchFailed, Failures: failures + 1}
	}

	if len(messages) == 0 {
		d.stats.empty.Add(1)
		log.Info("no job received, queue is empty")
		return FetchOutcome{Kind: OutcomeEmpty}
	}

	d.stats.received.Add(uint64(len(messages)))
	span.SetAttributes(attribute.Int("sqs.batch_size", len(messages)))
	log.Info("received messages, processing", zap.Int("count", len(messages)))

	var g errgroup.Group
	for i := range messages {
		msg := &messages[i]
		g.Go(func() error {
			d.process(ctx, log, msg)
			return nil
		})
	}
	_ = g.Wait()

	return FetchOutcome{Kind: OutcomeOK}
}

// process routes a single message and issues its terminal delete or retry call.
func (d *Dispatcher) process(ctx context.Context, log *zap.Logger, msg *types.Message) {
	id := messageID(msg)
	log = log.With(zap.String("id", id))

	job, errP := d.parser.Parse(msg)
	if errP == nil {
		ctx = d.prop.Extract(ctx, propagation.MapCarrier(job.Attributes))
	}

	ctx, span := d.tracer.Start(ctx, "sqs_dispatch", trace.WithAttributes(attribute.String("sqs.message_id", id)))
	defer span.End()

	if errP != nil {
		d.stats.failed.Add(1)
		span.RecordError(errP)
		span.SetStatus(codes.Error, errP.Error())
		log.Error("failed to parse message", zap.Error(errP))
		d.retrier.Retry(ctx, msg)
		return
	}

	span.SetAttributes(attribute.String("sqs.job_class", job.Class), attribute.Int("sqs.receive_count", job.ReceiveCount))

	h, ok := d.handler(job.Class)
	if ok {
		log.Info("starting", zap.String("class", job.Class))
		if err := invoke(ctx, h, job); err != nil {
			d.stats.failed.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("failed to process message", zap.String("class", job.Class), zap.Error(err))
			d.retrier.Retry(ctx, msg)
			return
		}
		d.stats.succeeded.Add(1)
	} else {
		// an unroutable message will not become routable on redelivery
		d.stats.unroutable.Add(1)
		log.Error("no job handler registered", zap.String("class", job.Class))
	}

	log.Info("deleting message from queue")
	if !d.awaitDeletion {
		d.pending.Add(1)
		go func() {
			defer d.pending.Done()
			d.acknowledge(ctx, log, msg)
		}()
		return
	}

	d.acknowledge(ctx, log, msg)
}

func (d *Dispatcher) acknowledge(ctx context.Context, log *zap.Logger, msg *types.Message) {
	if !d.deleter.Delete(ctx, msg) {
		log.Warn("finished without acknowledgement")
		return
	}

	d.stats.acknowledged.Add(1)
	log.Info("finished")
}

func invoke(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Class: job.Class, Err: errors.Errorf("panic: %v", r)}
		}
	}()

	if errH := h(ctx, job); errH != nil {
		return &HandlerError{Class: job.Class, Err: errH}
	}

	return nil
}
