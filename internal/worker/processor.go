package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/queue/streams"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// PipelineRunner executes one request.
type PipelineRunner interface {
	Run(ctx context.Context, req core.Request) (core.Result, error)
}

// RunStore captures the store methods required by the worker.
type RunStore interface {
	Save(ctx context.Context, run store.Run) error
	Get(ctx context.Context, id string) (store.Run, error)
}

// messageSource is the slice of *streams.Consumer the processor reads from.
type messageSource interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// Options tunes the read loop.
type Options struct {
	RunStream    string
	EventsStream string
	Block        time.Duration
	Count        int64
	ClaimIdle    time.Duration
	MaxLen       int64
}

// Processor executes queued runs by consuming run.requested events. A run is
// acknowledged once it is stored or permanently rejected; storage failures
// leave the entry pending so another worker can claim it.
type Processor struct {
	logger    *log.Logger
	pipeline  PipelineRunner
	store     RunStore
	source    messageSource
	publisher payloadPublisher
	opts      Options
	tracer    trace.Tracer
	now       func() time.Time

	runCounter       otelmetric.Int64Counter
	duplicateCounter otelmetric.Int64Counter
	failureCounter   otelmetric.Int64Counter
}

// permanentError marks a message that will never succeed on redelivery.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return permanentError{err: err} }

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// NewProcessor constructs a Processor. pub may be nil to skip run.completed
// events; meter and tracer may be nil.
func NewProcessor(logger *log.Logger, p PipelineRunner, st RunStore, cons *streams.Consumer, pub *streams.Publisher, opts Options, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	var publisher payloadPublisher
	if pub != nil {
		publisher = pub
	}
	return newProcessor(logger, p, st, cons, publisher, opts, meter, tracer)
}

func newProcessor(logger *log.Logger, p PipelineRunner, st RunStore, src messageSource, pub payloadPublisher, opts Options, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 16
	}
	proc := &Processor{
		logger:    logger,
		pipeline:  p,
		store:     st,
		source:    src,
		publisher: pub,
		opts:      opts,
		tracer:    tracer,
		now:       time.Now,
	}
	if meter != nil {
		var err error
		proc.runCounter, err = meter.Int64Counter("advisor_worker_runs_total")
		if err != nil {
			logger.Printf("warn: create run counter failed: %v", err)
		}
		proc.duplicateCounter, err = meter.Int64Counter("advisor_worker_duplicates_total")
		if err != nil {
			logger.Printf("warn: create duplicate counter failed: %v", err)
		}
		proc.failureCounter, err = meter.Int64Counter("advisor_worker_failures_total")
		if err != nil {
			logger.Printf("warn: create failure counter failed: %v", err)
		}
	}
	return proc
}

// Start blocks, processing run.requested events until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker processor starting; consuming stream %s", p.opts.RunStream)
	p.claimStale(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker processor stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.source.Read(ctx, p.opts.RunStream, streams.WithBlock(p.opts.Block), streams.WithCount(p.opts.Count))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		if len(msgs) == 0 {
			p.claimStale(ctx)
			continue
		}
		p.process(ctx, msgs)
	}
}

func (p *Processor) process(ctx context.Context, msgs []streams.Message) {
	for _, msg := range msgs {
		err := p.Handle(ctx, msg)
		if err != nil {
			p.logger.Printf("error handling run message %s: %v", msg.ID, err)
			if !isPermanent(err) {
				continue
			}
		}
		if err := p.source.Ack(ctx, p.opts.RunStream, msg.ID); err != nil {
			p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
		}
	}
}

// claimStale re-runs entries abandoned by crashed workers.
func (p *Processor) claimStale(ctx context.Context) {
	if p.opts.ClaimIdle <= 0 {
		return
	}
	start := "0-0"
	for {
		msgs, next, err := p.source.AutoClaim(ctx, p.opts.RunStream, p.opts.ClaimIdle, start, p.opts.Count)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Printf("warn: claim pending entries failed: %v", err)
			}
			return
		}
		if len(msgs) > 0 {
			p.logger.Printf("claimed %d stale run messages", len(msgs))
			p.process(ctx, msgs)
		}
		if next == "" || next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

// Handle executes and stores one queued run. Redelivered runs that are
// already stored are skipped.
func (p *Processor) Handle(ctx context.Context, msg streams.Message) error {
	ctx, span := p.tracer.Start(ctx, "worker.handle_run")
	defer span.End()

	if msg.Envelope.EventType != streams.EventRunRequested {
		return permanent(fmt.Errorf("unexpected event type %q", msg.Envelope.EventType))
	}
	var payload RunRequested
	if err := msg.Envelope.Decode(&payload); err != nil {
		return permanent(fmt.Errorf("decode run payload: %w", err))
	}
	if payload.RunID == "" {
		return permanent(errors.New("run payload has no run_id"))
	}
	if id := msg.Envelope.RunID; id != "" && id != payload.RunID {
		return permanent(fmt.Errorf("envelope run_id %q does not match payload run_id %q", id, payload.RunID))
	}
	span.SetAttributes(attribute.String("run.id", payload.RunID))

	if _, err := p.store.Get(ctx, payload.RunID); err == nil {
		p.logger.Printf("skip run %s: already stored", payload.RunID)
		p.add(ctx, p.duplicateCounter)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup run %s: %w", payload.RunID, err)
	}

	started := p.now()
	res, err := p.pipeline.Run(core.ContextWithRunID(ctx, payload.RunID), payload.Request)
	if err != nil {
		p.add(ctx, p.failureCounter)
		p.completed(ctx, RunCompleted{
			RunID:       payload.RunID,
			Status:      StatusRejected,
			SubmittedBy: payload.SubmittedBy,
			Error:       err.Error(),
			DurationMS:  p.now().Sub(started).Milliseconds(),
		})
		return permanent(fmt.Errorf("run %s rejected: %w", payload.RunID, err))
	}

	if err := p.store.Save(ctx, store.NewRun(payload.Request, res, p.now())); err != nil {
		p.add(ctx, p.failureCounter)
		return fmt.Errorf("save run %s: %w", payload.RunID, err)
	}
	p.add(ctx, p.runCounter)
	p.logger.Printf("run %s stored (%d stage errors)", res.RunID, res.Observability.Totals.Errors)

	p.completed(ctx, RunCompleted{
		RunID:       res.RunID,
		Status:      StatusSucceeded,
		Errors:      res.Observability.Totals.Errors,
		NumSources:  len(res.VerifiedOutput.Sources),
		DurationMS:  p.now().Sub(started).Milliseconds(),
		SubmittedBy: payload.SubmittedBy,
	})
	return nil
}

func (p *Processor) completed(ctx context.Context, ev RunCompleted) {
	if p.publisher == nil || p.opts.EventsStream == "" {
		return
	}
	if _, err := p.publisher.PublishPayload(ctx, p.opts.EventsStream, streams.EventRunCompleted, "v1", ev.RunID, ev,
		streams.WithMaxLenApprox(p.opts.MaxLen)); err != nil {
		p.logger.Printf("warn: publish run.completed for %s: %v", ev.RunID, err)
	}
}

func (p *Processor) add(ctx context.Context, c otelmetric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
