package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"github.com/mohammad-safakhou/advisor/internal/agent/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var pipelineTracer trace.Tracer = otel.Tracer("advisor/internal/agent/pipeline")

// StageObserver is notified after every stage with the record it appended.
type StageObserver func(runID string, rec TraceRecord)

// Pipeline runs Plan, Research, Write and Verify strictly in that order. It
// holds no per-run state and may be shared by concurrent callers.
type Pipeline struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	stages    []Stage
	observers []StageObserver
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline logger
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTelemetry records stage and run events
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(p *Pipeline) { p.telemetry = t }
}

// WithStageObserver registers a callback invoked after each stage.
func WithStageObserver(o StageObserver) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// NewPipeline wires the four stages. index may be nil, in which case research
// proceeds with no sources.
func NewPipeline(cfg *config.Config, llm CompletionClient, index GroundingIndex, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: nil config")
	}
	if llm == nil {
		return nil, ErrNoCompletion
	}
	p := &Pipeline{
		config: cfg,
		logger: log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stages = []Stage{
		NewPlanner(cfg, llm, p.logger),
		NewResearcher(cfg, llm, index, p.logger),
		NewWriter(cfg, llm, p.logger),
		NewVerifier(cfg, llm, p.logger),
	}
	return p, nil
}

type runIDKey struct{}

// ContextWithRunID pins the id Run assigns, so a run queued under an id
// keeps it once executed.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns an id set by ContextWithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// Run executes one pipeline run. Only invalid input is returned as an error;
// stage failures degrade the result and are visible in its trace.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}
	mode, err := ParseOutputMode(req.OutputMode)
	if err != nil {
		return Result{}, err
	}

	runID, ok := RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
	}
	ctx, span := pipelineTracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.output_mode", string(mode)),
		))
	defer span.End()

	start := time.Now()
	p.logger.Printf("run=%s starting mode=%s", runID, mode)

	state := PipelineState{
		Question:    question,
		Goal:        req.Goal,
		OutputMode:  mode,
		EmailSigner: req.EmailSigner,
		Trace:       []TraceRecord{},
	}
	for _, stage := range p.stages {
		state = p.runStage(ctx, runID, stage, state)
	}

	verified := Deliverable{ActionItems: []ActionItem{}, Sources: []Source{}}
	if state.VerifiedOutput != nil {
		verified = state.VerifiedOutput.clone()
	}
	obs := BuildObservability(state.Trace)

	if obs.Totals.Errors > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d stage(s) degraded", obs.Totals.Errors))
	} else {
		span.SetStatus(codes.Ok, "completed")
	}
	span.SetAttributes(
		attribute.Int("run.errors", obs.Totals.Errors),
		attribute.Int("run.total_tokens", obs.Totals.TotalTokens),
	)

	elapsed := time.Since(start)
	p.telemetry.RecordRun(ctx, telemetry.RunEvent{
		RunID:      runID,
		OutputMode: string(mode),
		Duration:   elapsed,
		Errors:     obs.Totals.Errors,
		NumSources: len(state.Sources),
	})
	p.logger.Printf("run=%s completed in %v errors=%d tokens=%d", runID, elapsed, obs.Totals.Errors, obs.Totals.TotalTokens)

	return Result{
		RunID:          runID,
		VerifiedOutput: verified,
		Trace:          state.Trace,
		Observability:  obs,
	}, nil
}

func (p *Pipeline) runStage(ctx context.Context, runID string, stage Stage, state PipelineState) PipelineState {
	stageCtx, span := pipelineTracer.Start(ctx, "pipeline."+string(stage.Name()))
	defer span.End()

	next := state.Apply(stage.Run(stageCtx, state))
	if len(next.Trace) == len(state.Trace) {
		return next
	}
	rec := next.Trace[len(next.Trace)-1]

	span.SetAttributes(
		attribute.Int64("stage.latency_ms", rec.Output.LatencyMS),
		attribute.Int("stage.total_tokens", rec.Output.TokenUsage.TotalTokens),
	)
	if rec.Output.Errors > 0 {
		span.SetAttributes(attribute.String("stage.error_kind", string(rec.Output.ErrorKind)))
		span.SetStatus(codes.Error, rec.Output.Error)
	} else {
		span.SetStatus(codes.Ok, "completed")
	}

	p.telemetry.RecordStage(stageCtx, telemetry.StageEvent{
		RunID:            runID,
		Stage:            string(rec.Agent),
		Latency:          time.Duration(rec.Output.LatencyMS) * time.Millisecond,
		PromptTokens:     int64(rec.Output.TokenUsage.PromptTokens),
		CompletionTokens: int64(rec.Output.TokenUsage.CompletionTokens),
		TotalTokens:      int64(rec.Output.TokenUsage.TotalTokens),
		Errors:           rec.Output.Errors,
		ErrorKind:        string(rec.Output.ErrorKind),
	})
	for _, observe := range p.observers {
		observe(runID, rec)
	}
	return next
}
