package telemetry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Telemetry aggregates stage and run events across all pipeline runs of the
// process and mirrors them into OpenTelemetry instruments.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	inst    instruments
	mu      sync.RWMutex
}

// Metrics holds process-wide counters
type Metrics struct {
	TotalRuns      int64
	DegradedRuns   int64
	AverageRunTime time.Duration

	StageExecutions map[string]int64
	StageErrors     map[string]int64
	StageAvgLatency map[string]time.Duration
	ErrorKinds      map[string]int64

	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// StageEvent represents one stage execution
type StageEvent struct {
	RunID            string
	Stage            string
	Latency          time.Duration
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Errors           int
	ErrorKind        string
}

// RunEvent represents one complete pipeline run
type RunEvent struct {
	RunID      string
	OutputMode string
	Duration   time.Duration
	Errors     int
	NumSources int
}

type instruments struct {
	stageRuns    otelmetric.Int64Counter
	stageErrors  otelmetric.Int64Counter
	stageLatency otelmetric.Float64Histogram
	tokens       otelmetric.Int64Counter
	runs         otelmetric.Int64Counter
	runDuration  otelmetric.Float64Histogram
}

// NewTelemetry creates a new telemetry instance. Instruments come from the
// global meter provider, so Setup should run first when metrics are exported.
func NewTelemetry(cfg config.TelemetryConfig, logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	t := &Telemetry{
		config: cfg,
		logger: logger,
		metrics: &Metrics{
			StageExecutions: make(map[string]int64),
			StageErrors:     make(map[string]int64),
			StageAvgLatency: make(map[string]time.Duration),
			ErrorKinds:      make(map[string]int64),
		},
	}
	if cfg.Enabled {
		t.inst = newInstruments(cfg.ServiceName, logger)
	}
	return t
}

func newInstruments(service string, logger *log.Logger) instruments {
	if service == "" {
		service = "advisor"
	}
	meter := otel.Meter(service + "/pipeline")
	var (
		inst instruments
		err  error
	)
	if inst.stageRuns, err = meter.Int64Counter("advisor_stage_runs_total",
		otelmetric.WithDescription("Pipeline stage executions")); err != nil {
		logger.Printf("metrics init: advisor_stage_runs_total: %v", err)
	}
	if inst.stageErrors, err = meter.Int64Counter("advisor_stage_errors_total",
		otelmetric.WithDescription("Pipeline stage executions that degraded")); err != nil {
		logger.Printf("metrics init: advisor_stage_errors_total: %v", err)
	}
	if inst.stageLatency, err = meter.Float64Histogram("advisor_stage_latency_ms",
		otelmetric.WithDescription("Completion call latency per stage"),
		otelmetric.WithUnit("ms")); err != nil {
		logger.Printf("metrics init: advisor_stage_latency_ms: %v", err)
	}
	if inst.tokens, err = meter.Int64Counter("advisor_tokens_total",
		otelmetric.WithDescription("Tokens consumed by completion calls")); err != nil {
		logger.Printf("metrics init: advisor_tokens_total: %v", err)
	}
	if inst.runs, err = meter.Int64Counter("advisor_runs_total",
		otelmetric.WithDescription("Completed pipeline runs")); err != nil {
		logger.Printf("metrics init: advisor_runs_total: %v", err)
	}
	if inst.runDuration, err = meter.Float64Histogram("advisor_run_duration_ms",
		otelmetric.WithDescription("End-to-end pipeline run duration"),
		otelmetric.WithUnit("ms")); err != nil {
		logger.Printf("metrics init: advisor_run_duration_ms: %v", err)
	}
	return inst
}

// RecordStage records a stage execution
func (t *Telemetry) RecordStage(ctx context.Context, event StageEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	n := t.metrics.StageExecutions[event.Stage] + 1
	t.metrics.StageExecutions[event.Stage] = n
	prev := t.metrics.StageAvgLatency[event.Stage]
	t.metrics.StageAvgLatency[event.Stage] = (prev*time.Duration(n-1) + event.Latency) / time.Duration(n)
	if event.Errors > 0 {
		t.metrics.StageErrors[event.Stage]++
		t.metrics.ErrorKinds[event.ErrorKind]++
	}
	t.metrics.PromptTokens += event.PromptTokens
	t.metrics.CompletionTokens += event.CompletionTokens
	t.metrics.TotalTokens += event.TotalTokens
	t.mu.Unlock()

	stageAttr := otelmetric.WithAttributes(attribute.String("stage", event.Stage))
	if t.inst.stageRuns != nil {
		t.inst.stageRuns.Add(ctx, 1, stageAttr)
	}
	if event.Errors > 0 && t.inst.stageErrors != nil {
		t.inst.stageErrors.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("stage", event.Stage),
			attribute.String("error_kind", event.ErrorKind),
		))
	}
	if t.inst.stageLatency != nil {
		t.inst.stageLatency.Record(ctx, float64(event.Latency.Milliseconds()), stageAttr)
	}
	if t.inst.tokens != nil {
		t.inst.tokens.Add(ctx, event.PromptTokens, otelmetric.WithAttributes(
			attribute.String("stage", event.Stage), attribute.String("kind", "prompt")))
		t.inst.tokens.Add(ctx, event.CompletionTokens, otelmetric.WithAttributes(
			attribute.String("stage", event.Stage), attribute.String("kind", "completion")))
	}
}

// RecordRun records a complete pipeline run
func (t *Telemetry) RecordRun(ctx context.Context, event RunEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	t.metrics.TotalRuns++
	if event.Errors > 0 {
		t.metrics.DegradedRuns++
	}
	total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
	t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	t.mu.Unlock()

	attrs := otelmetric.WithAttributes(
		attribute.String("output_mode", event.OutputMode),
		attribute.Bool("degraded", event.Errors > 0),
	)
	if t.inst.runs != nil {
		t.inst.runs.Add(ctx, 1, attrs)
	}
	if t.inst.runDuration != nil {
		t.inst.runDuration.Record(ctx, float64(event.Duration.Milliseconds()), attrs)
	}

	t.logger.Printf("Run Event: ID=%s, Mode=%s, Duration=%v, Errors=%d, Sources=%d",
		event.RunID, event.OutputMode, event.Duration, event.Errors, event.NumSources)
}

// GetMetrics returns a deep copy of the current metrics
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := *t.metrics
	m.StageExecutions = copyMap(t.metrics.StageExecutions)
	m.StageErrors = copyMap(t.metrics.StageErrors)
	m.StageAvgLatency = copyMap(t.metrics.StageAvgLatency)
	m.ErrorKinds = copyMap(t.metrics.ErrorKinds)
	return m
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetPerformanceReport returns a human-readable report
func (t *Telemetry) GetPerformanceReport() string {
	m := t.GetMetrics()

	var b strings.Builder
	fmt.Fprintf(&b, "=== PIPELINE REPORT ===\n")
	fmt.Fprintf(&b, "Runs: %d (degraded %d), average %v\n", m.TotalRuns, m.DegradedRuns, m.AverageRunTime)
	fmt.Fprintf(&b, "Tokens: prompt %d, completion %d, total %d\n", m.PromptTokens, m.CompletionTokens, m.TotalTokens)
	fmt.Fprintf(&b, "\nStages:\n")

	stages := make([]string, 0, len(m.StageExecutions))
	for stage := range m.StageExecutions {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(&b, "  %s: %d executions, %d degraded, %v avg latency\n",
			stage, m.StageExecutions[stage], m.StageErrors[stage], m.StageAvgLatency[stage])
	}
	return b.String()
}

// Shutdown logs a final report
func (t *Telemetry) Shutdown() {
	if t == nil || !t.config.Enabled {
		return
	}
	t.logger.Print(t.GetPerformanceReport())
}
