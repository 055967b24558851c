package core

import (
	"context"
	"log"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
)

// Stage is one step of the pipeline. Run never fails: errors are contained
// and reported through the returned trace record.
type Stage interface {
	Name() AgentName
	Run(ctx context.Context, state PipelineState) StateDelta
}

// stageBase carries what every stage needs to call the completion service.
type stageBase struct {
	llm         CompletionClient
	model       string
	temperature float32
	logger      *log.Logger
}

func newStageBase(cfg *config.Config, llm CompletionClient, temperature float32, logger *log.Logger) stageBase {
	if logger == nil {
		logger = log.Default()
	}
	return stageBase{llm: llm, model: cfg.LLM.ModelMain, temperature: temperature, logger: logger}
}

func (b stageBase) complete(ctx context.Context, messages []Message) (string, TokenUsage, error) {
	text, usage, err := b.llm.Complete(ctx, b.model, messages, b.temperature)
	if err != nil {
		return "", TokenUsage{}, err
	}
	return text, usage, nil
}

// stageOutput fills the common accounting fields of a trace output.
func stageOutput(start time.Time, usage TokenUsage, serr *StageError) StageOutput {
	out := StageOutput{
		LatencyMS:  time.Since(start).Milliseconds(),
		TokenUsage: usage,
	}
	if serr != nil {
		out.Errors = 1
		out.ErrorKind = serr.Kind
		out.Error = serr.Err.Error()
	}
	return out
}

func (b stageBase) logOutcome(name AgentName, out StageOutput) {
	if out.Errors > 0 {
		b.logger.Printf("stage=%s status=degraded kind=%s latency_ms=%d error=%q", name, out.ErrorKind, out.LatencyMS, out.Error)
		return
	}
	b.logger.Printf("stage=%s status=ok latency_ms=%d tokens=%d", name, out.LatencyMS, out.TokenUsage.TotalTokens)
}
