package core

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
)

const noDraftGenerated = "No draft generated."

// Writer turns the plan and research notes into a structured draft.
type Writer struct {
	stageBase
	defaultSigner string
}

// NewWriter creates the write stage
func NewWriter(cfg *config.Config, llm CompletionClient, logger *log.Logger) *Writer {
	return &Writer{
		stageBase:     newStageBase(cfg, llm, cfg.LLM.Temperatures.Writer, logger),
		defaultSigner: cfg.Pipeline.DefaultSigner,
	}
}

func (w *Writer) Name() AgentName { return AgentWriter }

func (w *Writer) signer(s PipelineState) string {
	if signer := strings.TrimSpace(s.EmailSigner); signer != "" {
		return signer
	}
	return w.defaultSigner
}

// Run asks for the draft JSON and parses it. Any failure yields a minimal
// draft whose summary records the reason; downstream stages always receive a
// well-shaped Deliverable.
func (w *Writer) Run(ctx context.Context, s PipelineState) StateDelta {
	start := time.Now()
	var (
		serr  *StageError
		draft Deliverable
		keys  []string
	)
	raw, usage, err := w.complete(ctx, writerMessages(s, w.signer(s)))
	if err == nil {
		if strings.TrimSpace(raw) == "" {
			draft = Deliverable{ExecutiveSummary: noDraftGenerated}
		} else {
			keys, err = decodeObject(raw, &draft)
		}
	}
	if err != nil {
		serr = classify(AgentWriter, err)
		draft = Deliverable{ExecutiveSummary: "Draft generation failed: " + err.Error()}
		keys = nil
	}
	draft.Sources = nil
	if draft.ActionItems == nil {
		draft.ActionItems = []ActionItem{}
	}

	out := stageOutput(start, usage, serr)
	out.DraftKeys = keys
	w.logOutcome(AgentWriter, out)

	return StateDelta{
		Draft: &draft,
		Trace: []TraceRecord{{
			Agent:  AgentWriter,
			Notes:  "Produced structured deliverable",
			Input:  map[string]any{"output_mode": string(s.OutputMode), "email_signer": w.signer(s)},
			Output: out,
		}},
	}
}
