package core

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
)

const noResearchNotes = "No research notes generated."

// Researcher grounds the plan in the corpus and summarizes what it found.
type Researcher struct {
	stageBase
	index      GroundingIndex
	topK       int
	traceChars int
}

// NewResearcher creates the research stage. A nil index behaves as an empty
// corpus.
func NewResearcher(cfg *config.Config, llm CompletionClient, index GroundingIndex, logger *log.Logger) *Researcher {
	return &Researcher{
		stageBase:  newStageBase(cfg, llm, cfg.LLM.Temperatures.Researcher, logger),
		index:      index,
		topK:       cfg.Retrieval.TopK,
		traceChars: cfg.Pipeline.ResearchTraceChars,
	}
}

func (r *Researcher) Name() AgentName { return AgentResearcher }

func (r *Researcher) retrieve(ctx context.Context, query string) ([]Source, error) {
	if r.index == nil {
		return []Source{}, nil
	}
	sources, err := r.index.Search(ctx, query, r.topK)
	if err != nil {
		return []Source{}, err
	}
	if sources == nil {
		sources = []Source{}
	}
	return sources, nil
}

// Run retrieves the top passages for question+plan and asks the model for
// notes. Zero passages is a valid state; the prompt then carries
// "No sources found.".
func (r *Researcher) Run(ctx context.Context, s PipelineState) StateDelta {
	var serr *StageError
	sources, err := r.retrieve(ctx, researchQuery(s.Question, s.Plan))
	if err != nil {
		serr = &StageError{Stage: AgentResearcher, Kind: ErrorKindRetrieval, Err: err}
		r.logger.Printf("stage=%s retrieval failed, continuing without sources: %v", AgentResearcher, err)
	}

	start := time.Now()
	notes, usage, err := r.complete(ctx, researcherMessages(s.Question, s.Plan, sources))
	switch {
	case err != nil:
		serr = classify(AgentResearcher, err)
		notes = "Research failed: " + err.Error()
	case strings.TrimSpace(notes) == "":
		notes = noResearchNotes
	}

	out := stageOutput(start, usage, serr)
	out.ResearchNotes = truncate(notes, r.traceChars)
	numSources := len(sources)
	out.NumSources = &numSources
	r.logOutcome(AgentResearcher, out)

	return StateDelta{
		ResearchNotes: &notes,
		Sources:       sources,
		Trace: []TraceRecord{{
			Agent:  AgentResearcher,
			Notes:  "Retrieved and summarized sources",
			Input:  map[string]any{"question": s.Question, "plan": s.Plan},
			Output: out,
		}},
	}
}
