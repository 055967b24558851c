package core

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
)

const noPlanGenerated = "No plan generated."

// Planner turns the question and goal into a research and delivery plan.
type Planner struct {
	stageBase
}

// NewPlanner creates the plan stage
func NewPlanner(cfg *config.Config, llm CompletionClient, logger *log.Logger) *Planner {
	return &Planner{stageBase: newStageBase(cfg, llm, cfg.LLM.Temperatures.Planner, logger)}
}

func (p *Planner) Name() AgentName { return AgentPlanner }

// Run produces the plan. A failed call yields "Plan generation failed: ..."
// and an empty reply yields "No plan generated.".
func (p *Planner) Run(ctx context.Context, s PipelineState) StateDelta {
	start := time.Now()
	var serr *StageError
	plan, usage, err := p.complete(ctx, plannerMessages(s.Question, s.Goal))
	switch {
	case err != nil:
		serr = classify(AgentPlanner, err)
		plan = "Plan generation failed: " + err.Error()
	case strings.TrimSpace(plan) == "":
		plan = noPlanGenerated
	}

	out := stageOutput(start, usage, serr)
	out.Plan = plan
	p.logOutcome(AgentPlanner, out)

	return StateDelta{
		Plan: &plan,
		Trace: []TraceRecord{{
			Agent:  AgentPlanner,
			Notes:  "Decomposed task into plan",
			Input:  map[string]any{"question": s.Question, "goal": s.Goal},
			Output: out,
		}},
	}
}
