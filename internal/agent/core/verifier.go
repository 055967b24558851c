package core

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
)

// Verifier is the grounding gate: it checks the draft against the retrieved
// sources and replaces unsupported claims with MarkerUnsupported.
type Verifier struct {
	stageBase
	noteChars int
}

// NewVerifier creates the verify stage
func NewVerifier(cfg *config.Config, llm CompletionClient, logger *log.Logger) *Verifier {
	return &Verifier{
		stageBase: newStageBase(cfg, llm, cfg.LLM.Temperatures.Verifier, logger),
		noteChars: cfg.Pipeline.VerifyNoteChars,
	}
}

func (v *Verifier) Name() AgentName { return AgentVerifier }

// verifiedPayload is the shape the verifier model is asked to return.
type verifiedPayload struct {
	ExecutiveSummary string       `json:"executive_summary"`
	ClientEmail      string       `json:"client_email"`
	ActionItems      []ActionItem `json:"action_items"`
	Sources          []SourceRef  `json:"sources"`
}

// Run verifies the draft. On a call or parse failure it falls back to the
// unverified draft with every retrieved source and reports errors=1. An empty
// reply means nothing could be verified: narrative fields carry the marker and
// no sources are cited. Citation normalization runs on every path.
func (v *Verifier) Run(ctx context.Context, s PipelineState) StateDelta {
	draft := Deliverable{ExecutiveSummary: MarkerUnsupported, ClientEmail: MarkerUnsupported, ActionItems: []ActionItem{}}
	if s.Draft != nil {
		draft = s.Draft.clone()
	}
	draftJSON, _ := json.MarshalIndent(struct {
		ExecutiveSummary string       `json:"executive_summary"`
		ClientEmail      string       `json:"client_email"`
		ActionItems      []ActionItem `json:"action_items"`
	}{draft.ExecutiveSummary, draft.ClientEmail, draft.ActionItems}, "", "  ")

	start := time.Now()
	var (
		serr    *StageError
		payload verifiedPayload
	)
	raw, usage, err := v.complete(ctx, verifierMessages(string(draftJSON), s.Sources, v.noteChars))
	if err == nil {
		if strings.TrimSpace(raw) == "" {
			payload = verifiedPayload{ExecutiveSummary: MarkerUnsupported, ClientEmail: MarkerUnsupported}
		} else {
			_, err = decodeObject(raw, &payload)
		}
	}
	if err != nil {
		serr = classify(AgentVerifier, err)
		payload = verifiedPayload{
			ExecutiveSummary: draft.ExecutiveSummary,
			ClientEmail:      draft.ClientEmail,
			ActionItems:      draft.ActionItems,
			Sources:          refsFromSources(s.Sources),
		}
	}

	sources, unresolved := normalizeSources(payload.Sources, s.Sources)
	verified := Deliverable{
		ExecutiveSummary: payload.ExecutiveSummary,
		ClientEmail:      payload.ClientEmail,
		ActionItems:      payload.ActionItems,
		Sources:          sources,
	}
	if verified.ActionItems == nil {
		verified.ActionItems = []ActionItem{}
	}
	if unresolved > 0 {
		v.logger.Printf("stage=%s dropped %d unresolved citation(s)", AgentVerifier, unresolved)
	}

	out := stageOutput(start, usage, serr)
	out.UnresolvedSources = unresolved
	out.UnsupportedClaims = countMarkers(verified)
	v.logOutcome(AgentVerifier, out)

	return StateDelta{
		VerifiedOutput: &verified,
		Trace: []TraceRecord{{
			Agent:  AgentVerifier,
			Notes:  "Verified against sources",
			Input:  map[string]any{"draft_keys": []string{"action_items", "client_email", "executive_summary"}, "num_sources": len(s.Sources)},
			Output: out,
		}},
	}
}
