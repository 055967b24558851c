package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MarkerUnsupported replaces any claim the verifier could not ground in the
// retrieved sources.
const MarkerUnsupported = "Not found in sources."

// OutputMode selects the writing style of the deliverable.
type OutputMode string

const (
	OutputModeExecutive OutputMode = "executive"
	OutputModeAnalyst   OutputMode = "analyst"
)

// ParseOutputMode maps user input onto an OutputMode; empty means executive.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputModeExecutive:
		return OutputModeExecutive, nil
	case OutputModeAnalyst:
		return OutputModeAnalyst, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutputMode, s)
	}
}

// AgentName identifies the stage that produced a trace record.
type AgentName string

const (
	AgentPlanner    AgentName = "planner"
	AgentResearcher AgentName = "researcher"
	AgentWriter     AgentName = "writer"
	AgentVerifier   AgentName = "verifier"
)

// Source is one retrieved grounding passage.
type Source struct {
	Citation string `json:"citation"`
	Note     string `json:"note"`
}

// ActionItem is one follow-up in the deliverable.
type ActionItem struct {
	Owner      string     `json:"owner"`
	Task       string     `json:"task"`
	DueDate    string     `json:"due_date"`
	Confidence Confidence `json:"confidence"`
}

// Confidence accepts either a label ("high") or a number (0.8) from the model
// and keeps its textual form.
type Confidence string

func (c *Confidence) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Confidence(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("confidence: unsupported value %s", b)
	}
	*c = Confidence(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// Deliverable is the structured business output. Sources is only populated on
// the verified deliverable; on a draft it is nil.
type Deliverable struct {
	ExecutiveSummary string       `json:"executive_summary"`
	ClientEmail      string       `json:"client_email"`
	ActionItems      []ActionItem `json:"action_items"`
	Sources          []Source     `json:"sources"`
}

func (d Deliverable) clone() Deliverable {
	out := d
	if d.ActionItems != nil {
		out.ActionItems = append([]ActionItem(nil), d.ActionItems...)
	}
	if d.Sources != nil {
		out.Sources = append([]Source(nil), d.Sources...)
	}
	return out
}

// TokenUsage is the accounting returned by one completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StageOutput summarizes one stage execution. Only the fields relevant to the
// producing stage are set.
type StageOutput struct {
	LatencyMS  int64      `json:"latency_ms"`
	TokenUsage TokenUsage `json:"token_usage"`
	Errors     int        `json:"errors"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`

	Plan              string   `json:"plan,omitempty"`
	ResearchNotes     string   `json:"research_notes,omitempty"`
	NumSources        *int     `json:"num_sources,omitempty"`
	DraftKeys         []string `json:"draft_keys,omitempty"`
	UnresolvedSources int      `json:"unresolved_sources,omitempty"`
	UnsupportedClaims int      `json:"unsupported_claims,omitempty"`
}

// TraceRecord is one stage's execution summary. Records are never modified
// after they are appended to a trace.
type TraceRecord struct {
	Agent  AgentName      `json:"agent"`
	Notes  string         `json:"notes"`
	Input  map[string]any `json:"input"`
	Output StageOutput    `json:"output"`
}

// PipelineState is the read-only snapshot handed to each stage. Fields are
// filled in pipeline order; unset fields read as their zero value.
type PipelineState struct {
	Question    string     `json:"question"`
	Goal        string     `json:"goal"`
	OutputMode  OutputMode `json:"output_mode"`
	EmailSigner string     `json:"email_signer,omitempty"`

	Plan           string        `json:"plan,omitempty"`
	ResearchNotes  string        `json:"research_notes,omitempty"`
	Sources        []Source      `json:"sources,omitempty"`
	Draft          *Deliverable  `json:"draft,omitempty"`
	VerifiedOutput *Deliverable  `json:"verified_output,omitempty"`
	Trace          []TraceRecord `json:"trace"`
}

// StateDelta is what a stage returns. Nil fields are left untouched by Apply;
// a non-nil but empty Sources slice means "zero passages retrieved".
type StateDelta struct {
	Plan           *string
	ResearchNotes  *string
	Sources        []Source
	Draft          *Deliverable
	VerifiedOutput *Deliverable
	Trace          []TraceRecord
}

// Apply merges a delta into a fresh state value: trace is concatenated, every
// other present field overrides. The receiver is not modified.
func (s PipelineState) Apply(d StateDelta) PipelineState {
	next := s
	next.Trace = make([]TraceRecord, 0, len(s.Trace)+len(d.Trace))
	next.Trace = append(next.Trace, s.Trace...)
	next.Trace = append(next.Trace, d.Trace...)
	if d.Plan != nil {
		next.Plan = *d.Plan
	}
	if d.ResearchNotes != nil {
		next.ResearchNotes = *d.ResearchNotes
	}
	if d.Sources != nil {
		next.Sources = append(make([]Source, 0, len(d.Sources)), d.Sources...)
	}
	if d.Draft != nil {
		draft := d.Draft.clone()
		next.Draft = &draft
	}
	if d.VerifiedOutput != nil {
		verified := d.VerifiedOutput.clone()
		next.VerifiedOutput = &verified
	}
	return next
}

// Request is the pipeline entry point input.
type Request struct {
	Question    string `json:"question"`
	Goal        string `json:"goal"`
	OutputMode  string `json:"output_mode,omitempty"`
	EmailSigner string `json:"email_signer,omitempty"`
}

// Result is the pipeline entry point output.
type Result struct {
	RunID          string               `json:"run_id"`
	VerifiedOutput Deliverable          `json:"verified_output"`
	Trace          []TraceRecord        `json:"trace"`
	Observability  ObservabilitySummary `json:"observability"`
}

// Message is one chat message sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// CompletionClient sends a system+user exchange to a text-generation service.
// Implementations return empty text and zero usage, not an error, when no
// credential is configured.
type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []Message, temperature float32) (string, TokenUsage, error)
}

// GroundingIndex returns passages ranked by similarity to query. An empty or
// absent index returns an empty slice.
type GroundingIndex interface {
	Search(ctx context.Context, query string, k int) ([]Source, error)
}
