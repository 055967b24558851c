package core

// AgentMetrics is one per-stage row of the observability summary.
type AgentMetrics struct {
	Agent            AgentName `json:"agent"`
	LatencyMS        int64     `json:"latency_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Errors           int       `json:"errors"`
	ErrorKind        ErrorKind `json:"error_kind,omitempty"`
}

// Totals sums AgentMetrics across a trace.
type Totals struct {
	LatencyMS        int64 `json:"latency_ms"`
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	Errors           int   `json:"errors"`
}

// ObservabilitySummary is derived from a trace and never stored on its own.
type ObservabilitySummary struct {
	PerAgent []AgentMetrics `json:"per_agent"`
	Totals   Totals         `json:"totals"`
}

// BuildObservability reduces a trace into per-stage rows (in trace order) and
// their totals. Token totals are taken as each record reports them.
func BuildObservability(trace []TraceRecord) ObservabilitySummary {
	summary := ObservabilitySummary{PerAgent: make([]AgentMetrics, 0, len(trace))}
	for _, rec := range trace {
		usage := rec.Output.TokenUsage
		row := AgentMetrics{
			Agent:            rec.Agent,
			LatencyMS:        rec.Output.LatencyMS,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			Errors:           rec.Output.Errors,
			ErrorKind:        rec.Output.ErrorKind,
		}
		if row.Agent == "" {
			row.Agent = "unknown"
		}
		summary.PerAgent = append(summary.PerAgent, row)

		summary.Totals.LatencyMS += row.LatencyMS
		summary.Totals.PromptTokens += row.PromptTokens
		summary.Totals.CompletionTokens += row.CompletionTokens
		summary.Totals.TotalTokens += row.TotalTokens
		summary.Totals.Errors += row.Errors
	}
	return summary
}
