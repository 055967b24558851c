package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResearcherRetrievesAndSummarizes(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	idx := &stubIndex{sources: []Source{
		{Citation: "motor.txt | page 1 | chunk 1", Note: "Leakage is overpayment."},
		{Citation: "motor.txt | page 2 | chunk 1", Note: "Audits reduce leakage."},
	}}
	llm := newStubLLM(stubReply{text: strings.Repeat("n", 400)})
	r := NewResearcher(cfg, llm, idx, quietLogger())

	delta := r.Run(context.Background(), PipelineState{Question: "Q?", Plan: "P"})
	if diff := cmp.Diff(idx.sources, delta.Sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
	if idx.queries[0] != "Q?\nP" || idx.ks[0] != cfg.Retrieval.TopK {
		t.Fatalf("unexpected query %q k=%d", idx.queries[0], idx.ks[0])
	}
	if !strings.Contains(llm.lastUser(), "[motor.txt | page 1 | chunk 1]\nLeakage is overpayment.") {
		t.Fatalf("source block missing from prompt: %q", llm.lastUser())
	}
	if len(*delta.ResearchNotes) != 400 {
		t.Fatalf("state notes must not be truncated")
	}
	out := delta.Trace[0].Output
	if len([]rune(out.ResearchNotes)) != cfg.Pipeline.ResearchTraceChars {
		t.Fatalf("trace notes should be cut to %d chars, got %d", cfg.Pipeline.ResearchTraceChars, len(out.ResearchNotes))
	}
	if out.NumSources == nil || *out.NumSources != 2 {
		t.Fatalf("unexpected num_sources %v", out.NumSources)
	}
}

func TestResearcherNoSources(t *testing.T) {
	t.Parallel()
	llm := newStubLLM(stubReply{text: "nothing relevant"})
	r := NewResearcher(testConfig(), llm, &stubIndex{}, quietLogger())

	delta := r.Run(context.Background(), PipelineState{Question: "Q"})
	if delta.Sources == nil || len(delta.Sources) != 0 {
		t.Fatalf("expected empty non-nil sources, got %#v", delta.Sources)
	}
	if !strings.Contains(llm.lastUser(), "No sources found.") {
		t.Fatalf("expected placeholder in prompt: %q", llm.lastUser())
	}
	if n := delta.Trace[0].Output.NumSources; n == nil || *n != 0 {
		t.Fatalf("num_sources must be present and zero")
	}
}

func TestResearcherNilIndex(t *testing.T) {
	t.Parallel()
	r := NewResearcher(testConfig(), newStubLLM(stubReply{text: "notes"}), nil, quietLogger())
	delta := r.Run(context.Background(), PipelineState{Question: "Q"})
	if delta.Sources == nil || delta.Trace[0].Output.Errors != 0 {
		t.Fatalf("nil index should behave as empty corpus: %+v", delta.Trace[0].Output)
	}
}

func TestResearcherRetrievalFailure(t *testing.T) {
	t.Parallel()
	idx := &stubIndex{err: errors.New("index unavailable")}
	r := NewResearcher(testConfig(), newStubLLM(stubReply{text: "notes"}), idx, quietLogger())

	delta := r.Run(context.Background(), PipelineState{Question: "Q"})
	out := delta.Trace[0].Output
	if out.Errors != 1 || out.ErrorKind != ErrorKindRetrieval {
		t.Fatalf("expected retrieval error, got %+v", out)
	}
	if *delta.ResearchNotes != "notes" || len(delta.Sources) != 0 {
		t.Fatalf("stage should continue without sources")
	}
}

func TestResearcherCompletionFailure(t *testing.T) {
	t.Parallel()
	idx := &stubIndex{sources: []Source{{Citation: "c", Note: "n"}}}
	r := NewResearcher(testConfig(), failingLLM{err: errUnreachable}, idx, quietLogger())

	delta := r.Run(context.Background(), PipelineState{Question: "Q"})
	if !strings.HasPrefix(*delta.ResearchNotes, "Research failed: ") {
		t.Fatalf("unexpected notes %q", *delta.ResearchNotes)
	}
	if len(delta.Sources) != 1 {
		t.Fatalf("retrieved sources are kept when the summary fails")
	}
	if delta.Trace[0].Output.Errors != 1 {
		t.Fatalf("expected errors=1")
	}
}
