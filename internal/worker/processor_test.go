package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/queue/streams"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu     sync.Mutex
	runIDs []string
}

func (f *fakePipeline) Run(ctx context.Context, req core.Request) (core.Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return core.Result{}, core.ErrEmptyQuestion
	}
	id, _ := core.RunIDFromContext(ctx)
	f.mu.Lock()
	f.runIDs = append(f.runIDs, id)
	f.mu.Unlock()
	return core.Result{
		RunID: id,
		VerifiedOutput: core.Deliverable{
			ExecutiveSummary: "summary",
			ActionItems:      []core.ActionItem{},
			Sources:          []core.Source{{Citation: "claims.md | page 1 | chunk 1"}},
		},
		Trace:         []core.TraceRecord{},
		Observability: core.BuildObservability(nil),
	}, nil
}

type published struct {
	stream    string
	eventType string
	payload   any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (f *fakePublisher) PublishPayload(_ context.Context, stream, eventType, _, _ string, payload any, _ ...streams.PublishOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, published{stream: stream, eventType: eventType, payload: payload})
	return "1-0", nil
}

type fakeSource struct {
	mu      sync.Mutex
	batches [][]streams.Message
	claims  []streams.Message
	acked   []string
}

func (f *fakeSource) Read(ctx context.Context, _ string, _ ...streams.ConsumerOption) ([]streams.Message, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSource) Ack(_ context.Context, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeSource) AutoClaim(_ context.Context, _ string, _ time.Duration, _ string, _ int64) ([]streams.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.claims
	f.claims = nil
	return out, "0-0", nil
}

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type failingStore struct{ *store.MemoryStore }

func (failingStore) Save(context.Context, store.Run) error { return errors.New("disk full") }

func requested(t *testing.T, id string, payload RunRequested) streams.Message {
	t.Helper()
	env := streams.Envelope{EventID: "ev-" + id, EventType: streams.EventRunRequested, PayloadVersion: "v1", RunID: payload.RunID}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	env.Data = data
	return streams.Message{ID: id, Envelope: env}
}

func testOptions() Options {
	return Options{RunStream: "advisor.runs", EventsStream: "advisor.events", Block: 10 * time.Millisecond, ClaimIdle: time.Minute}
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestHandleStoresRunAndPublishesCompletion(t *testing.T) {
	st := store.NewMemory()
	pub := &fakePublisher{}
	fp := &fakePipeline{}
	p := newProcessor(quiet(), fp, st, &fakeSource{}, pub, testOptions(), nil, nil)

	msg := requested(t, "1-0", RunRequested{RunID: "run-42", SubmittedBy: "ops", Request: core.Request{Question: "How do we triage hail claims?", OutputMode: "analyst"}})
	require.NoError(t, p.Handle(context.Background(), msg))

	run, err := st.Get(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, "How do we triage hail claims?", run.Question)
	assert.Equal(t, "analyst", run.OutputMode)
	assert.Equal(t, []string{"run-42"}, fp.runIDs)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "advisor.events", pub.events[0].stream)
	assert.Equal(t, streams.EventRunCompleted, pub.events[0].eventType)
	done := pub.events[0].payload.(RunCompleted)
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Equal(t, 1, done.NumSources)
	assert.Equal(t, "ops", done.SubmittedBy)
}

func TestHandleSkipsStoredRun(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.Save(context.Background(), store.Run{ID: "run-1", CreatedAt: time.Now()}))
	fp := &fakePipeline{}
	pub := &fakePublisher{}
	p := newProcessor(quiet(), fp, st, &fakeSource{}, pub, testOptions(), nil, nil)

	require.NoError(t, p.Handle(context.Background(), requested(t, "1-0", RunRequested{RunID: "run-1", Request: core.Request{Question: "q"}})))
	assert.Empty(t, fp.runIDs)
	assert.Empty(t, pub.events)
}

func TestHandleRejectsInvalidRequest(t *testing.T) {
	pub := &fakePublisher{}
	p := newProcessor(quiet(), &fakePipeline{}, store.NewMemory(), &fakeSource{}, pub, testOptions(), nil, nil)

	err := p.Handle(context.Background(), requested(t, "1-0", RunRequested{RunID: "run-9", Request: core.Request{Question: "  "}}))
	require.Error(t, err)
	assert.True(t, isPermanent(err))
	assert.ErrorIs(t, err, core.ErrEmptyQuestion)

	require.Len(t, pub.events, 1)
	done := pub.events[0].payload.(RunCompleted)
	assert.Equal(t, StatusRejected, done.Status)
	assert.Contains(t, done.Error, "question")
}

func TestHandleMalformedMessages(t *testing.T) {
	p := newProcessor(quiet(), &fakePipeline{}, store.NewMemory(), &fakeSource{}, nil, testOptions(), nil, nil)

	wrongType := streams.Message{ID: "1-0", Envelope: streams.Envelope{EventType: "run.completed", Data: []byte(`{}`)}}
	assert.True(t, isPermanent(p.Handle(context.Background(), wrongType)))

	noID := requested(t, "2-0", RunRequested{Request: core.Request{Question: "q"}})
	assert.True(t, isPermanent(p.Handle(context.Background(), noID)))

	garbage := streams.Message{ID: "3-0", Envelope: streams.Envelope{EventType: streams.EventRunRequested, Data: []byte(`[1,2]`)}}
	assert.True(t, isPermanent(p.Handle(context.Background(), garbage)))

	mismatched := requested(t, "4-0", RunRequested{RunID: "run-4", Request: core.Request{Question: "q"}})
	mismatched.Envelope.RunID = "run-other"
	assert.True(t, isPermanent(p.Handle(context.Background(), mismatched)))
}

func TestHandleStoreFailureIsRetryable(t *testing.T) {
	st := failingStore{store.NewMemory()}
	p := newProcessor(quiet(), &fakePipeline{}, st, &fakeSource{}, nil, testOptions(), nil, nil)

	err := p.Handle(context.Background(), requested(t, "1-0", RunRequested{RunID: "run-1", Request: core.Request{Question: "q"}}))
	require.Error(t, err)
	assert.False(t, isPermanent(err))
}

func TestStartAcksHandledAndLeavesRetryable(t *testing.T) {
	src := &fakeSource{
		claims: []streams.Message{},
		batches: [][]streams.Message{{
			{ID: "1-0", Envelope: streams.Envelope{EventType: "bogus"}},
		}},
	}
	src.batches[0] = append(src.batches[0], requested(t, "2-0", RunRequested{RunID: "run-2", Request: core.Request{Question: "q"}}))
	st := store.NewMemory()
	p := newProcessor(quiet(), &fakePipeline{}, st, src, nil, testOptions(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(src.ackedIDs()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"1-0", "2-0"}, src.ackedIDs())

	_, err := st.Get(context.Background(), "run-2")
	assert.NoError(t, err)
}

func TestStartLeavesFailedSaveUnacked(t *testing.T) {
	src := &fakeSource{batches: [][]streams.Message{{
		requested(t, "1-0", RunRequested{RunID: "run-1", Request: core.Request{Question: "q"}}),
	}}}
	p := newProcessor(quiet(), &fakePipeline{}, failingStore{store.NewMemory()}, src, nil, testOptions(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	assert.Empty(t, src.ackedIDs())
}

func TestStartClaimsStaleEntries(t *testing.T) {
	src := &fakeSource{claims: []streams.Message{
		requested(t, "7-0", RunRequested{RunID: "run-7", Request: core.Request{Question: "q"}}),
	}}
	st := store.NewMemory()
	p := newProcessor(quiet(), &fakePipeline{}, st, src, nil, testOptions(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	assert.Eventually(t, func() bool { return len(src.ackedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	_, err := st.Get(context.Background(), "run-7")
	assert.NoError(t, err)
}

func TestSubmitterEnqueue(t *testing.T) {
	pub := &fakePublisher{}
	s := &Submitter{publisher: pub, stream: "advisor.runs"}

	id, err := s.Enqueue(context.Background(), core.Request{Question: "q", OutputMode: "Analyst"}, "ops")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, pub.events, 1)
	assert.Equal(t, streams.EventRunRequested, pub.events[0].eventType)
	payload := pub.events[0].payload.(RunRequested)
	assert.Equal(t, id, payload.RunID)
	assert.Equal(t, "analyst", payload.Request.OutputMode)
	assert.Equal(t, "ops", payload.SubmittedBy)

	_, err = s.Enqueue(context.Background(), core.Request{Question: " "}, "")
	assert.ErrorIs(t, err, core.ErrEmptyQuestion)
	_, err = s.Enqueue(context.Background(), core.Request{Question: "q", OutputMode: "verbose"}, "")
	assert.ErrorIs(t, err, core.ErrInvalidOutputMode)

	pub.err = errors.New("redis down")
	_, err = s.Enqueue(context.Background(), core.Request{Question: "q"}, "")
	assert.Error(t, err)
}
