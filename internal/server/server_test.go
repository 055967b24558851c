package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/agent/telemetry"
	"github.com/mohammad-safakhou/advisor/internal/queue/streams"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct{ calls int }

func (f *fakePipeline) Run(_ context.Context, req core.Request) (core.Result, error) {
	f.calls++
	if strings.TrimSpace(req.Question) == "" {
		return core.Result{}, core.ErrEmptyQuestion
	}
	if _, err := core.ParseOutputMode(req.OutputMode); err != nil {
		return core.Result{}, err
	}
	return core.Result{
		RunID:          fmt.Sprintf("run-%d", f.calls),
		VerifiedOutput: core.Deliverable{ExecutiveSummary: "ok", ActionItems: []core.ActionItem{}, Sources: []core.Source{}},
		Trace:          []core.TraceRecord{},
		Observability:  core.BuildObservability(nil),
	}, nil
}

type fakeIndex struct {
	gotK int
	err  error
}

func (f *fakeIndex) Search(_ context.Context, query string, k int) ([]core.Source, error) {
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	return []core.Source{{Citation: "doc | page 1 | chunk 1", Note: query}}, nil
}

type fakeQueue struct {
	req     core.Request
	subject string
	err     error
}

func (f *fakeQueue) Enqueue(_ context.Context, req core.Request, submittedBy string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if strings.TrimSpace(req.Question) == "" {
		return "", core.ErrEmptyQuestion
	}
	f.req, f.subject = req, submittedBy
	return "queued-1", nil
}

type fakeBacklog struct {
	b   streams.Backlog
	err error
}

func (f fakeBacklog) Backlog(context.Context) (streams.Backlog, error) { return f.b, f.err }

func newTestServer(t *testing.T, mutate func(*config.Config, *Deps)) *Server {
	t.Helper()
	cfg := config.Default()
	deps := Deps{
		Pipeline: &fakePipeline{},
		Index:    &fakeIndex{},
		Store:    store.NewMemory(),
		Logger:   log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	s, err := New(cfg, deps)
	require.NoError(t, err)
	return s
}

func do(s *Server, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresPipeline(t *testing.T) {
	_, err := New(config.Default(), Deps{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateAndFetchRun(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/api/runs", `{"question":"How do we triage?","goal":"speed","output_mode":"analyst"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created struct {
		RunID     string `json:"run_id"`
		Persisted bool   `json:"persisted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "run-1", created.RunID)
	assert.True(t, created.Persisted)

	rec = do(s, http.MethodGet, "/api/runs/run-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "How do we triage?", run.Question)
	assert.Equal(t, "analyst", run.OutputMode)

	rec = do(s, http.MethodGet, "/api/runs?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestCreateRunValidation(t *testing.T) {
	s := newTestServer(t, nil)
	cases := map[string]string{
		"empty question": `{"question":"   "}`,
		"bad mode":       `{"question":"q","output_mode":"verbose"}`,
		"bad json":       `{"question":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/runs", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/api/runs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	noStore := newTestServer(t, func(_ *config.Config, d *Deps) { d.Store = nil })
	rec = do(noStore, http.MethodGet, "/api/runs/any", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run storage disabled")

	rec = do(noStore, http.MethodPost, "/api/runs", `{"question":"q"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"persisted":false`)
}

func TestListRunsBadLimit(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/api/runs?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSources(t *testing.T) {
	idx := &fakeIndex{}
	s := newTestServer(t, func(_ *config.Config, d *Deps) { d.Index = idx })

	rec := do(s, http.MethodGet, "/api/sources?q=flood", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []core.Source
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "flood", got[0].Note)
	assert.Equal(t, config.Default().Retrieval.TopK, idx.gotK)

	rec = do(s, http.MethodGet, "/api/sources?q=flood&k=3", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, idx.gotK)

	for _, target := range []string{"/api/sources", "/api/sources?q=x&k=0", "/api/sources?q=x&k=51", "/api/sources?q=x&k=abc"} {
		rec = do(s, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	idx.err = errors.New("index offline")
	rec = do(s, http.MethodGet, "/api/sources?q=flood", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSourcesWithoutIndex(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, d *Deps) { d.Index = nil })
	rec := do(s, http.MethodGet, "/api/sources?q=flood", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, d *Deps) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("advisor_runs_total 1\n")) })
	})
	rec := do(s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "advisor_runs_total")

	rec = do(newTestServer(t, nil), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, func(c *config.Config, _ *Deps) { c.Server.JWTSecret = secret })

	rec := do(s, http.MethodGet, "/api/runs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(s, http.MethodGet, "/api/runs", "", http.Header{"Authorization": {"Bearer not-a-jwt"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrong, err := SignToken("ops", []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	rec = do(s, http.MethodGet, "/api/runs", "", http.Header{"Authorization": {"Bearer " + wrong}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := SignToken("ops", []byte(secret), -time.Minute)
	require.NoError(t, err)
	rec = do(s, http.MethodGet, "/api/runs", "", http.Header{"Authorization": {"Bearer " + expired}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	good, err := SignToken("ops", []byte(secret), time.Hour)
	require.NoError(t, err)
	rec = do(s, http.MethodGet, "/api/runs", "", http.Header{"Authorization": {"Bearer " + good}})
	assert.Equal(t, http.StatusOK, rec.Code)

	// health stays public
	rec = do(s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubjectFromContext(t *testing.T) {
	var seen string
	mw := AuthMiddleware([]byte("k"))
	s := newTestServer(t, nil)
	e := s.echo
	e.GET("/whoami", func(c echo.Context) error {
		seen, _ = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}, mw)

	tok, err := SignToken("analyst-7", []byte("k"), time.Hour)
	require.NoError(t, err)
	rec := do(s, http.MethodGet, "/whoami", "", http.Header{"Authorization": {"Bearer " + tok}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "analyst-7", seen)
}

func TestOpsPerformance(t *testing.T) {
	tel := telemetry.NewTelemetry(config.TelemetryConfig{Enabled: true}, log.New(io.Discard, "", 0))
	tel.RecordStage(context.Background(), telemetry.StageEvent{Stage: "planner", Latency: time.Millisecond})
	s := newTestServer(t, func(_ *config.Config, d *Deps) { d.Telemetry = tel })

	rec := do(s, http.MethodGet, "/api/ops/performance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Metrics telemetry.Metrics `json:"metrics"`
		Report  string            `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Metrics.StageExecutions["planner"])
	assert.Contains(t, body.Report, "planner: 1 executions")

	rec = do(s, http.MethodGet, "/api/ops/dashboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Advisory Pipeline")

	rec = do(newTestServer(t, nil), http.MethodGet, "/api/ops/performance", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDocsPage(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodGet, "/api/docs", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/openapi.yaml")
}

func TestCreateRunAsync(t *testing.T) {
	const secret = "test-secret"
	q := &fakeQueue{}
	fp := &fakePipeline{}
	s := newTestServer(t, func(c *config.Config, d *Deps) {
		c.Server.JWTSecret = secret
		d.Queue = q
		d.Pipeline = fp
	})
	tok, err := SignToken("analyst-7", []byte(secret), time.Hour)
	require.NoError(t, err)
	auth := http.Header{"Authorization": {"Bearer " + tok}}

	rec := do(s, http.MethodPost, "/api/runs?async=true", `{"question":"Price hail cover","output_mode":"analyst"}`, auth)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"run_id":"queued-1","status":"queued"}`, rec.Body.String())
	assert.Equal(t, "Price hail cover", q.req.Question)
	assert.Equal(t, "analyst-7", q.subject)
	assert.Zero(t, fp.calls, "async runs must not execute inline")

	rec = do(s, http.MethodPost, "/api/runs?async=1", `{"question":" "}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q.err = errors.New("redis down")
	rec = do(s, http.MethodPost, "/api/runs?async=true", `{"question":"q"}`, auth)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCreateRunAsyncWithoutQueue(t *testing.T) {
	rec := do(newTestServer(t, nil), http.MethodPost, "/api/runs?async=true", `{"question":"q"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "run queue disabled")
}

func TestOpsQueue(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, d *Deps) {
		d.QueueBacklog = fakeBacklog{b: streams.Backlog{
			Queued: 7, Pending: 2, Lag: 5, Consumers: 1,
			OldestIdle: 1500 * time.Millisecond, OldestRunID: "run-9",
			Completed: 12, LastCompletedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		}}
	})
	rec := do(s, http.MethodGet, "/api/ops/queue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queued":7,"pending":2,"lag":5,"consumers":1,"oldest_idle_ms":1500,
		"oldest_run_id":"run-9","completed":12,"last_completed_at":"2026-03-01T09:30:00Z"}`, rec.Body.String())

	s = newTestServer(t, func(_ *config.Config, d *Deps) { d.QueueBacklog = fakeBacklog{b: streams.Backlog{Lag: -1}} })
	rec = do(s, http.MethodGet, "/api/ops/queue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queued":0,"pending":0,"lag":-1,"consumers":0,"oldest_idle_ms":0,"completed":0}`, rec.Body.String())

	s = newTestServer(t, func(_ *config.Config, d *Deps) { d.QueueBacklog = fakeBacklog{err: errors.New("no group")} })
	rec = do(s, http.MethodGet, "/api/ops/queue", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(newTestServer(t, nil), http.MethodGet, "/api/ops/queue", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
