package streams

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestRunRequestedSchema(t *testing.T) {
	reg, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}

	ok := map[string]any{
		"run_id": "run-1",
		"request": map[string]any{
			"question":    "How should we price flood cover?",
			"goal":        "Board brief",
			"output_mode": "analyst",
		},
	}
	if err := reg.Validate(EventRunRequested, "v1", mustJSON(t, ok)); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}

	cases := map[string]map[string]any{
		"missing run id": {"request": map[string]any{"question": "q"}},
		"empty question": {"run_id": "r", "request": map[string]any{"question": ""}},
		"bad mode":       {"run_id": "r", "request": map[string]any{"question": "q", "output_mode": "verbose"}},
	}
	for name, payload := range cases {
		if err := reg.Validate(EventRunRequested, "v1", mustJSON(t, payload)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestRunCompletedSchema(t *testing.T) {
	reg, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}
	payload := map[string]any{"run_id": "run-1", "status": "succeeded", "errors": 0, "num_sources": 3, "duration_ms": 1200}
	if err := reg.Validate(EventRunCompleted, "v1", mustJSON(t, payload)); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}
	payload["status"] = "exploded"
	if err := reg.Validate(EventRunCompleted, "v1", mustJSON(t, payload)); err == nil {
		t.Fatal("expected invalid status to fail")
	}
}

func TestValidateUnknownEvent(t *testing.T) {
	reg := NewSchemaRegistry()
	err := reg.Validate("run.requested", "v9", []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "no schema registered") {
		t.Fatalf("Validate = %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(context.Background(), EventRunRequested, "v1", "r", map[string]string{"run_id": "r"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.EventID == "" || got.RunID != "r" || got.TraceID != "" {
		t.Fatalf("envelope = %+v", got)
	}
	if time.Since(got.OccurredAt) > time.Minute {
		t.Fatalf("occurred_at = %v", got.OccurredAt)
	}
	var payload struct {
		RunID string `json:"run_id"`
	}
	if err := got.Decode(&payload); err != nil || payload.RunID != "r" {
		t.Fatalf("Decode = %+v, %v", payload, err)
	}
}

func TestNewEnvelopeCarriesTraceID(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	env, err := NewEnvelope(ctx, EventRunCompleted, "v1", "r", map[string]string{})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.TraceID != sc.TraceID().String() {
		t.Fatalf("trace_id = %q", env.TraceID)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	now := time.Now()
	cases := map[string]Envelope{
		"no id":      {EventType: "x", PayloadVersion: "v1", OccurredAt: now, Data: []byte(`{}`)},
		"no type":    {EventID: "e", PayloadVersion: "v1", OccurredAt: now, Data: []byte(`{}`)},
		"no version": {EventID: "e", EventType: "x", OccurredAt: now, Data: []byte(`{}`)},
		"no time":    {EventID: "e", EventType: "x", PayloadVersion: "v1", Data: []byte(`{}`)},
		"no data":    {EventID: "e", EventType: "x", PayloadVersion: "v1", OccurredAt: now},
	}
	for name, env := range cases {
		if err := env.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	err := Envelope{}.Validate()
	if err == nil || !strings.Contains(err.Error(), "event_id, event_type, payload_version, occurred_at, data") {
		t.Fatalf("Validate = %v", err)
	}
}

func TestEntryEnvelope(t *testing.T) {
	env, err := NewEnvelope(context.Background(), EventRunRequested, "v1", "r", map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	for name, v := range map[string]any{"string": string(raw), "bytes": raw} {
		got, err := entryEnvelope(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"envelope": v}})
		if err != nil || got.EventID != env.EventID {
			t.Errorf("%s: entryEnvelope = %+v, %v", name, got, err)
		}
	}
	if _, err := entryEnvelope(redis.XMessage{Values: map[string]interface{}{}}); err == nil {
		t.Fatal("expected missing field error")
	}
	if _, err := entryEnvelope(redis.XMessage{Values: map[string]interface{}{"envelope": 42}}); err == nil {
		t.Fatal("expected type error")
	}
}
