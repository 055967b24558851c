package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const envelopeField = "envelope"

// Envelope is the JSON stored under the "envelope" field of every stream
// entry. RunID repeats the payload's run id so an entry can be traced back to
// its run without decoding Data.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	PayloadVersion string          `json:"payload_version"`
	RunID          string          `json:"run_id,omitempty"`
	TraceID        string          `json:"trace_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data"`
}

// NewEnvelope wraps payload in an envelope with a fresh event id. The trace id
// is taken from the span active in ctx, if any.
func NewEnvelope(ctx context.Context, eventType, version, runID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		PayloadVersion: version,
		RunID:          runID,
		OccurredAt:     time.Now().UTC(),
		Data:           data,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

// Validate reports every missing header field at once.
func (e Envelope) Validate() error {
	var missing []string
	if e.EventID == "" {
		missing = append(missing, "event_id")
	}
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.PayloadVersion == "" {
		missing = append(missing, "payload_version")
	}
	if e.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if len(e.Data) == 0 {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		return fmt.Errorf("envelope missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (e Envelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode unmarshals Data into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// UnmarshalEnvelope parses and validates an envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, env.Validate()
}

// entryEnvelope reads the envelope field of a stream entry.
func entryEnvelope(msg redis.XMessage) (Envelope, error) {
	switch v := msg.Values[envelopeField].(type) {
	case string:
		return UnmarshalEnvelope([]byte(v))
	case []byte:
		return UnmarshalEnvelope(v)
	case nil:
		return Envelope{}, errors.New("missing envelope field")
	default:
		return Envelope{}, fmt.Errorf("envelope field has type %T", v)
	}
}
