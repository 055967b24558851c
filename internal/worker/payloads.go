package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/queue/streams"
)

const (
	StatusSucceeded = "succeeded"
	StatusRejected  = "rejected"
)

// RunRequested is the run.requested payload.
type RunRequested struct {
	RunID       string       `json:"run_id"`
	SubmittedBy string       `json:"submitted_by,omitempty"`
	Request     core.Request `json:"request"`
}

// RunCompleted is the run.completed payload.
type RunCompleted struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	Errors      int    `json:"errors"`
	NumSources  int    `json:"num_sources"`
	DurationMS  int64  `json:"duration_ms"`
	SubmittedBy string `json:"submitted_by,omitempty"`
	Error       string `json:"error,omitempty"`
}

// payloadPublisher is the slice of *streams.Publisher the queue code needs.
type payloadPublisher interface {
	PublishPayload(ctx context.Context, stream, eventType, version, runID string, payload any, opts ...streams.PublishOption) (string, error)
}

// Submitter enqueues runs for the worker.
type Submitter struct {
	publisher payloadPublisher
	stream    string
	maxLen    int64
}

func NewSubmitter(pub *streams.Publisher, stream string, maxLen int64) *Submitter {
	return &Submitter{publisher: pub, stream: stream, maxLen: maxLen}
}

// Enqueue validates req the same way the pipeline would and publishes a
// run.requested event. The returned id is the run id the worker will use.
func (s *Submitter) Enqueue(ctx context.Context, req core.Request, submittedBy string) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", core.ErrEmptyQuestion
	}
	mode, err := core.ParseOutputMode(req.OutputMode)
	if err != nil {
		return "", err
	}
	req.OutputMode = string(mode)

	runID := uuid.NewString()
	payload := RunRequested{RunID: runID, SubmittedBy: submittedBy, Request: req}
	if _, err := s.publisher.PublishPayload(ctx, s.stream, streams.EventRunRequested, "v1", runID, payload,
		streams.WithMaxLenApprox(s.maxLen)); err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return runID, nil
}
