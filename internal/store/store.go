package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Run is one persisted pipeline run.
type Run struct {
	ID             string                    `json:"id"`
	Question       string                    `json:"question"`
	Goal           string                    `json:"goal"`
	OutputMode     string                    `json:"output_mode"`
	VerifiedOutput core.Deliverable          `json:"verified_output"`
	Trace          []core.TraceRecord        `json:"trace"`
	Observability  core.ObservabilitySummary `json:"observability"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// NewRun builds the record for a completed run.
func NewRun(req core.Request, res core.Result, now time.Time) Run {
	mode, err := core.ParseOutputMode(req.OutputMode)
	if err != nil {
		mode = core.OutputMode(req.OutputMode)
	}
	return Run{
		ID:             res.RunID,
		Question:       req.Question,
		Goal:           req.Goal,
		OutputMode:     string(mode),
		VerifiedOutput: res.VerifiedOutput,
		Trace:          res.Trace,
		Observability:  res.Observability,
		CreatedAt:      now.UTC(),
	}
}

// RunStore persists runs. List returns the most recent runs first.
type RunStore interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (RunStore, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemory(), nil
	case config.BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	case config.BackendPostgres:
		return NewPostgres(ctx, cfg.Postgres.DSN(), cfg.Postgres.Timeout)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
