package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore keeps runs in the advisor_runs table created by migrations/.
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgres opens dsn and pings it within timeout (if positive).
func NewPostgres(ctx context.Context, dsn string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

const insertRunSQL = `
INSERT INTO advisor_runs (id, question, goal, output_mode, verified_output, trace, observability, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  verified_output = EXCLUDED.verified_output,
  trace = EXCLUDED.trace,
  observability = EXCLUDED.observability;
`

const selectRunSQL = `
SELECT id, question, goal, output_mode, verified_output, trace, observability, created_at
FROM advisor_runs
WHERE id=$1
`

const listRunsSQL = `
SELECT id, question, goal, output_mode, verified_output, trace, observability, created_at
FROM advisor_runs
ORDER BY created_at DESC, id
LIMIT $1
`

func (s *PostgresStore) Save(ctx context.Context, run Run) error {
	verified, err := json.Marshal(run.VerifiedOutput)
	if err != nil {
		return fmt.Errorf("encode verified_output: %w", err)
	}
	trace, err := json.Marshal(run.Trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	obs, err := json.Marshal(run.Observability)
	if err != nil {
		return fmt.Errorf("encode observability: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, insertRunSQL,
		run.ID, run.Question, run.Goal, run.OutputMode, verified, trace, obs, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                  Run
		verified, trace, obs []byte
	)
	if err := row.Scan(&run.ID, &run.Question, &run.Goal, &run.OutputMode, &verified, &trace, &obs, &run.CreatedAt); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal(verified, &run.VerifiedOutput); err != nil {
		return Run{}, fmt.Errorf("decode verified_output: %w", err)
	}
	if err := json.Unmarshal(trace, &run.Trace); err != nil {
		return Run{}, fmt.Errorf("decode trace: %w", err)
	}
	if err := json.Unmarshal(obs, &run.Observability); err != nil {
		return Run{}, fmt.Errorf("decode observability: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.DB.QueryRowContext(ctx, selectRunSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx, listRunsSQL, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.DB.Close() }
