// Package eval runs the pipeline over a file of test prompts and writes the
// results as JSON.
package eval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"golang.org/x/sync/errgroup"
)

// Prompt is one `question[||goal]` line.
type Prompt struct {
	Line     int
	Question string
	Goal     string
}

// ParsePrompts reads one prompt per line. Blank lines and lines starting with
// '#' are skipped; a missing goal falls back to defaultGoal.
func ParsePrompts(r io.Reader, defaultGoal string) ([]Prompt, error) {
	var out []Prompt
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		question, goal, found := strings.Cut(line, "||")
		p := Prompt{Line: n, Question: strings.TrimSpace(question), Goal: defaultGoal}
		if found {
			p.Goal = strings.TrimSpace(goal)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return out, nil
}

// Record is one entry of the results file. On failure VerifiedOutput and
// Observability are empty objects and Error is set.
type Record struct {
	Question       string `json:"question"`
	Goal           string `json:"goal"`
	Error          string `json:"error,omitempty"`
	VerifiedOutput any    `json:"verified_output"`
	Observability  any    `json:"observability"`
}

// PipelineRunner is the pipeline entry point.
type PipelineRunner interface {
	Run(ctx context.Context, req core.Request) (core.Result, error)
}

// Runner evaluates prompts against a pipeline.
type Runner struct {
	pipeline    PipelineRunner
	outputMode  string
	concurrency int
	logger      *log.Logger
	onResult    func(core.Request, core.Result)
}

// Option configures a Runner
type Option func(*Runner)

// WithConcurrency bounds the number of prompts in flight.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the runner logger
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResultHook is called after every successful run, for persistence.
func WithResultHook(fn func(core.Request, core.Result)) Option {
	return func(r *Runner) { r.onResult = fn }
}

func NewRunner(p PipelineRunner, outputMode string, opts ...Option) *Runner {
	r := &Runner{
		pipeline:    p,
		outputMode:  outputMode,
		concurrency: 1,
		logger:      log.New(log.Writer(), "[EVAL] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates every prompt. Records keep prompt order regardless of
// concurrency. A prompt failure becomes an error record; only context
// cancellation aborts the batch.
func (r *Runner) Run(ctx context.Context, prompts []Prompt) ([]Record, error) {
	records := make([]Record, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, p := range prompts {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.logger.Printf("Running %d/%d: %s", i+1, len(prompts), preview(p.Question, 50))
			records[i] = r.runOne(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Runner) runOne(ctx context.Context, p Prompt) Record {
	req := core.Request{Question: p.Question, Goal: p.Goal, OutputMode: r.outputMode}
	res, err := r.pipeline.Run(ctx, req)
	if err != nil {
		r.logger.Printf("prompt line %d failed: %v", p.Line, err)
		return Record{
			Question:       p.Question,
			Goal:           p.Goal,
			Error:          err.Error(),
			VerifiedOutput: map[string]any{},
			Observability:  map[string]any{},
		}
	}
	if r.onResult != nil {
		r.onResult(req, res)
	}
	return Record{
		Question:       p.Question,
		Goal:           p.Goal,
		VerifiedOutput: res.VerifiedOutput,
		Observability:  res.Observability,
	}
}

// WriteResults writes records as indented JSON, creating parent directories.
func WriteResults(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
