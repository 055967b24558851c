package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Refresher rebuilds the grounding index on a cron schedule.
type Refresher struct {
	expr    *cronexpr.Expression
	refresh func(context.Context) error
	logger  *log.Logger
	now     func() time.Time
}

// NewRefresher parses spec (standard cron, or @hourly / @daily).
func NewRefresher(spec string, refresh func(context.Context) error, logger *log.Logger) (*Refresher, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse refresh cron %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Refresher{expr: expr, refresh: refresh, logger: logger, now: time.Now}, nil
}

// Next returns the first fire time after t.
func (r *Refresher) Next(t time.Time) time.Time { return r.expr.Next(t) }

// Start runs refreshes in the background until ctx is done. A failed refresh
// is logged and the previous index stays in place.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		for {
			next := r.Next(r.now())
			if next.IsZero() {
				r.logger.Printf("refresh schedule has no future fire time, stopping")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			start := time.Now()
			if err := r.refresh(ctx); err != nil {
				r.logger.Printf("corpus refresh failed: %v", err)
				continue
			}
			r.logger.Printf("corpus refreshed in %v", time.Since(start))
		}
	}()
}
