package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backlog is the run queue as operators see it: the worker group's position
// on the run stream and the completion events published so far.
type Backlog struct {
	Queued      int64         // entries retained on the run stream
	Pending     int64         // delivered to a worker, not yet acked
	Lag         int64         // not yet delivered; -1 when Redis cannot tell
	Consumers   int64
	OldestIdle  time.Duration // idle time of the oldest pending entry
	OldestRunID string        // run held by the oldest pending entry

	Completed       int64 // entries retained on the events stream
	LastCompletedAt time.Time
}

// Monitor reads the backlog of one run stream, its worker group and the
// events stream the workers publish to.
type Monitor struct {
	client       *redis.Client
	runStream    string
	group        string
	eventsStream string
}

// NewMonitor creates a Monitor. eventsStream may be empty.
func NewMonitor(client *redis.Client, runStream, group, eventsStream string) *Monitor {
	return &Monitor{client: client, runStream: runStream, group: group, eventsStream: eventsStream}
}

// Backlog queries Redis for the current backlog. A missing worker group is an
// error since nothing would ever drain the queue.
func (m *Monitor) Backlog(ctx context.Context) (Backlog, error) {
	if m.client == nil {
		return Backlog{}, fmt.Errorf("redis client is nil")
	}
	b := Backlog{Lag: -1}

	queued, err := m.client.XLen(ctx, m.runStream).Result()
	if err != nil {
		return Backlog{}, fmt.Errorf("xlen %s: %w", m.runStream, err)
	}
	b.Queued = queued

	groups, err := m.client.XInfoGroups(ctx, m.runStream).Result()
	if err != nil {
		return Backlog{}, fmt.Errorf("xinfo groups %s: %w", m.runStream, err)
	}
	found := false
	for _, g := range groups {
		if g.Name == m.group {
			b.Pending, b.Lag, b.Consumers = g.Pending, g.Lag, int64(g.Consumers)
			found = true
			break
		}
	}
	if !found {
		return Backlog{}, fmt.Errorf("group %q not found on %s", m.group, m.runStream)
	}

	if b.Pending > 0 {
		if err := m.oldestPending(ctx, &b); err != nil {
			return Backlog{}, err
		}
	}
	if m.eventsStream != "" {
		if err := m.lastCompleted(ctx, &b); err != nil {
			return Backlog{}, err
		}
	}
	return b, nil
}

func (m *Monitor) oldestPending(ctx context.Context, b *Backlog) error {
	pending, err := m.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: m.runStream,
		Group:  m.group,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("xpending %s: %w", m.runStream, err)
	}
	if len(pending) == 0 {
		return nil
	}
	b.OldestIdle = pending[0].Idle

	// the entry may already be trimmed away
	entries, err := m.client.XRangeN(ctx, m.runStream, pending[0].ID, pending[0].ID, 1).Result()
	if err != nil {
		return fmt.Errorf("xrange %s: %w", m.runStream, err)
	}
	if len(entries) == 1 {
		if env, err := entryEnvelope(entries[0]); err == nil {
			b.OldestRunID = env.RunID
		}
	}
	return nil
}

func (m *Monitor) lastCompleted(ctx context.Context, b *Backlog) error {
	n, err := m.client.XLen(ctx, m.eventsStream).Result()
	if err != nil {
		return fmt.Errorf("xlen %s: %w", m.eventsStream, err)
	}
	b.Completed = n
	if n == 0 {
		return nil
	}
	last, err := m.client.XRevRangeN(ctx, m.eventsStream, "+", "-", 1).Result()
	if err != nil {
		return fmt.Errorf("xrevrange %s: %w", m.eventsStream, err)
	}
	if len(last) == 1 {
		if env, err := entryEnvelope(last[0]); err == nil {
			b.LastCompletedAt = env.OccurredAt
		}
	}
	return nil
}
