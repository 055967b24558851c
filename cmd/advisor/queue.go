package main

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/advisor/internal/queue/streams"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"github.com/mohammad-safakhou/advisor/internal/worker"
	"github.com/redis/go-redis/v9"
)

// runQueue bundles the Redis Streams pieces shared by serve and worker.
type runQueue struct {
	client    *redis.Client
	publisher *streams.Publisher
	registry  *streams.SchemaRegistry
	monitor   *streams.Monitor
	stream    string
}

func (a *app) openQueue(ctx context.Context) (*runQueue, error) {
	qc := a.cfg.Queue
	client, err := store.DialRedis(ctx, a.cfg.Storage.Redis)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	reg, err := streams.NewDefaultRegistry()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := streams.EnsureGroup(ctx, client, qc.Stream, qc.Group); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &runQueue{
		client:    client,
		publisher: streams.NewPublisher(client, reg),
		registry:  reg,
		monitor:   streams.NewMonitor(client, qc.Stream, qc.Group, qc.EventsStream),
		stream:    qc.Stream,
	}, nil
}

func (q *runQueue) submitter(maxLen int64) *worker.Submitter {
	return worker.NewSubmitter(q.publisher, q.stream, maxLen)
}

func (q *runQueue) close() { _ = q.client.Close() }
