package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/advisor/internal/queue/streams"
	"github.com/mohammad-safakhou/advisor/internal/worker"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Execute runs queued through the API (requires queue.enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			if !a.cfg.Queue.Enabled {
				return fmt.Errorf("queue.enabled is false; nothing to consume")
			}
			if name == "" {
				name = a.cfg.Queue.Consumer
			}
			if name == "" {
				host, _ := os.Hostname()
				name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
			}

			if err := a.loadCorpus(ctx); err != nil {
				return err
			}
			p, err := a.pipeline(a.cfg)
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			q, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.close()

			logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
			a.metrics.Serve(ctx, a.cfg.Telemetry.MetricsPort, logger)
			qc := a.cfg.Queue
			cons := streams.NewConsumer(q.client, q.registry, qc.Group, name, log.New(log.Writer(), "[QUEUE] ", log.LstdFlags))
			proc := worker.NewProcessor(logger, p, st, cons, q.publisher, worker.Options{
				RunStream:    qc.Stream,
				EventsStream: qc.EventsStream,
				Block:        qc.Block,
				Count:        qc.Count,
				ClaimIdle:    qc.ClaimIdle,
				MaxLen:       qc.MaxLen,
			}, otel.GetMeterProvider().Meter("advisor/worker"), otel.Tracer("advisor/worker"))
			logger.Printf("consumer %s joined group %s", name, qc.Group)
			return proc.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "consumer name (default queue.consumer or hostname-based)")
	return cmd
}
