package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	srv "github.com/mohammad-safakhou/advisor/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			if serveAddr != "" {
				a.cfg.Server.Address = serveAddr
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

			httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
			deps := srv.Deps{
				Pipeline:  p,
				Index:     a.index,
				Store:     st,
				Telemetry: a.telemetry,
				Metrics:   a.metrics.Handler(),
				Logger:    httpLogger,
			}
			if a.cfg.Queue.Enabled {
				q, err := a.openQueue(ctx)
				if err != nil {
					return err
				}
				defer q.close()
				deps.Queue = q.submitter(a.cfg.Queue.MaxLen)
				deps.QueueBacklog = q.monitor
			}
			if spec := a.cfg.Retrieval.RefreshCron; spec != "" {
				refresher, err := srv.NewRefresher(spec, func(ctx context.Context) error {
					return a.loadCorpus(ctx)
				}, log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags))
				if err != nil {
					return err
				}
				deps.Refresher = refresher
			}

			s, err := srv.New(a.cfg, deps)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	return serve
}
