package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"github.com/spf13/cobra"
)

func runsCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st store.RunStore) error {
				runs, err := st.List(ctx, limit)
				if err != nil {
					return err
				}
				printRunList(os.Stdout, runs)
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to return")

	var jsonOut, showTrace bool
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Display one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfgPath, func(ctx context.Context, st store.RunStore) error {
				run, err := st.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("load run %s: %w", args[0], err)
				}
				if jsonOut {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(run)
				}
				printRunSummary(os.Stdout, run, showTrace)
				return nil
			})
		},
	}
	show.Flags().BoolVar(&jsonOut, "json", false, "emit the stored run as JSON")
	show.Flags().BoolVar(&showTrace, "trace", false, "print per-stage observability rows")

	cmd.AddCommand(list, show)
	return cmd
}

func withStore(ctx context.Context, cfgPath string, fn func(context.Context, store.RunStore) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func printRunList(w io.Writer, runs []store.Run) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tMODE\tCREATED\tERRORS\tTOKENS\tQUESTION")
	for _, r := range runs {
		t := r.Observability.Totals
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.OutputMode, r.CreatedAt.Format(time.RFC3339), t.Errors, t.TotalTokens, clip(r.Question, 60))
	}
	tw.Flush()
}

func printRunSummary(w io.Writer, r store.Run, withTrace bool) {
	fmt.Fprintf(w, "Run: %s\nMode: %s\nRecorded: %s\n\n", r.ID, r.OutputMode, r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Question: %s\n", strings.TrimSpace(r.Question))
	if r.Goal != "" {
		fmt.Fprintf(w, "Goal: %s\n", strings.TrimSpace(r.Goal))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Executive Summary:")
	fmt.Fprintln(w, strings.TrimSpace(r.VerifiedOutput.ExecutiveSummary))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Action items: %d\n", len(r.VerifiedOutput.ActionItems))
	fmt.Fprintf(w, "Sources: %d\n", len(r.VerifiedOutput.Sources))
	t := r.Observability.Totals
	fmt.Fprintf(w, "Totals: %d ms, %d tokens, %d errors\n", t.LatencyMS, t.TotalTokens, t.Errors)

	if !withTrace {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tLATENCY MS\tPROMPT\tCOMPLETION\tERRORS\tKIND")
	for _, m := range r.Observability.PerAgent {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", m.Agent, m.LatencyMS, m.PromptTokens, m.CompletionTokens, m.Errors, m.ErrorKind)
	}
	tw.Flush()
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
