package main

import (
	"fmt"
	"log"
	"os"
	"time"

	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/eval"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"github.com/spf13/cobra"
)

func evalCMD(cfgPath *string) *cobra.Command {
	var promptsPath, outputPath, mode string
	var concurrency int
	var save bool
	var cmd = &cobra.Command{
		Use:   "eval",
		Short: "Run the pipeline over a prompts file with the evaluation model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			ec := a.cfg.Eval
			if promptsPath == "" {
				promptsPath = ec.PromptsPath
			}
			if outputPath == "" {
				outputPath = ec.OutputPath
			}
			if mode == "" {
				mode = ec.OutputMode
			}
			if concurrency <= 0 {
				concurrency = ec.Concurrency
			}

			f, err := os.Open(promptsPath)
			if err != nil {
				return fmt.Errorf("missing prompts file: %w", err)
			}
			prompts, err := eval.ParsePrompts(f, ec.Goal)
			f.Close()
			if err != nil {
				return err
			}

			if err := a.loadCorpus(ctx); err != nil {
				return err
			}
			p, err := a.pipeline(a.cfg.ForEval())
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[EVAL] ", log.LstdFlags)
			opts := []eval.Option{eval.WithConcurrency(concurrency), eval.WithLogger(logger)}
			if save {
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, eval.WithResultHook(func(req core.Request, res core.Result) {
					if err := st.Save(ctx, store.NewRun(req, res, time.Now())); err != nil {
						logger.Printf("persist run %s: %v", res.RunID, err)
					}
				}))
			}

			records, err := eval.NewRunner(p, mode, opts...).Run(ctx, prompts)
			if err != nil {
				return err
			}
			if err := eval.WriteResults(outputPath, records); err != nil {
				return err
			}
			logger.Printf("Wrote %s (%d records)", outputPath, len(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&promptsPath, "prompts", "", "prompts file, one question[||goal] per line")
	cmd.Flags().StringVar(&outputPath, "output", "", "results file")
	cmd.Flags().StringVar(&mode, "mode", "", "output mode override")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "prompts run in parallel")
	cmd.Flags().BoolVar(&save, "save", false, "persist each run in the configured store")
	return cmd
}
