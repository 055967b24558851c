package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"github.com/spf13/cobra"
)

func runCMD(cfgPath *string) *cobra.Command {
	var req core.Request
	var save bool
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.loadCorpus(ctx); err != nil {
				return err
			}
			p, err := a.pipeline(a.cfg)
			if err != nil {
				return err
			}
			res, err := p.Run(ctx, req)
			if err != nil {
				return err
			}

			if save {
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()
				if err := st.Save(ctx, store.NewRun(req, res, time.Now())); err != nil {
					return fmt.Errorf("save run: %w", err)
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&req.Question, "question", "q", "", "business question")
	cmd.Flags().StringVarP(&req.Goal, "goal", "g", "", "goal of the deliverable")
	cmd.Flags().StringVarP(&req.OutputMode, "mode", "m", string(core.OutputModeExecutive), "output mode: executive or analyst")
	cmd.Flags().StringVar(&req.EmailSigner, "signer", "", "name used to sign the client email")
	cmd.Flags().BoolVar(&save, "save", false, "persist the run in the configured store")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}
