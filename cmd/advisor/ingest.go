package main

import (
	"encoding/json"
	"fmt"
	"os"

	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/spf13/cobra"
)

func ingestCMD(cfgPath *string) *cobra.Command {
	var dir, manifest, query string
	var urls []string
	var k int
	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Build the grounding index and optionally preview a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			rc := a.cfg.Retrieval
			if dir != "" {
				rc.DocsDir = dir
				rc.Manifest = ""
			}
			if manifest != "" {
				rc.Manifest = manifest
			}
			docs, err := a.loader.Load(ctx, rc)
			if err != nil {
				return err
			}
			for _, u := range urls {
				doc, err := a.loader.LoadURL(ctx, u, "")
				if err != nil {
					return fmt.Errorf("load %s: %w", u, err)
				}
				docs = append(docs, doc)
			}
			if err := a.index.Build(ctx, docs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "documents=%d chunks=%d\n", len(docs), a.index.Len())

			if query == "" {
				return nil
			}
			if k <= 0 {
				k = rc.TopK
			}
			sources, err := a.index.Search(ctx, query, k)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Query   string        `json:"query"`
				Sources []core.Source `json:"sources"`
			}{query, sources})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "docs directory override")
	cmd.Flags().StringVar(&manifest, "manifest", "", "YAML corpus manifest override")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "extra pages to render and ingest")
	cmd.Flags().StringVar(&query, "query", "", "query to preview after indexing")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "passages to return for --query")
	return cmd
}
