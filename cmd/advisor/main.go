package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:          "advisor",
		Short:        "Source-grounded advisory pipeline for insurance operations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/advisor.yaml or ./advisor.yaml)")

	root.AddCommand(
		runCMD(&cfgPath),
		evalCMD(&cfgPath),
		ingestCMD(&cfgPath),
		serveCMD(&cfgPath),
		migrateCMD(&cfgPath),
		tokenCMD(&cfgPath),
		workerCMD(&cfgPath),
		runsCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
