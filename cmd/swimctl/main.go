package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCMD() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "swimctl",
		Short:        "Ingest SWIM flight messages and monitor the receiver",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config or .)")

	root.AddCommand(
		ingestCMD(&cfgPath),
		serveCMD(&cfgPath),
		migrateCMD(&cfgPath),
		scheduleCMD(&cfgPath),
		watchCMD(&cfgPath),
	)
	return root
}

func main() {
	if err := newRootCMD().Execute(); err != nil {
		os.Exit(1)
	}
}
