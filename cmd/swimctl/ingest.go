package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/swimctl/swimctl/internal/runtime"
)

func ingestCMD(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest [xml-path]",
		Short: "Ingest the captured SWIM document once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runtime.SignalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			job := a.job()
			if len(args) == 1 {
				job.Path = args[0]
			}
			res, err := job.Run(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}
