package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"repscan/internal/harvest"
)

func (a *app) harvestCommand() *cobra.Command {
	var (
		dir    string
		lookup bool
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Save the public peers of this host's connections as a new target list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			ips, err := harvest.NewCollector(a.deps.Lister).Collect(ctx)
			if err != nil {
				return err
			}
			path, err := harvest.Save(dir, ips, a.deps.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Unique IPs saved to %s\n", path)
			a.logger.InfoContext(ctx, "harvested peers", "count", len(ips), "path", path)

			if !lookup || len(ips) == 0 {
				return nil
			}
			return a.lookupAll(ctx, ips)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory for the list file and the latest-file marker")
	cmd.Flags().BoolVar(&lookup, "lookup", false, "look up the harvested addresses right away")
	return cmd
}
