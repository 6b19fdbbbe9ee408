package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"repscan/internal/render"
	"repscan/internal/sanitize"
	"repscan/internal/storage"
)

// showCommand renders the newest stored observation of each identifier
// without contacting the lookup page or the geolocation API.
func (a *app) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show IDENTIFIER...",
		Short: "Print the last stored result for one or more IP addresses or domains",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("show needs at least one identifier")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ids := make([]sanitize.Identifier, 0, len(args))
			for _, raw := range args {
				id, err := sanitize.Sanitize(raw)
				if err != nil {
					return usageError{fmt.Errorf("%q: %w", raw, err)}
				}
				ids = append(ids, id)
			}

			repo, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			if repo == nil {
				return usagef("show needs storage.kind to name a backend, persistence is disabled")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					a.logger.Warn("storage close failed", "err", err)
				}
			}()

			format := render.Format(a.cfg.Output)
			var errs []error
			for _, id := range ids {
				o, err := repo.Load(ctx, id.String())
				if errors.Is(err, storage.ErrNotFound) {
					fmt.Fprintf(a.stderr, "%s: no stored result\n", id)
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stderr, "%s: observed %s (run %s)\n", id, o.ObservedAt.UTC().Format(time.RFC3339), o.RunID)
				if err := render.Write(a.stdout, format, id.String(), o.Record); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}
