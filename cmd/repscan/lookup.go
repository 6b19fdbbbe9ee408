package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"repscan/internal/pipeline"
	"repscan/internal/render"
	"repscan/internal/storage"
	"repscan/internal/targets"
)

func (a *app) lookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup IDENTIFIER...",
		Short: "Look up one or more IP addresses or domains",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("lookup needs at least one identifier")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lookupAll(cmd.Context(), args)
		},
	}
}

func (a *app) batchCommand() *cobra.Command {
	var (
		file   string
		latest string
		glob   string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Look up every identifier in list files, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if watch {
				if latest == "" {
					return usagef("--watch requires --latest")
				}
				a.logger.InfoContext(ctx, "watching marker", "marker", latest)
				return targets.Watch(ctx, latest, a.logger, func(ctx context.Context, listPath string) error {
					ids, err := targets.ReadFile(listPath)
					if err != nil {
						return err
					}
					return a.lookupAll(ctx, ids)
				})
			}

			var ids []string
			switch {
			case file != "":
				var err error
				if file == "-" {
					ids, err = targets.Read(a.stdin)
				} else {
					ids, err = targets.ReadFile(file)
				}
				if err != nil {
					return err
				}
			case latest != "":
				var err error
				if ids, err = targets.ReadLatest(latest); err != nil {
					return err
				}
			case glob != "":
				var err error
				if ids, err = targets.Glob(glob); err != nil {
					return usageError{err}
				}
			default:
				return usagef("batch needs one of --file, --latest or --glob")
			}
			if len(ids) == 0 {
				a.logger.WarnContext(ctx, "no identifiers to look up")
				return nil
			}
			return a.lookupAll(ctx, ids)
		},
	}
	f := cmd.Flags()
	f.StringVar(&file, "file", "", "list file with one identifier per line (- for stdin)")
	f.StringVar(&latest, "latest", "", "latest-file marker naming the list to read, e.g. "+targets.MarkerFile)
	f.StringVar(&glob, "glob", "", "doublestar pattern of list files, e.g. 'lists/**/unique_ips_*.txt'")
	f.BoolVar(&watch, "watch", false, "keep running and process the list each time the --latest marker changes")
	cmd.MarkFlagsMutuallyExclusive("file", "latest", "glob")
	return cmd
}

// lookupAll runs ids through the pipeline in order, renders each result and
// persists it. A failed save is reported but never hides the rendered result.
func (a *app) lookupAll(ctx context.Context, ids []string) error {
	p, err := a.newPipeline()
	if err != nil {
		return err
	}

	stopMetrics, err := a.startMetrics(ctx)
	if err != nil {
		return err
	}
	defer stopMetrics()

	repo, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	if repo != nil {
		defer func() {
			if err := repo.Close(); err != nil {
				a.logger.Warn("storage close failed", "err", err)
			}
		}()
	}

	format := render.Format(a.cfg.Output)
	var saveErrs, renderErrs []error

	sum := p.RunBatch(ctx, ids, func(res pipeline.Result) {
		if err := render.Write(a.stdout, format, res.Identifier.String(), res.Record); err != nil {
			renderErrs = append(renderErrs, err)
		}
		if res.EnrichmentErr != nil {
			fmt.Fprintf(a.stderr, "%s: geolocation unavailable: %v\n", res.Identifier, res.EnrichmentErr)
		}
		if repo == nil {
			return
		}
		err := repo.Save(ctx, storage.Observation{
			RunID:      res.RunID,
			Identifier: res.Identifier.String(),
			ObservedAt: res.StartedAt,
			Record:     res.Record,
		})
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to persist result", "identifier", res.Identifier.String(), "err", err)
			saveErrs = append(saveErrs, err)
		}
	})

	if sum.Invalid > 0 {
		fmt.Fprintf(a.stderr, "skipped %d invalid identifier(s)\n", sum.Invalid)
	}
	if sum.Total > 0 && sum.Invalid == sum.Total {
		return usagef("no valid identifiers")
	}
	return errors.Join(append(append([]error{sum.Err}, saveErrs...), renderErrs...)...)
}
