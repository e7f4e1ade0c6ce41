package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"libsync/internal/library/models"
	"libsync/internal/library/syncrun"
	"libsync/internal/source"
)

func newSyncCommand(a *app) *cobra.Command {
	var (
		file           string
		memory         bool
		deregisteredBy string
	)

	cmd := &cobra.Command{
		Use:   "sync --file register.csv",
		Short: "Run one synchronization from a register export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			raws, err := source.ReadFile(file)
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "register loaded", "file", file, "rows", len(raws))

			var opts []syncrun.Option
			if deregisteredBy != "" {
				opts = append(opts, syncrun.WithDeactivation(models.Deactivation{
					Date: time.Now().Format(time.DateOnly),
					By:   deregisteredBy,
				}))
			}
			d, err := a.buildDeps(ctx, memory, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			report, err := d.orchestrator.Run(ctx, raws)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV export of the library register")
	cmd.Flags().BoolVar(&memory, "memory", false, "run against an in-memory store (dry run)")
	cmd.Flags().StringVar(&deregisteredBy, "deregistered-by", "", "recorded on records deactivated by the sweep")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printReport(w io.Writer, r *models.RunReport) {
	fmt.Fprintf(w, "run %s finished in %s\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  rows %d, processed %d, succeeded %d, failed %d (rejected %d)\n",
		r.Total, r.Processed, r.Succeeded, r.Failed, r.Rejected)
	fmt.Fprintf(w, "  inserted %d, updated %d, unchanged %d, deactivated %d, collisions %d\n",
		r.Inserted, r.Updated, r.Unchanged, r.Deactivated, r.Collisions)
	switch {
	case r.Aborted:
		fmt.Fprintln(w, "  status: aborted")
	case r.Cancelled:
		fmt.Fprintln(w, "  status: cancelled")
	case !r.Swept:
		fmt.Fprintln(w, "  status: completed, sweep skipped")
	default:
		fmt.Fprintln(w, "  status: completed")
	}
	if m := r.Metrics; m != nil {
		fmt.Fprintf(w, "  quality: avg %.2f, email %.0f%%, web %.0f%%, regions %d\n",
			m.AvgQualityScore, m.EmailCompleteness*100, m.WebCompleteness*100, m.DistinctRegions)
	}
}
