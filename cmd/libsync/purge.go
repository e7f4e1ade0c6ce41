package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"libsync/internal/library/store"
	"libsync/internal/library/upsert"
	"libsync/internal/platform/database"
)

func newPurgeCommand(a *app) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "purge <evidence-number>",
		Short: "Physically delete one record, keeping its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.cfg.RequireDatabase(); err != nil {
				return err
			}
			url := a.cfg.Database.AdminURL
			if url == "" {
				url = a.cfg.Database.URL
			}
			db, err := database.Open(ctx, url, 1, 1)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			up := upsert.New(store.NewPostgres(db, store.WithTxTimeout(a.cfg.Sync.TxTimeout)), upsert.WithLogger(a.logger))
			actionID, err := up.Purge(ctx, args[0], actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s (action %s)\n", args[0], actionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "who requested the purge, recorded in the audit log")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
