package main

import (
	"github.com/spf13/cobra"

	"libsync/internal/library/store"
	"libsync/internal/platform/database"
)

func newMigrateCommand(a *app) *cobra.Command {
	var grants bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.cfg.RequireDatabase(); err != nil {
				return err
			}
			// DDL and role management need the owner, so prefer the admin DSN.
			url := a.cfg.Database.AdminURL
			if url == "" {
				url = a.cfg.Database.URL
			}
			db, err := database.Open(ctx, url, 1, 1)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := store.Migrate(ctx, db, grants); err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "schema applied", "grants", grants)
			return nil
		},
	}
	cmd.Flags().BoolVar(&grants, "grants", false, "also create the reader, writer and admin roles")
	return cmd
}
