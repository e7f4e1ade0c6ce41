package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

//go:embed grants.sql
var grantsSQL string

// Migrate applies the schema. With grants it also creates the reader, writer
// and admin roles and their privileges. Both scripts are idempotent.
func Migrate(ctx context.Context, db *sql.DB, grants bool) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", classify("migrate", err))
	}
	if !grants {
		return nil
	}
	if _, err := db.ExecContext(ctx, grantsSQL); err != nil {
		return fmt.Errorf("apply grants: %w", classify("migrate", err))
	}
	return nil
}
