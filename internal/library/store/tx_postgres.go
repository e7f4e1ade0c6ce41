package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"libsync/internal/library/models"
	"libsync/pkg/platform/sentinel"
)

type postgresTx struct {
	tx    *sql.Tx
	audit *PostgresAuditLog
}

func (t *postgresTx) FindForUpdate(ctx context.Context, evidenceNumber string) (*models.Record, error) {
	query := `SELECT ` + selectList() + ` FROM records WHERE evidence_number = $1 FOR UPDATE`
	rec, err := scanRecord(t.tx.QueryRowContext(ctx, query, evidenceNumber))
	if err != nil {
		return nil, classify("find record for update", err)
	}
	return rec, nil
}

func (t *postgresTx) Insert(ctx context.Context, rec *models.Record) error {
	cols := models.Columns()
	placeholders := make([]string, len(cols)+2)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := `INSERT INTO records (` + strings.Join(cols, ", ") + `, created_at, updated_at) VALUES (` +
		strings.Join(placeholders, ", ") + `)`

	args := append(rec.Values(), rec.CreatedAt, rec.UpdatedAt)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classify("insert record", err)
	}
	return nil
}

// Update writes only the named columns. Column names come from the model
// catalog and are checked before they reach the statement text.
func (t *postgresTx) Update(ctx context.Context, rec *models.Record, columns []string) error {
	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	for _, c := range columns {
		if !models.IsColumn(c) || c == "evidence_number" {
			return fmt.Errorf("update record %s: column %q is not updatable", rec.EvidenceNumber, c)
		}
		v, err := rec.Value(c)
		if err != nil {
			return fmt.Errorf("update record %s: %w", rec.EvidenceNumber, err)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, rec.UpdatedAt)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, rec.EvidenceNumber)

	query := `UPDATE records SET ` + strings.Join(sets, ", ") + fmt.Sprintf(` WHERE evidence_number = $%d`, len(args))
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("update record", err)
	}
	return expectOneRow(result, "update record "+rec.EvidenceNumber)
}

func (t *postgresTx) Delete(ctx context.Context, evidenceNumber string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM records WHERE evidence_number = $1`, evidenceNumber)
	if err != nil {
		return classify("delete record", err)
	}
	return expectOneRow(result, "delete record "+evidenceNumber)
}

func (t *postgresTx) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	return t.audit.Append(ctx, entry)
}

func expectOneRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	}
	return nil
}
