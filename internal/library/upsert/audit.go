package upsert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"libsync/internal/library/models"
	"libsync/internal/library/store"
)

// Change describes one row mutation to be recorded.
type Change struct {
	Type  models.ChangeType
	Old   *models.Record
	New   *models.Record
	RunID uuid.UUID
	Actor string
}

// AuditWriter turns a Change into an audit entry and appends it inside the
// caller's transaction.
type AuditWriter struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// NewAuditWriter creates an AuditWriter using the wall clock and random UUIDs.
func NewAuditWriter() *AuditWriter {
	return &AuditWriter{now: time.Now, newID: uuid.New}
}

// Write appends the entry for c through tx. Its error must abort the transaction.
func (w *AuditWriter) Write(ctx context.Context, tx store.Tx, c Change) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		ID:         w.newID(),
		ChangeType: c.Type,
		ChangedAt:  w.now().UTC(),
		RunID:      c.RunID,
		Actor:      c.Actor,
	}
	if entry.Actor == "" {
		entry.Actor = models.ActorSync
	}
	if c.Old != nil {
		entry.EvidenceNumber = c.Old.EvidenceNumber
		entry.OldSnapshot = c.Old.Snapshot()
	}
	if c.New != nil {
		entry.EvidenceNumber = c.New.EvidenceNumber
		entry.NewSnapshot = c.New.Snapshot()
	}

	switch c.Type {
	case models.ChangeInsert:
		entry.ChangedFields = models.Diff(nil, entry.NewSnapshot)
	case models.ChangeUpdate:
		entry.ChangedFields = models.Diff(entry.OldSnapshot, entry.NewSnapshot)
	case models.ChangeDelete:
		entry.ChangedFields = models.Diff(entry.OldSnapshot, nil)
	default:
		return nil, fmt.Errorf("unknown change type %q", c.Type)
	}

	if err := tx.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}
