// Package upsert applies derived records to the store with an audit entry per mutation.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libsync/internal/library/models"
	"libsync/internal/library/store"
	"libsync/pkg/platform/sentinel"
)

// Upserter inserts, updates, deactivates and purges records. Every mutation and
// its audit entry commit in one transaction.
type Upserter struct {
	tx     store.Transactor
	audit  *AuditWriter
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Upserter)

func WithLogger(logger *slog.Logger) Option {
	return func(u *Upserter) {
		u.logger = logger
	}
}

func WithAuditWriter(w *AuditWriter) Option {
	return func(u *Upserter) {
		u.audit = w
	}
}

// WithClock sets the source of created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(u *Upserter) {
		u.now = now
	}
}

// New constructs an Upserter.
func New(tx store.Transactor, opts ...Option) *Upserter {
	u := &Upserter{
		tx:     tx,
		audit:  NewAuditWriter(),
		logger: slog.Default(),
		tracer: otel.Tracer("libsync/upsert"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upsert inserts rec, updates the stored row when its content, active flag or
// quality score changed, or does nothing when all match.
func (u *Upserter) Upsert(ctx context.Context, rec *models.Record, runID uuid.UUID) (models.Outcome, error) {
	if rec.EvidenceNumber == "" {
		return models.OutcomeFailed, fmt.Errorf("upsert: empty evidence number: %w", sentinel.ErrInvalidState)
	}
	ctx, span := u.tracer.Start(ctx, "upsert.record",
		trace.WithAttributes(attribute.String("evidence_number", rec.EvidenceNumber)))
	defer span.End()

	outcome := models.OutcomeUnchanged
	err := u.tx.RunInTx(ctx, rec.EvidenceNumber, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindForUpdate(ctx, rec.EvidenceNumber)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return u.insert(ctx, tx, rec, runID, &outcome)
		case err != nil:
			return err
		}

		if unchanged(existing, rec) {
			outcome = models.OutcomeUnchanged
			return nil
		}
		return u.update(ctx, tx, existing, rec, runID, &outcome)
	})
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return models.OutcomeFailed, fmt.Errorf("upsert %s: %w", rec.EvidenceNumber, err)
	}
	return outcome, nil
}

// unchanged reports whether rec matches the stored row. The score is compared
// too: a weight table may name columns outside the fingerprint.
func unchanged(existing, rec *models.Record) bool {
	return existing.ContentFingerprint == rec.ContentFingerprint &&
		existing.IsActive == rec.IsActive &&
		existing.QualityScore == rec.QualityScore
}

func (u *Upserter) insert(ctx context.Context, tx store.Tx, rec *models.Record, runID uuid.UUID, outcome *models.Outcome) error {
	now := u.now().UTC()
	row := rec.Clone()
	row.CreatedAt = now
	row.UpdatedAt = now
	if err := tx.Insert(ctx, row); err != nil {
		return err
	}
	if _, err := u.audit.Write(ctx, tx, Change{Type: models.ChangeInsert, New: row, RunID: runID}); err != nil {
		return err
	}
	*outcome = models.OutcomeInserted
	return nil
}

func (u *Upserter) update(ctx context.Context, tx store.Tx, existing, rec *models.Record, runID uuid.UUID, outcome *models.Outcome) error {
	row := rec.Clone()
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = u.now().UTC()

	changed := models.Diff(existing.Snapshot(), row.Snapshot())
	if len(changed) == 0 {
		*outcome = models.OutcomeUnchanged
		return nil
	}
	if err := tx.Update(ctx, row, changed); err != nil {
		return err
	}
	if _, err := u.audit.Write(ctx, tx, Change{Type: models.ChangeUpdate, Old: existing, New: row, RunID: runID}); err != nil {
		return err
	}
	*outcome = models.OutcomeUpdated
	return nil
}

// Deactivate marks a stored record inactive, leaving every other column except
// the optional deregistration details untouched. Missing or already inactive
// rows are reported as unchanged.
func (u *Upserter) Deactivate(ctx context.Context, evidenceNumber string, d models.Deactivation, runID uuid.UUID) (models.Outcome, error) {
	ctx, span := u.tracer.Start(ctx, "upsert.deactivate",
		trace.WithAttributes(attribute.String("evidence_number", evidenceNumber)))
	defer span.End()

	outcome := models.OutcomeUnchanged
	err := u.tx.RunInTx(ctx, evidenceNumber, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindForUpdate(ctx, evidenceNumber)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !existing.IsActive {
			return nil
		}

		row := existing.Clone()
		row.IsActive = false
		if d.Date != "" {
			row.DeregisteredDate = d.Date
		}
		if d.By != "" {
			row.DeregisteredBy = d.By
		}
		row.UpdatedAt = u.now().UTC()

		if err := tx.Update(ctx, row, models.Diff(existing.Snapshot(), row.Snapshot())); err != nil {
			return err
		}
		if _, err := u.audit.Write(ctx, tx, Change{Type: models.ChangeUpdate, Old: existing, New: row, RunID: runID}); err != nil {
			return err
		}
		outcome = models.OutcomeDeactivated
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deactivate failed")
		return models.OutcomeFailed, fmt.Errorf("deactivate %s: %w", evidenceNumber, err)
	}
	return outcome, nil
}

// Purge physically deletes a record on behalf of actor and returns the id of
// the administrative action recorded as the audit entry's run id.
func (u *Upserter) Purge(ctx context.Context, evidenceNumber, actor string) (uuid.UUID, error) {
	if actor == "" {
		return uuid.Nil, fmt.Errorf("purge %s: actor is required: %w", evidenceNumber, sentinel.ErrInvalidState)
	}
	ctx, span := u.tracer.Start(ctx, "upsert.purge",
		trace.WithAttributes(attribute.String("evidence_number", evidenceNumber)))
	defer span.End()

	actionID := uuid.New()
	err := u.tx.RunInTx(ctx, evidenceNumber, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindForUpdate(ctx, evidenceNumber)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, evidenceNumber); err != nil {
			return err
		}
		_, err = u.audit.Write(ctx, tx, Change{Type: models.ChangeDelete, Old: existing, RunID: actionID, Actor: actor})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge failed")
		return uuid.Nil, fmt.Errorf("purge %s: %w", evidenceNumber, err)
	}

	u.logger.InfoContext(ctx, "record purged",
		"evidence_number", evidenceNumber,
		"actor", actor,
		"action_id", actionID,
	)
	return actionID, nil
}
