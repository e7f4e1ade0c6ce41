// Package store persists library records, their audit log and per-run quality metrics.
//
// Stores are pure I/O. The decision of what to write lives in the upsert package;
// a store only guarantees that everything written through one Tx commits or rolls
// back together and that concurrent transactions on the same key are serialized.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libsync/internal/library/models"
)

// DefaultTxTimeout bounds a single record transaction when the caller sets no deadline.
const DefaultTxTimeout = 5 * time.Second

// Tx is the set of operations available inside one record transaction.
type Tx interface {
	// FindForUpdate loads the row and holds it until the transaction ends.
	// It returns sentinel.ErrNotFound when there is no row.
	FindForUpdate(ctx context.Context, evidenceNumber string) (*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) error
	// Update writes the named columns plus updated_at.
	Update(ctx context.Context, rec *models.Record, columns []string) error
	Delete(ctx context.Context, evidenceNumber string) error
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// Transactor runs fn in a transaction serialized against every other
// transaction on the same key.
type Transactor interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context, tx Tx) error) error
}

// Reader is the read-only surface used by the sweep, the change feed and the ops API.
type Reader interface {
	Get(ctx context.Context, evidenceNumber string) (*models.Record, error)
	// ListActiveNotIn returns active evidence numbers missing from seen, sorted.
	ListActiveNotIn(ctx context.Context, seen []string) ([]string, error)
	ListAuditByRun(ctx context.Context, runID uuid.UUID) ([]models.AuditEntry, error)
	ListAuditByEvidence(ctx context.Context, evidenceNumber string) ([]models.AuditEntry, error)
	ListActive(ctx context.Context, limit, offset int) ([]models.ActiveLibrary, error)
	RegionStats(ctx context.Context) ([]models.RegionStatistics, error)
	ListQualityMetrics(ctx context.Context, limit int) ([]models.QualityMetricsSnapshot, error)
}

// MetricsWriter appends the per-run quality snapshot.
type MetricsWriter interface {
	SaveQualityMetrics(ctx context.Context, snap *models.QualityMetricsSnapshot) error
}

// Store is everything the pipeline needs from a backend.
type Store interface {
	Transactor
	Reader
	MetricsWriter
}

func withTxTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
