package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"libsync/internal/library/models"
	"libsync/pkg/platform/sentinel"
	txcontext "libsync/pkg/platform/tx"
)

// PostgresStore persists records in PostgreSQL. Mutations go through the write
// pool; the sweep, the change feed and the ops API read through the read pool.
type PostgresStore struct {
	write   *sql.DB
	read    *sql.DB
	timeout time.Duration
	audit   *PostgresAuditLog
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithReadDB routes reads to a separate pool.
func WithReadDB(db *sql.DB) PostgresOption {
	return func(s *PostgresStore) {
		if db != nil {
			s.read = db
		}
	}
}

// WithTxTimeout bounds each record transaction.
func WithTxTimeout(timeout time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.timeout = timeout
	}
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(write *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{write: write, read: write, audit: NewPostgresAuditLog(write)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx opens a transaction on the write pool, takes a transaction-scoped
// advisory lock on key and hands fn a context that carries the transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w: %w", sentinel.ErrConflict, err)
	}
	ctx, cancel := withTxTimeout(ctx, s.timeout)
	defer cancel()

	sqlTx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return classify("acquire record lock", err)
	}

	ctx = txcontext.WithTx(ctx, sqlTx)
	if err := fn(ctx, &postgresTx{tx: sqlTx, audit: s.audit}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// selectList is the records column list with numerics cast for database/sql scanning.
func selectList() string {
	cols := models.Columns()
	out := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		if c == "quality_score" {
			out = append(out, "quality_score::float8")
			continue
		}
		out = append(out, c)
	}
	out = append(out, "created_at", "updated_at")
	return strings.Join(out, ", ")
}

func scanRecord(row interface{ Scan(dest ...any) error }) (*models.Record, error) {
	rec := &models.Record{}
	dest := append(rec.ScanTargets(), &rec.CreatedAt, &rec.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, evidenceNumber string) (*models.Record, error) {
	query := `SELECT ` + selectList() + ` FROM records WHERE evidence_number = $1`
	rec, err := scanRecord(s.read.QueryRowContext(ctx, query, evidenceNumber))
	if err != nil {
		return nil, classify("get record", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListActiveNotIn(ctx context.Context, seen []string) ([]string, error) {
	if seen == nil {
		seen = []string{}
	}
	query := `
		SELECT evidence_number
		FROM records
		WHERE is_active AND NOT (evidence_number = ANY($1::text[]))
		ORDER BY evidence_number
	`
	rows, err := s.read.QueryContext(ctx, query, pq.Array(seen))
	if err != nil {
		return nil, classify("list active records", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, classify("scan active record", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate active records", err)
	}
	return out, nil
}

func (s *PostgresStore) ListAuditByRun(ctx context.Context, runID uuid.UUID) ([]models.AuditEntry, error) {
	return s.audit.list(ctx, s.read, `WHERE run_id = $1`, runID)
}

func (s *PostgresStore) ListAuditByEvidence(ctx context.Context, evidenceNumber string) ([]models.AuditEntry, error) {
	return s.audit.list(ctx, s.read, `WHERE evidence_number = $1`, evidenceNumber)
}

func (s *PostgresStore) ListActive(ctx context.Context, limit, offset int) ([]models.ActiveLibrary, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT evidence_number, linking_id, library_name, library_street, library_postal_code,
		       library_municipality, library_district, library_region, email,
		       website_normalized, resource_uri, quality_score::float8
		FROM active_records
		ORDER BY library_region, library_district, library_name, evidence_number
		LIMIT $1 OFFSET $2
	`
	rows, err := s.read.QueryContext(ctx, query, lim, offset)
	if err != nil {
		return nil, classify("list active libraries", err)
	}
	defer rows.Close()

	var out []models.ActiveLibrary
	for rows.Next() {
		var (
			lib                                                  models.ActiveLibrary
			name, street, postal, muni, district, region, email sql.NullString
			website                                              sql.NullString
		)
		if err := rows.Scan(&lib.EvidenceNumber, &lib.LinkingID, &name, &street, &postal,
			&muni, &district, &region, &email, &website, &lib.ResourceURI, &lib.QualityScore); err != nil {
			return nil, classify("scan active library", err)
		}
		lib.Name = name.String
		lib.Street = street.String
		lib.PostalCode = postal.String
		lib.Municipality = muni.String
		lib.District = district.String
		lib.Region = region.String
		lib.Email = email.String
		lib.WebsiteNormalized = website.String
		out = append(out, lib)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate active libraries", err)
	}
	return out, nil
}

func (s *PostgresStore) RegionStats(ctx context.Context) ([]models.RegionStatistics, error) {
	query := `
		SELECT region, total_records, active_records,
		       email_completeness::float8, web_completeness::float8, avg_quality_score::float8
		FROM region_statistics
	`
	rows, err := s.read.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list region statistics", err)
	}
	defer rows.Close()

	var out []models.RegionStatistics
	for rows.Next() {
		var st models.RegionStatistics
		if err := rows.Scan(&st.Region, &st.TotalRecords, &st.ActiveRecords,
			&st.EmailCompleteness, &st.WebCompleteness, &st.AvgQualityScore); err != nil {
			return nil, classify("scan region statistics", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate region statistics", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveQualityMetrics(ctx context.Context, snap *models.QualityMetricsSnapshot) error {
	query := `
		INSERT INTO quality_metrics (
			run_id, run_date, total_records, active_records, email_completeness,
			web_completeness, avg_quality_score, distinct_regions, duration_ms,
			succeeded, failed, inserted, updated, unchanged, deactivated, collisions
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := txcontext.Executor(ctx, s.write).ExecContext(ctx, query,
		snap.RunID,
		snap.RunDate,
		snap.TotalRecords,
		snap.ActiveRecords,
		snap.EmailCompleteness,
		snap.WebCompleteness,
		snap.AvgQualityScore,
		snap.DistinctRegions,
		snap.Duration.Milliseconds(),
		snap.Succeeded,
		snap.Failed,
		snap.Inserted,
		snap.Updated,
		snap.Unchanged,
		snap.Deactivated,
		snap.Collisions,
	)
	if err != nil {
		return classify("save quality metrics", err)
	}
	return nil
}

// ListQualityMetrics returns the most recent snapshots, newest first.
func (s *PostgresStore) ListQualityMetrics(ctx context.Context, limit int) ([]models.QualityMetricsSnapshot, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	query := `
		SELECT run_id, run_date, total_records, active_records, email_completeness::float8,
		       web_completeness::float8, avg_quality_score::float8, distinct_regions, duration_ms,
		       succeeded, failed, inserted, updated, unchanged, deactivated, collisions
		FROM quality_metrics
		ORDER BY run_date DESC
		LIMIT $1
	`
	rows, err := s.read.QueryContext(ctx, query, lim)
	if err != nil {
		return nil, classify("list quality metrics", err)
	}
	defer rows.Close()

	var out []models.QualityMetricsSnapshot
	for rows.Next() {
		var (
			m          models.QualityMetricsSnapshot
			durationMS int64
		)
		if err := rows.Scan(&m.RunID, &m.RunDate, &m.TotalRecords, &m.ActiveRecords,
			&m.EmailCompleteness, &m.WebCompleteness, &m.AvgQualityScore, &m.DistinctRegions,
			&durationMS, &m.Succeeded, &m.Failed, &m.Inserted, &m.Updated, &m.Unchanged,
			&m.Deactivated, &m.Collisions); err != nil {
			return nil, classify("scan quality metrics", err)
		}
		m.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate quality metrics", err)
	}
	return out, nil
}

// PostgresAuditLog appends audit entries. Append joins the transaction carried
// by ctx so an entry commits or rolls back with its row mutation.
type PostgresAuditLog struct {
	db *sql.DB
}

// NewPostgresAuditLog constructs an audit log over db.
func NewPostgresAuditLog(db *sql.DB) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

func (a *PostgresAuditLog) Append(ctx context.Context, entry *models.AuditEntry) error {
	oldSnap, err := snapshotParam(entry.OldSnapshot)
	if err != nil {
		return fmt.Errorf("marshal old snapshot: %w", err)
	}
	newSnap, err := snapshotParam(entry.NewSnapshot)
	if err != nil {
		return fmt.Errorf("marshal new snapshot: %w", err)
	}
	fields := entry.ChangedFields
	if fields == nil {
		fields = []string{}
	}

	query := `
		INSERT INTO audit_log (
			id, evidence_number, change_type, changed_fields,
			old_snapshot, new_snapshot, changed_at, run_id, actor
		)
		VALUES ($1, $2, $3, $4::text[], $5::jsonb, $6::jsonb, $7, $8, $9)
	`
	_, err = txcontext.Executor(ctx, a.db).ExecContext(ctx, query,
		entry.ID,
		entry.EvidenceNumber,
		string(entry.ChangeType),
		pq.Array(fields),
		oldSnap,
		newSnap,
		entry.ChangedAt,
		entry.RunID,
		entry.Actor,
	)
	if err != nil {
		return classify("insert audit entry", err)
	}
	return nil
}

func (a *PostgresAuditLog) list(ctx context.Context, db *sql.DB, where string, arg any) ([]models.AuditEntry, error) {
	query := `
		SELECT id, evidence_number, change_type, changed_fields,
		       old_snapshot, new_snapshot, changed_at, run_id, actor
		FROM audit_log ` + where + `
		ORDER BY changed_at, id
	`
	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, classify("list audit entries", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e                models.AuditEntry
			changeType       string
			fields           []string
			oldSnap, newSnap []byte
		)
		if err := rows.Scan(&e.ID, &e.EvidenceNumber, &changeType, pq.Array(&fields),
			&oldSnap, &newSnap, &e.ChangedAt, &e.RunID, &e.Actor); err != nil {
			return nil, classify("scan audit entry", err)
		}
		e.ChangeType = models.ChangeType(changeType)
		e.ChangedFields = fields
		if e.OldSnapshot, err = decodeSnapshot(oldSnap); err != nil {
			return nil, fmt.Errorf("decode old snapshot: %w", err)
		}
		if e.NewSnapshot, err = decodeSnapshot(newSnap); err != nil {
			return nil, fmt.Errorf("decode new snapshot: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate audit entries", err)
	}
	return out, nil
}

func snapshotParam(snap models.Snapshot) (any, error) {
	if snap == nil {
		return nil, nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeSnapshot(b []byte) (models.Snapshot, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var snap models.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}
