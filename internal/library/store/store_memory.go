package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"libsync/internal/library/models"
	"libsync/pkg/platform/sentinel"
)

// numMemoryShards spreads per-key locks over a fixed set of mutexes.
const numMemoryShards = 128

// InMemoryStore keeps records, audit entries and metrics in process memory.
// Transactions stage their writes and apply them atomically on commit.
type InMemoryStore struct {
	shards  [numMemoryShards]sync.Mutex
	timeout time.Duration

	mu      sync.RWMutex
	records map[string]*models.Record
	audit   []models.AuditEntry
	metrics []models.QualityMetricsSnapshot
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.Record)}
}

// WithTxTimeout overrides DefaultTxTimeout.
func (s *InMemoryStore) WithTxTimeout(timeout time.Duration) *InMemoryStore {
	s.timeout = timeout
	return s
}

// RunInTx serializes fn against other transactions on key and commits its staged
// writes only when fn returns nil.
func (s *InMemoryStore) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w: %w", sentinel.ErrConflict, err)
	}
	ctx, cancel := withTxTimeout(ctx, s.timeout)
	defer cancel()

	shard := hashKey(key) % numMemoryShards
	s.shards[shard].Lock()
	defer s.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w: %w", sentinel.ErrConflict, err)
	}

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *InMemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		switch {
		case op.delete:
			delete(s.records, op.evidence)
		case op.record != nil:
			s.records[op.evidence] = op.record
		case op.audit != nil:
			s.audit = append(s.audit, *op.audit)
		}
	}
}

// hashKey is 32-bit FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

type memoryOp struct {
	evidence string
	record   *models.Record
	delete   bool
	audit    *models.AuditEntry
}

type memoryTx struct {
	store *InMemoryStore
	ops   []memoryOp
}

// current returns the record as this transaction sees it.
func (t *memoryTx) current(evidence string) (*models.Record, bool) {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if op.evidence != evidence || op.audit != nil {
			continue
		}
		if op.delete {
			return nil, false
		}
		return op.record, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.records[evidence]
	return rec, ok
}

func (t *memoryTx) FindForUpdate(ctx context.Context, evidenceNumber string) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("find record: %w: %w", sentinel.ErrConflict, err)
	}
	rec, ok := t.current(evidenceNumber)
	if !ok {
		return nil, fmt.Errorf("find record %s: %w", evidenceNumber, sentinel.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (t *memoryTx) Insert(_ context.Context, rec *models.Record) error {
	if _, ok := t.current(rec.EvidenceNumber); ok {
		return fmt.Errorf("insert record %s: %w", rec.EvidenceNumber, sentinel.ErrConflict)
	}
	t.ops = append(t.ops, memoryOp{evidence: rec.EvidenceNumber, record: rec.Clone()})
	return nil
}

func (t *memoryTx) Update(_ context.Context, rec *models.Record, columns []string) error {
	existing, ok := t.current(rec.EvidenceNumber)
	if !ok {
		return fmt.Errorf("update record %s: %w", rec.EvidenceNumber, sentinel.ErrNotFound)
	}
	updated := existing.Clone()
	for _, c := range columns {
		if !models.IsColumn(c) || c == "evidence_number" {
			return fmt.Errorf("update record %s: column %q is not updatable", rec.EvidenceNumber, c)
		}
		v, err := rec.Value(c)
		if err != nil {
			return fmt.Errorf("update record %s: %w", rec.EvidenceNumber, err)
		}
		if err := updated.SetColumn(c, v); err != nil {
			return fmt.Errorf("update record %s: %w", rec.EvidenceNumber, err)
		}
	}
	updated.UpdatedAt = rec.UpdatedAt
	t.ops = append(t.ops, memoryOp{evidence: rec.EvidenceNumber, record: updated})
	return nil
}

func (t *memoryTx) Delete(_ context.Context, evidenceNumber string) error {
	if _, ok := t.current(evidenceNumber); !ok {
		return fmt.Errorf("delete record %s: %w", evidenceNumber, sentinel.ErrNotFound)
	}
	t.ops = append(t.ops, memoryOp{evidence: evidenceNumber, delete: true})
	return nil
}

func (t *memoryTx) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	e := *entry
	e.ChangedFields = append([]string(nil), entry.ChangedFields...)
	t.ops = append(t.ops, memoryOp{evidence: entry.EvidenceNumber, audit: &e})
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, evidenceNumber string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[evidenceNumber]
	if !ok {
		return nil, fmt.Errorf("get record %s: %w", evidenceNumber, sentinel.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) ListActiveNotIn(_ context.Context, seen []string) ([]string, error) {
	skip := make(map[string]struct{}, len(seen))
	for _, e := range seen {
		skip[e] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for e, rec := range s.records {
		if _, ok := skip[e]; ok || !rec.IsActive {
			continue
		}
		out = append(out, e)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) ListAuditByRun(_ context.Context, runID uuid.UUID) ([]models.AuditEntry, error) {
	return s.filterAudit(func(e *models.AuditEntry) bool { return e.RunID == runID }), nil
}

func (s *InMemoryStore) ListAuditByEvidence(_ context.Context, evidenceNumber string) ([]models.AuditEntry, error) {
	return s.filterAudit(func(e *models.AuditEntry) bool { return e.EvidenceNumber == evidenceNumber }), nil
}

func (s *InMemoryStore) filterAudit(keep func(e *models.AuditEntry) bool) []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEntry
	for i := range s.audit {
		if keep(&s.audit[i]) {
			out = append(out, s.audit[i])
		}
	}
	return out
}

// ListActive mirrors the active_records view.
func (s *InMemoryStore) ListActive(_ context.Context, limit, offset int) ([]models.ActiveLibrary, error) {
	s.mu.RLock()
	var active []*models.Record
	for _, rec := range s.records {
		if rec.IsActive {
			active = append(active, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.LibraryRegion != b.LibraryRegion {
			return a.LibraryRegion < b.LibraryRegion
		}
		if a.LibraryDistrict != b.LibraryDistrict {
			return a.LibraryDistrict < b.LibraryDistrict
		}
		if a.LibraryName != b.LibraryName {
			return a.LibraryName < b.LibraryName
		}
		return a.EvidenceNumber < b.EvidenceNumber
	})

	offset = max(0, min(offset, len(active)))
	active = active[offset:]
	if limit > 0 && limit < len(active) {
		active = active[:limit]
	}

	out := make([]models.ActiveLibrary, 0, len(active))
	for _, rec := range active {
		out = append(out, toActiveLibrary(rec))
	}
	return out, nil
}

func toActiveLibrary(rec *models.Record) models.ActiveLibrary {
	return models.ActiveLibrary{
		EvidenceNumber:    rec.EvidenceNumber,
		LinkingID:         rec.LinkingID,
		Name:              rec.LibraryName,
		Street:            rec.LibraryStreet,
		PostalCode:        rec.LibraryPostalCode,
		Municipality:      rec.LibraryMunicipality,
		District:          rec.LibraryDistrict,
		Region:            rec.LibraryRegion,
		Email:             rec.Email,
		WebsiteNormalized: rec.WebsiteNormalized,
		ResourceURI:       rec.ResourceURI,
		QualityScore:      rec.QualityScore,
	}
}

// RegionStats mirrors the region_statistics view.
func (s *InMemoryStore) RegionStats(_ context.Context) ([]models.RegionStatistics, error) {
	type acc struct {
		total, active, email, web int
		score                     float64
	}
	byRegion := make(map[string]*acc)

	s.mu.RLock()
	for _, rec := range s.records {
		a, ok := byRegion[rec.LibraryRegion]
		if !ok {
			a = &acc{}
			byRegion[rec.LibraryRegion] = a
		}
		a.total++
		if rec.IsActive {
			a.active++
		}
		if rec.EmailValid != nil && *rec.EmailValid {
			a.email++
		}
		if rec.WebsiteNormalized != "" {
			a.web++
		}
		a.score += rec.QualityScore
	}
	s.mu.RUnlock()

	out := make([]models.RegionStatistics, 0, len(byRegion))
	for region, a := range byRegion {
		n := float64(a.total)
		out = append(out, models.RegionStatistics{
			Region:            region,
			TotalRecords:      a.total,
			ActiveRecords:     a.active,
			EmailCompleteness: round2(float64(a.email) / n),
			WebCompleteness:   round2(float64(a.web) / n),
			AvgQualityScore:   round2(a.score / n),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *InMemoryStore) SaveQualityMetrics(_ context.Context, snap *models.QualityMetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		if m.RunID == snap.RunID {
			return fmt.Errorf("save quality metrics %s: %w", snap.RunID, sentinel.ErrConflict)
		}
	}
	s.metrics = append(s.metrics, *snap)
	return nil
}

// ListQualityMetrics returns the most recent snapshots, newest first.
func (s *InMemoryStore) ListQualityMetrics(_ context.Context, limit int) ([]models.QualityMetricsSnapshot, error) {
	s.mu.RLock()
	out := append([]models.QualityMetricsSnapshot(nil), s.metrics...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RunDate.After(out[j].RunDate) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Clear removes everything. Tests only.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*models.Record)
	s.audit = nil
	s.metrics = nil
}
