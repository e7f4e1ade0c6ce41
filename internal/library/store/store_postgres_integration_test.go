//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"libsync/internal/library/models"
	"libsync/internal/library/store"
	"libsync/pkg/platform/sentinel"
	"libsync/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB, store.WithTxTimeout(10*time.Second))
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(s.ctx, "audit_log", "quality_metrics", "records")
	s.Require().NoError(err)
}

func newRecord(evidence, region, name string) *models.Record {
	valid := true
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Record{
		EvidenceNumber:      evidence,
		LibraryName:         name,
		LibraryRegion:       region,
		LibraryDistrict:     "Okres",
		LibraryPostalCode:   "11000",
		Email:               "a@b.cz",
		EmailValid:          &valid,
		WebsiteNormalized:   "https://b.cz",
		IsActive:            true,
		LinkingID:           evidence,
		ContentFingerprint:  "0000000000000000000000000000000000000000000000000000000000000000",
		ResourceURI:         "https://knihovny.cz/library/" + evidence,
		QualityScore:        0.75,
		CreatedAt:           now,
		UpdatedAt:           now,
		LibraryMunicipality: "Praha",
	}
}

func (s *PostgresStoreSuite) insert(rec *models.Record) {
	err := s.store.RunInTx(s.ctx, rec.EvidenceNumber, func(ctx context.Context, tx store.Tx) error {
		return tx.Insert(ctx, rec)
	})
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	rec := newRecord("1234/2002", "Praha", "Městská knihovna")
	s.insert(rec)

	got, err := s.store.Get(s.ctx, rec.EvidenceNumber)
	s.Require().NoError(err)
	s.Equal(rec.Snapshot(), got.Snapshot())
	s.True(rec.CreatedAt.Equal(got.CreatedAt))

	s.Run("missing record", func() {
		_, err := s.store.Get(s.ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestUpdateWritesOnlyNamedColumns() {
	rec := newRecord("1", "Praha", "Old")
	s.insert(rec)

	changed := rec.Clone()
	changed.LibraryName = "New"
	changed.Notes = "not written"
	changed.UpdatedAt = rec.UpdatedAt.Add(time.Minute)
	err := s.store.RunInTx(s.ctx, "1", func(ctx context.Context, tx store.Tx) error {
		return tx.Update(ctx, changed, []string{"library_name"})
	})
	s.Require().NoError(err)

	got, err := s.store.Get(s.ctx, "1")
	s.Require().NoError(err)
	s.Equal("New", got.LibraryName)
	s.Empty(got.Notes)
	s.True(got.UpdatedAt.Equal(changed.UpdatedAt))

	s.Run("evidence number cannot be updated", func() {
		err := s.store.RunInTx(s.ctx, "1", func(ctx context.Context, tx store.Tx) error {
			return tx.Update(ctx, changed, []string{"evidence_number"})
		})
		s.Error(err)
	})
}

func (s *PostgresStoreSuite) TestAuditRollsBackWithRow() {
	boom := errors.New("boom")
	runID := uuid.New()
	err := s.store.RunInTx(s.ctx, "1", func(ctx context.Context, tx store.Tx) error {
		rec := newRecord("1", "Praha", "A")
		if err := tx.Insert(ctx, rec); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &models.AuditEntry{
			ID: uuid.New(), EvidenceNumber: "1", ChangeType: models.ChangeInsert,
			NewSnapshot: rec.Snapshot(), ChangedAt: time.Now(), RunID: runID, Actor: models.ActorSync,
		}); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	_, err = s.store.Get(s.ctx, "1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	entries, err := s.store.ListAuditByRun(s.ctx, runID)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *PostgresStoreSuite) TestAuditRoundTrip() {
	rec := newRecord("1", "Praha", "A")
	runID := uuid.New()
	err := s.store.RunInTx(s.ctx, "1", func(ctx context.Context, tx store.Tx) error {
		if err := tx.Insert(ctx, rec); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditEntry{
			ID: uuid.New(), EvidenceNumber: "1", ChangeType: models.ChangeInsert,
			ChangedFields: []string{"evidence_number", "library_name"},
			NewSnapshot:   rec.Snapshot(), ChangedAt: time.Now(), RunID: runID, Actor: models.ActorSync,
		})
	})
	s.Require().NoError(err)

	entries, err := s.store.ListAuditByRun(s.ctx, runID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.ChangeInsert, entries[0].ChangeType)
	s.Equal([]string{"evidence_number", "library_name"}, entries[0].ChangedFields)
	s.Nil(entries[0].OldSnapshot)
	s.Equal(rec.Snapshot(), entries[0].NewSnapshot)
}

// TestConcurrentSameKey verifies the advisory lock serializes read-modify-write on one key.
func (s *PostgresStoreSuite) TestConcurrentSameKey() {
	const goroutines = 50
	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RunInTx(s.ctx, "k", func(ctx context.Context, tx store.Tx) error {
				_, err := tx.FindForUpdate(ctx, "k")
				if errors.Is(err, sentinel.ErrNotFound) {
					inserted.Add(1)
					return tx.Insert(ctx, newRecord("k", "Praha", "A"))
				}
				return err
			})
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Equal(int32(1), inserted.Load())
}

func (s *PostgresStoreSuite) TestViewsAndSweepQuery() {
	s.insert(newRecord("1", "Praha", "Zeta"))
	s.insert(newRecord("2", "Brno", "Alfa"))
	inactive := newRecord("3", "Praha", "Beta")
	inactive.IsActive = false
	s.insert(inactive)

	missing, err := s.store.ListActiveNotIn(s.ctx, []string{"1"})
	s.Require().NoError(err)
	s.Equal([]string{"2"}, missing)

	all, err := s.store.ListActiveNotIn(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal([]string{"1", "2"}, all)

	active, err := s.store.ListActive(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.Equal("2", active[0].EvidenceNumber)

	stats, err := s.store.RegionStats(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(stats, 2)
	s.Equal("Praha", stats[1].Region)
	s.Equal(2, stats[1].TotalRecords)
	s.Equal(1, stats[1].ActiveRecords)
	s.Equal(1.0, stats[1].EmailCompleteness)
	s.Equal(0.75, stats[1].AvgQualityScore)
}

func (s *PostgresStoreSuite) TestQualityMetrics() {
	snap := &models.QualityMetricsSnapshot{
		RunID: uuid.New(), RunDate: time.Now().UTC().Truncate(time.Microsecond),
		TotalRecords: 10, ActiveRecords: 9, EmailCompleteness: 0.8, WebCompleteness: 0.5,
		AvgQualityScore: 0.66, DistinctRegions: 3, Duration: 1500 * time.Millisecond,
		Succeeded: 10, Inserted: 4, Updated: 1, Unchanged: 5, Collisions: 1,
	}
	s.Require().NoError(s.store.SaveQualityMetrics(s.ctx, snap))
	s.ErrorIs(s.store.SaveQualityMetrics(s.ctx, snap), sentinel.ErrConflict)

	got, err := s.store.ListQualityMetrics(s.ctx, 5)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(snap.RunID, got[0].RunID)
	s.Equal(snap.Duration, got[0].Duration)
	s.Equal(0.66, got[0].AvgQualityScore)
}
