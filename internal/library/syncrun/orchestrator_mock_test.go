package syncrun

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"libsync/internal/library/models"
	"libsync/internal/library/syncrun/mocks"
	"libsync/internal/platform/metrics"
	"libsync/pkg/platform/sentinel"
)

type mockDeps struct {
	upserter  *mocks.MockUpserter
	store     *mocks.MockStore
	publisher *mocks.MockPublisher
	metrics   *metrics.Metrics
}

func newMocked(t *testing.T, opts ...Option) (*Orchestrator, mockDeps) {
	t.Helper()
	ctrl := gomock.NewController(t)
	deps := mockDeps{
		upserter:  mocks.NewMockUpserter(ctrl),
		store:     mocks.NewMockStore(ctrl),
		publisher: mocks.NewMockPublisher(ctrl),
		metrics:   metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	base := []Option{
		WithLogger(quiet),
		WithMetrics(deps.metrics),
		WithPublisher(deps.publisher),
		WithWorkers(1),
	}
	return New(testStages(), deps.upserter, deps.store, append(base, opts...)...), deps
}

func TestFatalStoreErrorAbortsRun(t *testing.T) {
	o, deps := newMocked(t)
	down := fmt.Errorf("begin transaction: %w", sentinel.ErrUnavailable)

	gomock.InOrder(
		deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.OutcomeInserted, nil),
		deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.OutcomeFailed, down),
	)
	// no sweep, no snapshot, no publication
	deps.store.EXPECT().ListActiveNotIn(gomock.Any(), gomock.Any()).Times(0)
	deps.store.EXPECT().SaveQualityMetrics(gomock.Any(), gomock.Any()).Times(0)
	deps.publisher.EXPECT().PublishRun(gomock.Any(), gomock.Any()).Times(0)

	report, err := o.Run(context.Background(), []models.RawRecord{row("1", "A"), row("2", "B"), row("3", "C"), row("4", "D")})
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Contains(t, err.Error(), "aborted after 2 of 4 records")
	require.NotNil(t, report)
	assert.True(t, report.Aborted)
	assert.False(t, report.Swept)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.metrics.Runs.WithLabelValues(statusAborted)))
}

func TestPerRecordConflictIsCountedAndRunContinues(t *testing.T) {
	o, deps := newMocked(t)
	conflict := fmt.Errorf("acquire record lock: %w", sentinel.ErrConflict)

	deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec *models.Record, _ uuid.UUID) (models.Outcome, error) {
			if rec.EvidenceNumber == "2" {
				return models.OutcomeFailed, conflict
			}
			return models.OutcomeInserted, nil
		}).Times(3)
	deps.store.EXPECT().ListActiveNotIn(gomock.Any(), gomock.InAnyOrder([]string{"1", "2", "3"})).Return([]string{"9"}, nil)
	deps.upserter.EXPECT().Deactivate(gomock.Any(), "9", models.Deactivation{}, gomock.Any()).Return(models.OutcomeDeactivated, nil)

	var saved *models.QualityMetricsSnapshot
	deps.store.EXPECT().SaveQualityMetrics(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, snap *models.QualityMetricsSnapshot) error {
			saved = snap
			return nil
		})
	deps.publisher.EXPECT().PublishRun(gomock.Any(), gomock.Any()).Return(nil)

	report, err := o.Run(context.Background(), []models.RawRecord{row("1", "A"), row("2", "B"), row("3", "C")})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Deactivated)
	assert.True(t, report.Swept)

	require.NotNil(t, saved)
	assert.Equal(t, report.RunID, saved.RunID)
	assert.Equal(t, 2, saved.Succeeded)
	assert.Equal(t, 1, saved.Failed)
	assert.Equal(t, 3, saved.TotalRecords)
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.metrics.RecordsProcessed.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(deps.metrics.RecordsProcessed.WithLabelValues("inserted")))
}

func TestFatalErrorDuringSweepAborts(t *testing.T) {
	o, deps := newMocked(t)

	deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.OutcomeUnchanged, nil)
	deps.store.EXPECT().ListActiveNotIn(gomock.Any(), gomock.Any()).Return([]string{"8", "9"}, nil)
	deps.upserter.EXPECT().Deactivate(gomock.Any(), "8", gomock.Any(), gomock.Any()).
		Return(models.OutcomeFailed, fmt.Errorf("dial: %w", sentinel.ErrUnavailable))
	deps.store.EXPECT().SaveQualityMetrics(gomock.Any(), gomock.Any()).Times(0)

	report, err := o.Run(context.Background(), []models.RawRecord{row("1", "A")})
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.True(t, report.Aborted)
	assert.False(t, report.Swept)
}

func TestPublisherFailureIsNotFatal(t *testing.T) {
	o, deps := newMocked(t)

	deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.OutcomeInserted, nil)
	deps.store.EXPECT().ListActiveNotIn(gomock.Any(), gomock.Any()).Return(nil, nil)
	deps.store.EXPECT().SaveQualityMetrics(gomock.Any(), gomock.Any()).Return(nil)
	deps.publisher.EXPECT().PublishRun(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	report, err := o.Run(context.Background(), []models.RawRecord{row("1", "A")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
}

func TestSnapshotSaveFailureIsReported(t *testing.T) {
	o, deps := newMocked(t)

	deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.OutcomeInserted, nil)
	deps.store.EXPECT().ListActiveNotIn(gomock.Any(), gomock.Any()).Return(nil, nil)
	deps.store.EXPECT().SaveQualityMetrics(gomock.Any(), gomock.Any()).Return(fmt.Errorf("insert: %w", sentinel.ErrConflict))
	deps.publisher.EXPECT().PublishRun(gomock.Any(), gomock.Any()).Times(0)

	report, err := o.Run(context.Background(), []models.RawRecord{row("1", "A")})
	require.ErrorIs(t, err, sentinel.ErrConflict)
	require.NotNil(t, report)
	assert.True(t, report.Swept)
}

// TestTransactionsOutliveCancellation verifies a record already handed to a
// worker runs on a context that is not cancelled with the run.
func TestTransactionsOutliveCancellation(t *testing.T) {
	o, deps := newMocked(t)
	ctx, cancel := context.WithCancel(context.Background())

	deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(txCtx context.Context, _ *models.Record, _ uuid.UUID) (models.Outcome, error) {
			cancel()
			if txCtx.Err() != nil {
				return models.OutcomeFailed, txCtx.Err()
			}
			return models.OutcomeInserted, nil
		})

	report, err := o.Run(ctx, []models.RawRecord{row("1", "A"), row("2", "B"), row("3", "C")})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Inserted)
}

func TestWorkerPoolIsBounded(t *testing.T) {
	const workers = 3
	o, deps := newMocked(t, WithWorkers(workers))

	var inFlight, peak atomic.Int32
	deps.upserter.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *models.Record, uuid.UUID) (models.Outcome, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return models.OutcomeInserted, nil
		}).Times(30)
	deps.store.EXPECT().ListActiveNotIn(gomock.Any(), gomock.Any()).Return(nil, nil)
	deps.store.EXPECT().SaveQualityMetrics(gomock.Any(), gomock.Any()).Return(nil)
	deps.publisher.EXPECT().PublishRun(gomock.Any(), gomock.Any()).Return(nil)

	rows := make([]models.RawRecord, 30)
	for i := range rows {
		rows[i] = row(fmt.Sprint(i), "Knihovna")
	}
	report, err := o.Run(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 30, report.Inserted)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Greater(t, peak.Load(), int32(1))
}
