// Package syncrun drives one batch of registry rows through normalization, key
// derivation, scoring and the audited upsert, then sweeps records that
// disappeared from the batch and records the run's quality snapshot.
package syncrun

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
	"golang.org/x/sync/errgroup"

	"libsync/internal/library/keys"
	"libsync/internal/library/lock"
	"libsync/internal/library/models"
	"libsync/internal/library/normalize"
	"libsync/internal/library/quality"
	"libsync/internal/platform/metrics"
	"libsync/pkg/platform/sentinel"
)

//go:generate mockgen -source=orchestrator.go -destination=mocks/mocks.go -package=mocks Upserter,Store,Publisher

// Upserter applies one record or one deactivation atomically with its audit entry.
type Upserter interface {
	Upsert(ctx context.Context, rec *models.Record, runID uuid.UUID) (models.Outcome, error)
	Deactivate(ctx context.Context, evidenceNumber string, d models.Deactivation, runID uuid.UUID) (models.Outcome, error)
}

// Store is the part of the backend the orchestrator reads and writes directly.
type Store interface {
	ListActiveNotIn(ctx context.Context, seen []string) ([]string, error)
	SaveQualityMetrics(ctx context.Context, snap *models.QualityMetricsSnapshot) error
}

// Publisher forwards a finished run downstream.
type Publisher interface {
	PublishRun(ctx context.Context, snapshot models.QualityMetricsSnapshot) error
}

// Stages are the pure per-record transformations applied before the upsert.
type Stages struct {
	Normalizer *normalize.Normalizer
	Deriver    *keys.Deriver
	Scorer     *quality.Scorer
}

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 8

const (
	statusCompleted = "completed"
	statusCancelled = "cancelled"
	statusAborted   = "aborted"
)

// Orchestrator runs synchronization batches.
type Orchestrator struct {
	stages       Stages
	upserter     Upserter
	store        Store
	publisher    Publisher
	locker       lock.Locker
	lockTTL      time.Duration
	workers      int
	deactivation models.Deactivation
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithWorkers sets the number of records upserted concurrently.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithPublisher publishes every completed run.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithRunLock makes Run hold a lease on lock.RunLockName for its whole duration.
func WithRunLock(l lock.Locker, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.locker = l
		o.lockTTL = ttl
	}
}

// WithDeactivation sets the deregistration details the sweep writes.
func WithDeactivation(d models.Deactivation) Option {
	return func(o *Orchestrator) {
		o.deactivation = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator.
func New(stages Stages, upserter Upserter, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stages:   stages,
		upserter: upserter,
		store:    store,
		workers:  DefaultWorkers,
		lockTTL:  30 * time.Minute,
		logger:   slog.Default(),
		tracer:   otel.Tracer("libsync/sync"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type result struct {
	done    bool
	outcome models.Outcome
	err     error
}

// Run synchronizes one batch. The returned report is non-nil whenever the run
// started; the error is non-nil when it was cancelled, aborted or its snapshot
// could not be saved.
func (o *Orchestrator) Run(ctx context.Context, raws []models.RawRecord) (*models.RunReport, error) {
	runID := uuid.New()
	start := o.now()
	logger := o.logger.With("run_id", runID)

	ctx, span := o.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("run_id", runID.String()),
		attribute.Int("rows", len(raws)),
	))
	defer span.End()

	if o.locker != nil {
		lease, err := o.locker.Acquire(ctx, lock.RunLockName, o.lockTTL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run lock")
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "failed to release run lock", "error", err)
			}
		}()
	}

	report := &models.RunReport{RunID: runID, StartedAt: start, Total: len(raws)}
	logger.InfoContext(ctx, "sync run started", "rows", len(raws), "workers", o.workers)

	batch := o.prepare(ctx, raws, report, logger)
	results, fatal := o.dispatch(ctx, batch, runID, logger)
	o.tally(batch, results, report)

	report.Cancelled = ctx.Err() != nil
	report.Aborted = fatal != nil

	if !report.Cancelled && !report.Aborted && len(batch) > 0 {
		fatal = o.sweep(ctx, batch, runID, report, logger)
		report.Aborted = fatal != nil
		report.Cancelled = ctx.Err() != nil
	}

	report.FinishedAt = o.now()
	snap := o.snapshot(batch, report)
	report.Metrics = &snap

	status := statusCompleted
	switch {
	case report.Aborted:
		status = statusAborted
	case report.Cancelled:
		status = statusCancelled
	}
	span.SetAttributes(
		attribute.String("status", status),
		attribute.Int("processed", report.Processed),
		attribute.Int("failed", report.Failed),
	)
	if o.metrics != nil {
		o.metrics.ObserveRun(status, snap.Duration)
	}

	switch status {
	case statusAborted:
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "run aborted")
		logger.ErrorContext(ctx, "sync run aborted",
			"processed", report.Processed,
			"total", report.Total,
			"error", fatal,
		)
		return report, fmt.Errorf("run %s aborted after %d of %d records: %w", runID, report.Processed, len(batch), fatal)
	case statusCancelled:
		span.SetStatus(codes.Error, "run cancelled")
		logger.WarnContext(ctx, "sync run cancelled",
			"processed", report.Processed,
			"total", report.Total,
		)
		return report, fmt.Errorf("run %s cancelled after %d of %d records: %w", runID, report.Processed, len(batch), context.Cause(ctx))
	}

	if err := o.store.SaveQualityMetrics(ctx, &snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save quality metrics")
		return report, fmt.Errorf("save quality metrics for run %s: %w", runID, err)
	}
	if o.metrics != nil {
		o.metrics.SetLastRun(snap.TotalRecords, snap.AvgQualityScore)
	}
	if o.publisher != nil {
		if err := o.publisher.PublishRun(ctx, snap); err != nil {
			logger.WarnContext(ctx, "change feed publication skipped", "error", err)
		}
	}

	logger.InfoContext(ctx, "sync run completed",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"deactivated", report.Deactivated,
		"collisions", report.Collisions,
		"avg_quality_score", snap.AvgQualityScore,
		"duration_ms", snap.Duration.Milliseconds(),
	)
	return report, nil
}

// prepare normalizes, derives and scores every row and collapses duplicate
// evidence numbers so that the later row wins.
func (o *Orchestrator) prepare(ctx context.Context, raws []models.RawRecord, report *models.RunReport, logger *slog.Logger) []*models.Record {
	batch := make([]*models.Record, 0, len(raws))
	index := make(map[string]int, len(raws))

	for i, raw := range raws {
		rec, warnings := o.stages.Normalizer.Normalize(raw)
		for _, w := range warnings {
			if o.metrics != nil {
				o.metrics.IncrementWarning(w.Field)
			}
			logger.DebugContext(ctx, "field normalization warning",
				"row", i+1,
				"evidence_number", rec.EvidenceNumber,
				"field", w.Field,
				"value", w.Value,
				"reason", w.Reason,
			)
		}

		if rec.EvidenceNumber == "" {
			report.Rejected++
			report.Failed++
			if o.metrics != nil {
				o.metrics.IncrementRecord("rejected")
			}
			logger.WarnContext(ctx, "record rejected: missing evidence number", "row", i+1)
			continue
		}

		o.stages.Deriver.Derive(&rec)
		rec.QualityScore = o.stages.Scorer.Score(&rec)

		if j, dup := index[rec.EvidenceNumber]; dup {
			report.Collisions++
			logger.WarnContext(ctx, "duplicate evidence number in batch, later row wins",
				"row", i+1,
				"evidence_number", rec.EvidenceNumber,
			)
			batch[j] = &rec
			continue
		}
		index[rec.EvidenceNumber] = len(batch)
		batch = append(batch, &rec)
	}
	return batch
}

// dispatch upserts batch through the bounded pool. Cancellation of ctx stops
// dispatch between records; started transactions run on a detached context and
// finish or roll back on their own. A fatal store error stops dispatch and is returned.
func (o *Orchestrator) dispatch(ctx context.Context, batch []*models.Record, runID uuid.UUID, logger *slog.Logger) ([]result, error) {
	results := make([]result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i, rec := range batch {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome, err := o.upserter.Upsert(context.WithoutCancel(gctx), rec, runID)
			results[i] = result{done: true, outcome: outcome, err: err}
			if err == nil {
				return nil
			}
			logger.WarnContext(gctx, "record upsert failed",
				"evidence_number", rec.EvidenceNumber,
				"error", err,
			)
			if sentinel.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	return results, g.Wait()
}

func (o *Orchestrator) tally(batch []*models.Record, results []result, report *models.RunReport) {
	for i := range batch {
		r := results[i]
		if !r.done {
			continue
		}
		report.Processed++
		outcome := r.outcome
		if r.err != nil {
			outcome = models.OutcomeFailed
		}
		o.count(outcome, report)
	}
}

func (o *Orchestrator) count(outcome models.Outcome, report *models.RunReport) {
	switch outcome {
	case models.OutcomeInserted:
		report.Inserted++
		report.Succeeded++
	case models.OutcomeUpdated:
		report.Updated++
		report.Succeeded++
	case models.OutcomeUnchanged:
		report.Unchanged++
		report.Succeeded++
	case models.OutcomeDeactivated:
		report.Deactivated++
	case models.OutcomeFailed:
		report.Failed++
	}
	if o.metrics != nil {
		o.metrics.IncrementRecord(string(outcome))
	}
}

// sweep deactivates every stored active record the batch did not contain. It
// runs only after all upserts finished.
func (o *Orchestrator) sweep(ctx context.Context, batch []*models.Record, runID uuid.UUID, report *models.RunReport, logger *slog.Logger) error {
	ctx, span := o.tracer.Start(ctx, "sync.sweep")
	defer span.End()

	seen := make([]string, len(batch))
	for i, rec := range batch {
		seen[i] = rec.EvidenceNumber
	}

	stale, err := o.store.ListActiveNotIn(ctx, seen)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list stale records")
		if sentinel.IsFatal(err) {
			return fmt.Errorf("list stale records: %w", err)
		}
		logger.ErrorContext(ctx, "deactivation sweep skipped", "error", err)
		return nil
	}
	span.SetAttributes(attribute.Int("stale", len(stale)))

	for _, evidence := range stale {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "deactivation sweep interrupted")
			return nil
		}
		outcome, err := o.upserter.Deactivate(context.WithoutCancel(ctx), evidence, o.deactivation, runID)
		if err != nil {
			logger.WarnContext(ctx, "record deactivation failed",
				"evidence_number", evidence,
				"error", err,
			)
			o.count(models.OutcomeFailed, report)
			if sentinel.IsFatal(err) {
				return err
			}
			continue
		}
		if outcome == models.OutcomeDeactivated {
			o.count(outcome, report)
		}
	}
	report.Swept = true
	return nil
}

func (o *Orchestrator) snapshot(batch []*models.Record, report *models.RunReport) models.QualityMetricsSnapshot {
	summary := quality.NewSummary()
	for _, rec := range batch {
		summary.Add(rec)
	}
	snap := models.QualityMetricsSnapshot{
		RunID:       report.RunID,
		RunDate:     report.StartedAt.UTC(),
		Duration:    report.FinishedAt.Sub(report.StartedAt),
		Succeeded:   report.Succeeded,
		Failed:      report.Failed,
		Inserted:    report.Inserted,
		Updated:     report.Updated,
		Unchanged:   report.Unchanged,
		Deactivated: report.Deactivated,
		Collisions:  report.Collisions,
	}
	summary.Apply(&snap)
	return snap
}

// IsBusy reports whether err means another run holds the run lock.
func IsBusy(err error) bool {
	return errors.Is(err, sentinel.ErrAlreadyUsed)
}
