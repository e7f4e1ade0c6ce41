// Package feed publishes the changes of each synchronization run to Kafka.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"libsync/internal/library/models"
	"libsync/internal/platform/metrics"
)

// ErrCircuitOpen is returned while publication is suspended after repeated failures.
var ErrCircuitOpen = errors.New("feed circuit open")

// AuditSource lists the audit entries a run wrote.
type AuditSource interface {
	ListAuditByRun(ctx context.Context, runID uuid.UUID) ([]models.AuditEntry, error)
}

// producer is the subset of *kgo.Client the publisher uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// ChangeMessage is the value of one change feed record, keyed by evidence number.
type ChangeMessage struct {
	ID             uuid.UUID         `json:"id"`
	RunID          uuid.UUID         `json:"run_id"`
	EvidenceNumber string            `json:"evidence_number"`
	ChangeType     models.ChangeType `json:"change_type"`
	ChangedFields  []string          `json:"changed_fields"`
	Old            models.Snapshot   `json:"old,omitempty"`
	New            models.Snapshot   `json:"new,omitempty"`
	ChangedAt      time.Time         `json:"changed_at"`
	Actor          string            `json:"actor"`
}

func newChangeMessage(e models.AuditEntry) ChangeMessage {
	return ChangeMessage{
		ID:             e.ID,
		RunID:          e.RunID,
		EvidenceNumber: e.EvidenceNumber,
		ChangeType:     e.ChangeType,
		ChangedFields:  e.ChangedFields,
		Old:            e.OldSnapshot,
		New:            e.NewSnapshot,
		ChangedAt:      e.ChangedAt,
		Actor:          e.Actor,
	}
}

// Publisher sends a run's audit entries and quality snapshot to Kafka.
type Publisher struct {
	client       producer
	audit        AuditSource
	changesTopic string
	metricsTopic string
	timeout      time.Duration
	breaker      *breaker
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics counts delivered and failed messages.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithTimeout bounds one PublishRun call.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.timeout = d
	}
}

// WithBreaker sets the consecutive failure threshold and how long publication stays suspended.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *Publisher) {
		p.breaker = newBreaker(threshold, cooldown)
	}
}

// New creates a publisher. An empty metricsTopic skips snapshot publication.
func New(client *kgo.Client, audit AuditSource, changesTopic, metricsTopic string, opts ...Option) *Publisher {
	return newPublisher(client, audit, changesTopic, metricsTopic, opts...)
}

func newPublisher(client producer, audit AuditSource, changesTopic, metricsTopic string, opts ...Option) *Publisher {
	p := &Publisher{
		client:       client,
		audit:        audit,
		changesTopic: changesTopic,
		metricsTopic: metricsTopic,
		timeout:      30 * time.Second,
		breaker:      newBreaker(0, 0),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishRun publishes every audit entry of the run, then the snapshot.
func (p *Publisher) PublishRun(ctx context.Context, snapshot models.QualityMetricsSnapshot) error {
	if !p.breaker.allow() {
		return ErrCircuitOpen
	}

	entries, err := p.audit.ListAuditByRun(ctx, snapshot.RunID)
	if err != nil {
		return fmt.Errorf("list audit for run %s: %w", snapshot.RunID, err)
	}

	records := make([]*kgo.Record, 0, len(entries)+1)
	for _, e := range entries {
		value, err := json.Marshal(newChangeMessage(e))
		if err != nil {
			return fmt.Errorf("encode change %s: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.changesTopic,
			Key:   []byte(e.EvidenceNumber),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "change_type", Value: []byte(e.ChangeType)},
				{Key: "run_id", Value: []byte(e.RunID.String())},
			},
		})
	}
	if p.metricsTopic != "" {
		value, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: p.metricsTopic,
			Key:   []byte(snapshot.RunID.String()),
			Value: value,
		})
	}
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := p.client.ProduceSync(ctx, records...)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if p.metrics != nil {
		p.metrics.AddFeedMessages("delivered", len(records)-failed)
		p.metrics.AddFeedMessages("failed", failed)
	}
	if err := results.FirstErr(); err != nil {
		p.breaker.failure()
		p.logger.WarnContext(ctx, "change feed delivery failed",
			"run_id", snapshot.RunID,
			"failed", failed,
			"total", len(records),
			"error", err,
		)
		return fmt.Errorf("produce %d of %d records: %w", failed, len(records), err)
	}
	p.breaker.success()
	p.logger.InfoContext(ctx, "change feed published",
		"run_id", snapshot.RunID,
		"changes", len(entries),
	)
	return nil
}

// Nop is a publisher that drops everything, used when no brokers are configured.
type Nop struct{}

func (Nop) PublishRun(context.Context, models.QualityMetricsSnapshot) error { return nil }
