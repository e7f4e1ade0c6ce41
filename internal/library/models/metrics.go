package models

import (
	"time"

	"github.com/google/uuid"
)

// QualityMetricsSnapshot is the per-run quality summary persisted to quality_metrics.
type QualityMetricsSnapshot struct {
	RunID             uuid.UUID     `json:"run_id"`
	RunDate           time.Time     `json:"run_date"`
	TotalRecords      int           `json:"total_records"`
	ActiveRecords     int           `json:"active_records"`
	EmailCompleteness float64       `json:"email_completeness"`
	WebCompleteness   float64       `json:"web_completeness"`
	AvgQualityScore   float64       `json:"avg_quality_score"`
	DistinctRegions   int           `json:"distinct_regions"`
	Duration          time.Duration `json:"duration"`
	Succeeded         int           `json:"succeeded"`
	Failed            int           `json:"failed"`
	Inserted          int           `json:"inserted"`
	Updated           int           `json:"updated"`
	Unchanged         int           `json:"unchanged"`
	Deactivated       int           `json:"deactivated"`
	Collisions        int           `json:"collisions"`
}

// RunReport is returned to the caller of a synchronization run.
type RunReport struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time

	// Total counts raw rows received; Processed counts records whose upsert
	// finished (successfully or not) before the run ended.
	Total       int
	Processed   int
	Succeeded   int
	Failed      int
	Rejected    int
	Inserted    int
	Updated     int
	Unchanged   int
	Deactivated int
	Collisions  int

	Swept     bool
	Aborted   bool
	Cancelled bool

	Metrics *QualityMetricsSnapshot
}
