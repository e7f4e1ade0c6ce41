package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType classifies an audit entry.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ActorSync marks audit entries written by the synchronization pipeline.
const ActorSync = "sync"

// AuditEntry is one immutable row of the audit log. Entries are appended in the
// same transaction as the row mutation they describe and never rewritten.
type AuditEntry struct {
	ID             uuid.UUID
	EvidenceNumber string
	ChangeType     ChangeType
	ChangedFields  []string
	OldSnapshot    Snapshot
	NewSnapshot    Snapshot
	ChangedAt      time.Time
	RunID          uuid.UUID
	Actor          string
}
