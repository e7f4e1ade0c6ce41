package models

import "time"

// RawRecord maps a source column name to its raw text value. It is never persisted.
type RawRecord map[string]string

// Record is the canonical registry entry for one library, keyed by EvidenceNumber.
//
// Text fields use the empty string for "absent"; stores write it as NULL.
type Record struct {
	EvidenceNumber string

	LibraryName          string
	LibraryStreet        string
	LibraryPostalCodeRaw string
	LibraryPostalCode    string
	LibraryMunicipality  string
	LibraryDistrict      string
	LibraryRegion        string

	OperatorName           string
	OperatorRegistrationID string
	OperatorLegalForm      string
	OperatorBirthDate      string
	OperatorStreet         string
	OperatorPostalCodeRaw  string
	OperatorPostalCode     string
	OperatorMunicipality   string
	OperatorDistrict       string
	OperatorRegion         string

	Email              string
	EmailValid         *bool
	OperatorEmail      string
	OperatorEmailValid *bool
	Website            string
	WebsiteNormalized  string
	OpeningHours       string
	Notes              string

	StatusCode       string
	IsActive         bool
	CreatedDate      string
	RegisteredDate   string
	DeregisteredDate string
	ApprovedBy       string
	DeregisteredBy   string
	CaseNumber       string

	LinkingID          string
	ContentFingerprint string
	GeoKey             string
	ResourceURI        string
	QualityScore       float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Warning describes a field that could not be normalized. The record is still processed.
type Warning struct {
	Field  string
	Value  string
	Reason string
}

// Deactivation carries the optional deregistration details applied by the batch-end sweep.
type Deactivation struct {
	Date string
	By   string
}

// Outcome is what an upsert did to the store.
type Outcome string

const (
	OutcomeInserted    Outcome = "inserted"
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeDeleted     Outcome = "deleted"
	OutcomeFailed      Outcome = "failed"
)

// ActiveLibrary is one row of the active_records view.
type ActiveLibrary struct {
	EvidenceNumber    string  `json:"evidence_number"`
	LinkingID         string  `json:"linking_id"`
	Name              string  `json:"name"`
	Street            string  `json:"street,omitempty"`
	PostalCode        string  `json:"postal_code,omitempty"`
	Municipality      string  `json:"municipality,omitempty"`
	District          string  `json:"district,omitempty"`
	Region            string  `json:"region,omitempty"`
	Email             string  `json:"email,omitempty"`
	WebsiteNormalized string  `json:"website,omitempty"`
	ResourceURI       string  `json:"resource_uri"`
	QualityScore      float64 `json:"quality_score"`
}

// RegionStatistics is one row of the region_statistics view.
type RegionStatistics struct {
	Region            string  `json:"region"`
	TotalRecords      int     `json:"total_records"`
	ActiveRecords     int     `json:"active_records"`
	EmailCompleteness float64 `json:"email_completeness"`
	WebCompleteness   float64 `json:"web_completeness"`
	AvgQualityScore   float64 `json:"avg_quality_score"`
}

// Clone returns a deep copy; validity flags are re-allocated.
func (r *Record) Clone() *Record {
	c := *r
	if r.EmailValid != nil {
		v := *r.EmailValid
		c.EmailValid = &v
	}
	if r.OperatorEmailValid != nil {
		v := *r.OperatorEmailValid
		c.OperatorEmailValid = &v
	}
	return &c
}
