// Package normalize turns raw register rows into canonical records.
//
// Normalization never fails a record. Every value that cannot be cleaned up is
// kept (or dropped) and reported as a models.Warning instead.
package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"libsync/internal/library/models"
)

const postalCodeDigits = 5

// Warning reasons.
const (
	ReasonMissing           = "missing"
	ReasonInvalidPostalCode = "postal code must have exactly 5 digits"
	ReasonInvalidEmail      = "invalid email address"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Normalizer applies field-level cleanup using a column Mapping.
type Normalizer struct {
	mapping Mapping
}

// New creates a Normalizer. An empty active marker falls back to DefaultActiveMarker.
func New(mapping Mapping) *Normalizer {
	if mapping.ActiveMarker == "" {
		mapping.ActiveMarker = DefaultActiveMarker
	}
	return &Normalizer{mapping: mapping}
}

// Normalize builds a record from one raw row. Derived fields are left empty.
func (n *Normalizer) Normalize(raw models.RawRecord) (models.Record, []models.Warning) {
	m := n.mapping
	var (
		rec      models.Record
		warnings []models.Warning
	)

	text := func(column string) string {
		if column == "" {
			return ""
		}
		return Text(raw[column])
	}

	rec.EvidenceNumber = text(m.EvidenceNumber)
	if rec.EvidenceNumber == "" {
		warnings = append(warnings, models.Warning{Field: "evidence_number", Reason: ReasonMissing})
	}

	rec.LibraryName = text(m.LibraryName)
	rec.LibraryStreet = text(m.LibraryStreet)
	rec.LibraryMunicipality = text(m.LibraryMunicipality)
	rec.LibraryDistrict = text(m.LibraryDistrict)
	rec.LibraryRegion = text(m.LibraryRegion)
	rec.LibraryPostalCodeRaw = text(m.LibraryPostalCode)
	rec.LibraryPostalCode, warnings = postalCode("library_postal_code", rec.LibraryPostalCodeRaw, warnings)

	rec.OperatorName = text(m.OperatorName)
	rec.OperatorRegistrationID = text(m.OperatorRegistrationID)
	rec.OperatorLegalForm = text(m.OperatorLegalForm)
	rec.OperatorBirthDate = text(m.OperatorBirthDate)
	rec.OperatorStreet = text(m.OperatorStreet)
	rec.OperatorMunicipality = text(m.OperatorMunicipality)
	rec.OperatorDistrict = text(m.OperatorDistrict)
	rec.OperatorRegion = text(m.OperatorRegion)
	rec.OperatorPostalCodeRaw = text(m.OperatorPostalCode)
	rec.OperatorPostalCode, warnings = postalCode("operator_postal_code", rec.OperatorPostalCodeRaw, warnings)

	rec.Email = text(m.Email)
	rec.EmailValid, warnings = emailFlag("email", rec.Email, warnings)
	rec.OperatorEmail = text(m.OperatorEmail)
	rec.OperatorEmailValid, warnings = emailFlag("operator_email", rec.OperatorEmail, warnings)

	rec.Website = text(m.Website)
	rec.WebsiteNormalized = Website(rec.Website)
	rec.OpeningHours = text(m.OpeningHours)
	rec.Notes = text(m.Notes)

	rec.StatusCode = text(m.Status)
	rec.IsActive = rec.StatusCode != "" && strings.EqualFold(rec.StatusCode, Text(m.ActiveMarker))
	rec.CreatedDate = text(m.CreatedDate)
	rec.RegisteredDate = text(m.RegisteredDate)
	rec.DeregisteredDate = text(m.DeregisteredDate)
	rec.ApprovedBy = text(m.ApprovedBy)
	rec.DeregisteredBy = text(m.DeregisteredBy)
	rec.CaseNumber = text(m.CaseNumber)

	return rec, warnings
}

// Text trims surrounding whitespace and composes the value to NFC so that the
// same name typed with combining accents compares equal.
func Text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return norm.NFC.String(s)
}

// PostalCode strips every non-digit. It returns "" and false unless exactly five digits remain.
func PostalCode(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() != postalCodeDigits {
		return "", false
	}
	return b.String(), true
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Website returns the trimmed URL with https:// prepended when it has no scheme.
func Website(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || hasScheme(s) {
		return s
	}
	return "https://" + s
}

// hasScheme reports whether s starts with "scheme://".
func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	if i <= 0 {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && len(u.Scheme) == i
}

func postalCode(field, raw string, warnings []models.Warning) (string, []models.Warning) {
	if raw == "" {
		return "", warnings
	}
	code, ok := PostalCode(raw)
	if !ok {
		warnings = append(warnings, models.Warning{Field: field, Value: raw, Reason: ReasonInvalidPostalCode})
	}
	return code, warnings
}

func emailFlag(field, value string, warnings []models.Warning) (*bool, []models.Warning) {
	if value == "" {
		return nil, warnings
	}
	valid := ValidEmail(value)
	if !valid {
		warnings = append(warnings, models.Warning{Field: field, Value: value, Reason: ReasonInvalidEmail})
	}
	return &valid, warnings
}
