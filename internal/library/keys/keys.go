// Package keys derives the identifiers and fingerprint of a normalized record.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"libsync/internal/library/models"
)

// DefaultResourceBase is the prefix of every published resource URI.
const DefaultResourceBase = "https://knihovny.cz/library"

const unitSeparator = "\x1f"

// Deriver fills the derived fields of a record. It has no failure path.
type Deriver struct {
	resourceBase string
}

// NewDeriver creates a Deriver. An empty base selects DefaultResourceBase.
func NewDeriver(resourceBase string) *Deriver {
	base := strings.TrimRight(strings.TrimSpace(resourceBase), "/")
	if base == "" {
		base = DefaultResourceBase
	}
	return &Deriver{resourceBase: base}
}

// Derive sets linking id, geo key, fingerprint and resource URI on rec.
func (d *Deriver) Derive(rec *models.Record) {
	rec.LinkingID = LinkingID(rec.EvidenceNumber)
	rec.GeoKey = GeoKey(rec.LibraryRegion, rec.LibraryDistrict)
	rec.ContentFingerprint = Fingerprint(rec)
	rec.ResourceURI = d.ResourceURI(rec.LinkingID)
}

// ResourceURI joins the configured base with the path-escaped linking id.
func (d *Deriver) ResourceURI(linkingID string) string {
	if linkingID == "" {
		return ""
	}
	return d.resourceBase + "/" + url.PathEscape(linkingID)
}

// LinkingID replaces every whitespace rune of the evidence number with a hyphen.
func LinkingID(evidenceNumber string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, evidenceNumber)
}

// GeoKey returns region_district, or "" when either part is missing.
func GeoKey(region, district string) string {
	if region == "" || district == "" {
		return ""
	}
	return region + "_" + district
}

// Fingerprint hashes the identity-bearing fields. Notes, opening hours and
// derived fields do not participate.
func Fingerprint(rec *models.Record) string {
	h := sha256.New()
	for i, f := range fingerprintFields {
		if i > 0 {
			h.Write([]byte(unitSeparator))
		}
		h.Write([]byte(f.name))
		h.Write([]byte{'='})
		h.Write([]byte(f.value(rec)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type fingerprintField struct {
	name  string
	value func(r *models.Record) string
}

func flag(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "true"
	default:
		return "false"
	}
}

// fingerprintFields is sorted by name; the order is part of the fingerprint.
var fingerprintFields = []fingerprintField{
	{"approved_by", func(r *models.Record) string { return r.ApprovedBy }},
	{"case_number", func(r *models.Record) string { return r.CaseNumber }},
	{"created_date", func(r *models.Record) string { return r.CreatedDate }},
	{"deregistered_by", func(r *models.Record) string { return r.DeregisteredBy }},
	{"deregistered_date", func(r *models.Record) string { return r.DeregisteredDate }},
	{"email", func(r *models.Record) string { return r.Email }},
	{"email_valid", func(r *models.Record) string { return flag(r.EmailValid) }},
	{"evidence_number", func(r *models.Record) string { return r.EvidenceNumber }},
	{"library_district", func(r *models.Record) string { return r.LibraryDistrict }},
	{"library_municipality", func(r *models.Record) string { return r.LibraryMunicipality }},
	{"library_name", func(r *models.Record) string { return r.LibraryName }},
	{"library_postal_code", func(r *models.Record) string { return r.LibraryPostalCode }},
	{"library_postal_code_raw", func(r *models.Record) string { return r.LibraryPostalCodeRaw }},
	{"library_region", func(r *models.Record) string { return r.LibraryRegion }},
	{"library_street", func(r *models.Record) string { return r.LibraryStreet }},
	{"opening_hours", func(r *models.Record) string { return r.OpeningHours }},
	{"operator_birth_date", func(r *models.Record) string { return r.OperatorBirthDate }},
	{"operator_district", func(r *models.Record) string { return r.OperatorDistrict }},
	{"operator_email", func(r *models.Record) string { return r.OperatorEmail }},
	{"operator_email_valid", func(r *models.Record) string { return flag(r.OperatorEmailValid) }},
	{"operator_legal_form", func(r *models.Record) string { return r.OperatorLegalForm }},
	{"operator_municipality", func(r *models.Record) string { return r.OperatorMunicipality }},
	{"operator_name", func(r *models.Record) string { return r.OperatorName }},
	{"operator_postal_code", func(r *models.Record) string { return r.OperatorPostalCode }},
	{"operator_postal_code_raw", func(r *models.Record) string { return r.OperatorPostalCodeRaw }},
	{"operator_region", func(r *models.Record) string { return r.OperatorRegion }},
	{"operator_registration_id", func(r *models.Record) string { return r.OperatorRegistrationID }},
	{"operator_street", func(r *models.Record) string { return r.OperatorStreet }},
	{"status_code", func(r *models.Record) string { return r.StatusCode }},
	{"website", func(r *models.Record) string { return r.Website }},
	{"website_normalized", func(r *models.Record) string { return r.WebsiteNormalized }},
}
