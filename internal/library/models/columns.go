package models

import (
	"database/sql"
	"fmt"
	"sort"
)

// Snapshot is the column-name view of a Record used for audit history and diffs.
// Values are string, bool, float64 or nil, which survive a JSON round trip unchanged.
type Snapshot map[string]any

type column struct {
	name   string
	value  func(r *Record) any
	target func(r *Record) any
}

// columns is the ordered catalog of persisted data columns. Bookkeeping
// timestamps are handled by the stores and never appear in snapshots.
var columns = []column{
	textColumn("evidence_number", func(r *Record) *string { return &r.EvidenceNumber }),

	textColumn("library_name", func(r *Record) *string { return &r.LibraryName }),
	textColumn("library_street", func(r *Record) *string { return &r.LibraryStreet }),
	textColumn("library_postal_code_raw", func(r *Record) *string { return &r.LibraryPostalCodeRaw }),
	textColumn("library_postal_code", func(r *Record) *string { return &r.LibraryPostalCode }),
	textColumn("library_municipality", func(r *Record) *string { return &r.LibraryMunicipality }),
	textColumn("library_district", func(r *Record) *string { return &r.LibraryDistrict }),
	textColumn("library_region", func(r *Record) *string { return &r.LibraryRegion }),

	textColumn("operator_name", func(r *Record) *string { return &r.OperatorName }),
	textColumn("operator_registration_id", func(r *Record) *string { return &r.OperatorRegistrationID }),
	textColumn("operator_legal_form", func(r *Record) *string { return &r.OperatorLegalForm }),
	textColumn("operator_birth_date", func(r *Record) *string { return &r.OperatorBirthDate }),
	textColumn("operator_street", func(r *Record) *string { return &r.OperatorStreet }),
	textColumn("operator_postal_code_raw", func(r *Record) *string { return &r.OperatorPostalCodeRaw }),
	textColumn("operator_postal_code", func(r *Record) *string { return &r.OperatorPostalCode }),
	textColumn("operator_municipality", func(r *Record) *string { return &r.OperatorMunicipality }),
	textColumn("operator_district", func(r *Record) *string { return &r.OperatorDistrict }),
	textColumn("operator_region", func(r *Record) *string { return &r.OperatorRegion }),

	textColumn("email", func(r *Record) *string { return &r.Email }),
	flagColumn("email_valid", func(r *Record) **bool { return &r.EmailValid }),
	textColumn("operator_email", func(r *Record) *string { return &r.OperatorEmail }),
	flagColumn("operator_email_valid", func(r *Record) **bool { return &r.OperatorEmailValid }),
	textColumn("website", func(r *Record) *string { return &r.Website }),
	textColumn("website_normalized", func(r *Record) *string { return &r.WebsiteNormalized }),
	textColumn("opening_hours", func(r *Record) *string { return &r.OpeningHours }),
	textColumn("notes", func(r *Record) *string { return &r.Notes }),

	textColumn("status_code", func(r *Record) *string { return &r.StatusCode }),
	{
		name:   "is_active",
		value:  func(r *Record) any { return r.IsActive },
		target: func(r *Record) any { return &r.IsActive },
	},
	textColumn("created_date", func(r *Record) *string { return &r.CreatedDate }),
	textColumn("registered_date", func(r *Record) *string { return &r.RegisteredDate }),
	textColumn("deregistered_date", func(r *Record) *string { return &r.DeregisteredDate }),
	textColumn("approved_by", func(r *Record) *string { return &r.ApprovedBy }),
	textColumn("deregistered_by", func(r *Record) *string { return &r.DeregisteredBy }),
	textColumn("case_number", func(r *Record) *string { return &r.CaseNumber }),

	textColumn("linking_id", func(r *Record) *string { return &r.LinkingID }),
	textColumn("content_fingerprint", func(r *Record) *string { return &r.ContentFingerprint }),
	textColumn("geo_key", func(r *Record) *string { return &r.GeoKey }),
	textColumn("resource_uri", func(r *Record) *string { return &r.ResourceURI }),
	{
		name:   "quality_score",
		value:  func(r *Record) any { return r.QualityScore },
		target: func(r *Record) any { return &r.QualityScore },
	},
}

var columnIndex = func() map[string]int {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c.name] = i
	}
	return idx
}()

func textColumn(name string, field func(r *Record) *string) column {
	return column{
		name: name,
		value: func(r *Record) any {
			if v := *field(r); v != "" {
				return v
			}
			return nil
		},
		target: func(r *Record) any { return &nullText{dst: field(r)} },
	}
}

func flagColumn(name string, field func(r *Record) **bool) column {
	return column{
		name: name,
		value: func(r *Record) any {
			if v := *field(r); v != nil {
				return *v
			}
			return nil
		},
		target: func(r *Record) any { return &nullFlag{dst: field(r)} },
	}
}

// Columns returns the persisted data column names in catalog order.
func Columns() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

// IsColumn reports whether name is a persisted data column.
func IsColumn(name string) bool {
	_, ok := columnIndex[name]
	return ok
}

// Values returns driver values for every data column in catalog order.
func (r *Record) Values() []any {
	vals := make([]any, len(columns))
	for i, c := range columns {
		vals[i] = c.value(r)
	}
	return vals
}

// Value returns the driver value of a single column.
func (r *Record) Value(name string) (any, error) {
	i, ok := columnIndex[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	return columns[i].value(r), nil
}

// SetColumn assigns a driver value, as returned by Value, to a single column.
func (r *Record) SetColumn(name string, v any) error {
	i, ok := columnIndex[name]
	if !ok {
		return fmt.Errorf("unknown column %q", name)
	}
	switch dst := columns[i].target(r).(type) {
	case sql.Scanner:
		return dst.Scan(v)
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("column %q: want bool, got %T", name, v)
		}
		*dst = b
	case *float64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("column %q: want float64, got %T", name, v)
		}
		*dst = f
	default:
		return fmt.Errorf("column %q: unsupported target %T", name, dst)
	}
	return nil
}

// ScanTargets returns sql.Scan destinations for every data column in catalog order.
func (r *Record) ScanTargets() []any {
	dst := make([]any, len(columns))
	for i, c := range columns {
		dst[i] = c.target(r)
	}
	return dst
}

// Snapshot captures the record's data columns.
func (r *Record) Snapshot() Snapshot {
	snap := make(Snapshot, len(columns))
	for _, c := range columns {
		snap[c.name] = c.value(r)
	}
	return snap
}

// Diff returns the sorted names of columns whose values differ between two snapshots.
func Diff(old, updated Snapshot) []string {
	var changed []string
	for _, c := range columns {
		if old[c.name] != updated[c.name] {
			changed = append(changed, c.name)
		}
	}
	sort.Strings(changed)
	return changed
}

type nullText struct {
	dst *string
}

func (n *nullText) Scan(src any) error {
	var s sql.NullString
	if err := s.Scan(src); err != nil {
		return err
	}
	*n.dst = s.String
	return nil
}

type nullFlag struct {
	dst **bool
}

func (n *nullFlag) Scan(src any) error {
	var b sql.NullBool
	if err := b.Scan(src); err != nil {
		return err
	}
	if !b.Valid {
		*n.dst = nil
		return nil
	}
	v := b.Bool
	*n.dst = &v
	return nil
}
