package normalize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultActiveMarker is the status value of a library that is still registered.
const DefaultActiveMarker = "aktivní"

// Mapping names the source column for every canonical field. A blank entry means
// the source does not carry that field.
type Mapping struct {
	EvidenceNumber string `yaml:"evidence_number"`

	LibraryName         string `yaml:"library_name"`
	LibraryStreet       string `yaml:"library_street"`
	LibraryPostalCode   string `yaml:"library_postal_code"`
	LibraryMunicipality string `yaml:"library_municipality"`
	LibraryDistrict     string `yaml:"library_district"`
	LibraryRegion       string `yaml:"library_region"`

	OperatorName           string `yaml:"operator_name"`
	OperatorRegistrationID string `yaml:"operator_registration_id"`
	OperatorLegalForm      string `yaml:"operator_legal_form"`
	OperatorBirthDate      string `yaml:"operator_birth_date"`
	OperatorStreet         string `yaml:"operator_street"`
	OperatorPostalCode     string `yaml:"operator_postal_code"`
	OperatorMunicipality   string `yaml:"operator_municipality"`
	OperatorDistrict       string `yaml:"operator_district"`
	OperatorRegion         string `yaml:"operator_region"`

	Email         string `yaml:"email"`
	OperatorEmail string `yaml:"operator_email"`
	Website       string `yaml:"website"`
	OpeningHours  string `yaml:"opening_hours"`
	Notes         string `yaml:"notes"`

	Status           string `yaml:"status"`
	ActiveMarker     string `yaml:"active_marker"`
	CreatedDate      string `yaml:"created_date"`
	RegisteredDate   string `yaml:"registered_date"`
	DeregisteredDate string `yaml:"deregistered_date"`
	ApprovedBy       string `yaml:"approved_by"`
	DeregisteredBy   string `yaml:"deregistered_by"`
	CaseNumber       string `yaml:"case_number"`
}

// DefaultMapping returns the column names of the ministry's library register export.
func DefaultMapping() Mapping {
	return Mapping{
		EvidenceNumber: "R - EVIDENČNÍ ČÍSLO KNIHOVNY",

		LibraryName:         "I - NÁZEV KNIHOVNY",
		LibraryStreet:       "K - adresa knihovny: ulice",
		LibraryPostalCode:   "K - adresa knihovny: PSČ",
		LibraryMunicipality: "K - adresa knihovny: město",
		LibraryDistrict:     "K - adresa knihovny: okres",
		LibraryRegion:       "K - adresa knihovny: kraj",

		OperatorName:           "A - NÁZEV PROVOZOVATELE",
		OperatorRegistrationID: "C - IČO provozovatele",
		OperatorLegalForm:      "B - právní forma provozovatele",
		OperatorBirthDate:      "D - datum narození provozovatele",
		OperatorStreet:         "E - adresa provozovatele: ulice",
		OperatorPostalCode:     "E - adresa provozovatele: PSČ",
		OperatorMunicipality:   "E - adresa provozovatele: město",
		OperatorDistrict:       "E - adresa provozovatele: okres",
		OperatorRegion:         "E - adresa provozovatele: kraj",

		Email:         "N - e-mailový kontakt na knihovnu",
		OperatorEmail: "F - e-mailový kontakt na provozovatele",
		Website:       "O - odkaz na webovou stránku knihovny, respektive odkaz na informace o knihovně na webových stránkách provozovatele",
		OpeningHours:  "P - provozní doba knihovny",
		Notes:         "Q - poznámka",

		Status:           "aktivní / zrušená (vyřazená z evidence)",
		ActiveMarker:     DefaultActiveMarker,
		CreatedDate:      "S - datum založení knihovny",
		RegisteredDate:   "T - datum zapsání do evidence",
		DeregisteredDate: "U - datum vyřazení z evidence",
		ApprovedBy:       "V - zápis schválil",
		DeregisteredBy:   "W - vyřazení provedl",
		CaseNumber:       "X - číslo jednací",
	}
}

// LoadMapping reads a YAML mapping file. Keys absent from the file keep their defaults.
func LoadMapping(path string) (Mapping, error) {
	m := DefaultMapping()
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("reading mapping file: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("parsing mapping file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// Validate checks the columns the pipeline cannot work without.
func (m Mapping) Validate() error {
	if m.EvidenceNumber == "" {
		return fmt.Errorf("mapping: evidence_number column is required")
	}
	if m.Status != "" && m.ActiveMarker == "" {
		return fmt.Errorf("mapping: active_marker is required when status is mapped")
	}
	return nil
}
