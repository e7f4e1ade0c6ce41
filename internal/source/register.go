package source

import "libsync/internal/library/normalize"

// registerRow holds the columns of the ministry's register export. Its tags
// match normalize.DefaultMapping.
type registerRow struct {
	EvidenceNumber string `csv:"R - EVIDENČNÍ ČÍSLO KNIHOVNY"`

	LibraryName         string `csv:"I - NÁZEV KNIHOVNY"`
	LibraryStreet       string `csv:"K - adresa knihovny: ulice"`
	LibraryPostalCode   string `csv:"K - adresa knihovny: PSČ"`
	LibraryMunicipality string `csv:"K - adresa knihovny: město"`
	LibraryDistrict     string `csv:"K - adresa knihovny: okres"`
	LibraryRegion       string `csv:"K - adresa knihovny: kraj"`

	OperatorName           string `csv:"A - NÁZEV PROVOZOVATELE"`
	OperatorRegistrationID string `csv:"C - IČO provozovatele"`
	OperatorLegalForm      string `csv:"B - právní forma provozovatele"`
	OperatorBirthDate      string `csv:"D - datum narození provozovatele"`
	OperatorStreet         string `csv:"E - adresa provozovatele: ulice"`
	OperatorPostalCode     string `csv:"E - adresa provozovatele: PSČ"`
	OperatorMunicipality   string `csv:"E - adresa provozovatele: město"`
	OperatorDistrict       string `csv:"E - adresa provozovatele: okres"`
	OperatorRegion         string `csv:"E - adresa provozovatele: kraj"`

	Email         string `csv:"N - e-mailový kontakt na knihovnu"`
	OperatorEmail string `csv:"F - e-mailový kontakt na provozovatele"`
	Website       string `csv:"O - odkaz na webovou stránku knihovny, respektive odkaz na informace o knihovně na webových stránkách provozovatele"`
	OpeningHours  string `csv:"P - provozní doba knihovny"`
	Notes         string `csv:"Q - poznámka"`

	Status           string `csv:"aktivní / zrušená (vyřazená z evidence)"`
	CreatedDate      string `csv:"S - datum založení knihovny"`
	RegisteredDate   string `csv:"T - datum zapsání do evidence"`
	DeregisteredDate string `csv:"U - datum vyřazení z evidence"`
	ApprovedBy       string `csv:"V - zápis schválil"`
	DeregisteredBy   string `csv:"W - vyřazení provedl"`
	CaseNumber       string `csv:"X - číslo jednací"`
}

// columns keys the decoded values by the column names of m.
func (r *registerRow) columns(m normalize.Mapping) map[string]string {
	return map[string]string{
		m.EvidenceNumber: r.EvidenceNumber,

		m.LibraryName:         r.LibraryName,
		m.LibraryStreet:       r.LibraryStreet,
		m.LibraryPostalCode:   r.LibraryPostalCode,
		m.LibraryMunicipality: r.LibraryMunicipality,
		m.LibraryDistrict:     r.LibraryDistrict,
		m.LibraryRegion:       r.LibraryRegion,

		m.OperatorName:           r.OperatorName,
		m.OperatorRegistrationID: r.OperatorRegistrationID,
		m.OperatorLegalForm:      r.OperatorLegalForm,
		m.OperatorBirthDate:      r.OperatorBirthDate,
		m.OperatorStreet:         r.OperatorStreet,
		m.OperatorPostalCode:     r.OperatorPostalCode,
		m.OperatorMunicipality:   r.OperatorMunicipality,
		m.OperatorDistrict:       r.OperatorDistrict,
		m.OperatorRegion:         r.OperatorRegion,

		m.Email:         r.Email,
		m.OperatorEmail: r.OperatorEmail,
		m.Website:       r.Website,
		m.OpeningHours:  r.OpeningHours,
		m.Notes:         r.Notes,

		m.Status:           r.Status,
		m.CreatedDate:      r.CreatedDate,
		m.RegisteredDate:   r.RegisteredDate,
		m.DeregisteredDate: r.DeregisteredDate,
		m.ApprovedBy:       r.ApprovedBy,
		m.DeregisteredBy:   r.DeregisteredBy,
		m.CaseNumber:       r.CaseNumber,
	}
}
