package keys

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libsync/internal/library/models"
)

func sample() models.Record {
	valid := true
	return models.Record{
		EvidenceNumber:      "1234 / 2002",
		LibraryName:         "Místní knihovna Lhota",
		LibraryMunicipality: "Lhota",
		LibraryDistrict:     "Kolín",
		LibraryRegion:       "Středočeský kraj",
		LibraryPostalCode:   "28002",
		Email:               "knihovna@lhota.cz",
		EmailValid:          &valid,
		StatusCode:          "aktivní",
		IsActive:            true,
		Notes:               "otevřeno jen v zimě",
		OpeningHours:        "Po 10-12",
	}
}

func TestLinkingID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single spaces", "1234 / 2002", "1234-/-2002"},
		{"no whitespace", "1234/2002", "1234/2002"},
		{"tabs and non-breaking space", "12\t34 5", "12-34-5"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LinkingID(tt.in))
		})
	}
}

func TestGeoKey(t *testing.T) {
	assert.Equal(t, "Středočeský kraj_Kolín", GeoKey("Středočeský kraj", "Kolín"))
	assert.Empty(t, GeoKey("", "Kolín"))
	assert.Empty(t, GeoKey("Středočeský kraj", ""))
}

func TestDerive(t *testing.T) {
	d := NewDeriver("")
	rec := sample()
	d.Derive(&rec)

	assert.Equal(t, "1234-/-2002", rec.LinkingID)
	assert.Equal(t, "Středočeský kraj_Kolín", rec.GeoKey)
	assert.Equal(t, "https://knihovny.cz/library/1234-%2F-2002", rec.ResourceURI)
	assert.Len(t, rec.ContentFingerprint, 64)
}

func TestResourceURIBase(t *testing.T) {
	d := NewDeriver("https://example.org/lib/ ")
	assert.Equal(t, "https://example.org/lib/abc", d.ResourceURI("abc"))
	assert.Empty(t, d.ResourceURI(""))
}

func TestFingerprint(t *testing.T) {
	base := sample()
	fp := Fingerprint(&base)

	t.Run("deterministic", func(t *testing.T) {
		again := sample()
		assert.Equal(t, fp, Fingerprint(&again))
	})

	t.Run("notes are ignored", func(t *testing.T) {
		changed := sample()
		changed.Notes = "jiná poznámka"
		assert.Equal(t, fp, Fingerprint(&changed))
	})

	t.Run("opening hours change the fingerprint", func(t *testing.T) {
		changed := sample()
		changed.OpeningHours = ""
		assert.NotEqual(t, fp, Fingerprint(&changed))
	})

	t.Run("derived fields are ignored", func(t *testing.T) {
		changed := sample()
		changed.QualityScore = 0.5
		changed.ResourceURI = "x"
		assert.Equal(t, fp, Fingerprint(&changed))
	})

	t.Run("identity fields change the fingerprint", func(t *testing.T) {
		changed := sample()
		changed.LibraryName = "Obecní knihovna Lhota"
		assert.NotEqual(t, fp, Fingerprint(&changed))
	})

	t.Run("validity flag state matters", func(t *testing.T) {
		changed := sample()
		changed.EmailValid = nil
		assert.NotEqual(t, fp, Fingerprint(&changed))
	})

	t.Run("values cannot bleed across field boundaries", func(t *testing.T) {
		a := models.Record{LibraryName: "ab", LibraryStreet: ""}
		b := models.Record{LibraryName: "a", LibraryStreet: "b"}
		assert.NotEqual(t, Fingerprint(&a), Fingerprint(&b))
	})
}

func TestFingerprintFieldsAreSorted(t *testing.T) {
	names := make([]string, len(fingerprintFields))
	for i, f := range fingerprintFields {
		names[i] = f.name
	}
	require.True(t, sort.StringsAreSorted(names))
	for _, n := range names {
		assert.True(t, models.IsColumn(n), n)
	}
}
