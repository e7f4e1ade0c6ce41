package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"libsync/internal/library/models"
)

type libraryPage struct {
	Items  []models.ActiveLibrary `json:"items"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

type runResponse struct {
	RunID       string                         `json:"run_id"`
	StartedAt   time.Time                      `json:"started_at"`
	FinishedAt  time.Time                      `json:"finished_at"`
	Total       int                            `json:"total"`
	Processed   int                            `json:"processed"`
	Succeeded   int                            `json:"succeeded"`
	Failed      int                            `json:"failed"`
	Rejected    int                            `json:"rejected"`
	Inserted    int                            `json:"inserted"`
	Updated     int                            `json:"updated"`
	Unchanged   int                            `json:"unchanged"`
	Deactivated int                            `json:"deactivated"`
	Collisions  int                            `json:"collisions"`
	Swept       bool                           `json:"swept"`
	Metrics     *models.QualityMetricsSnapshot `json:"metrics,omitempty"`
}

func newRunResponse(r *models.RunReport) runResponse {
	return runResponse{
		RunID:       r.RunID.String(),
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Total:       r.Total,
		Processed:   r.Processed,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Rejected:    r.Rejected,
		Inserted:    r.Inserted,
		Updated:     r.Updated,
		Unchanged:   r.Unchanged,
		Deactivated: r.Deactivated,
		Collisions:  r.Collisions,
		Swept:       r.Swept,
		Metrics:     r.Metrics,
	}
}

const schemaContext = "https://schema.org/"

type jsonLDGraph struct {
	Context string          `json:"@context"`
	Graph   []jsonLDLibrary `json:"@graph"`
}

type jsonLDLibrary struct {
	Type       string        `json:"@type"`
	ID         string        `json:"@id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Identifier string        `json:"identifier"`
	Address    jsonLDAddress `json:"address"`
	Email      string        `json:"email,omitempty"`
	URL        string        `json:"url,omitempty"`
}

type jsonLDAddress struct {
	Type            string `json:"@type"`
	StreetAddress   string `json:"streetAddress,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
	AddressLocality string `json:"addressLocality,omitempty"`
	AddressRegion   string `json:"addressRegion,omitempty"`
	AddressCountry  string `json:"addressCountry"`
}

func toJSONLD(lib models.ActiveLibrary) jsonLDLibrary {
	return jsonLDLibrary{
		Type:       "Library",
		ID:         lib.ResourceURI,
		Name:       lib.Name,
		Identifier: lib.EvidenceNumber,
		Address: jsonLDAddress{
			Type:            "PostalAddress",
			StreetAddress:   lib.Street,
			PostalCode:      lib.PostalCode,
			AddressLocality: lib.Municipality,
			AddressRegion:   lib.Region,
			AddressCountry:  "CZ",
		},
		Email: lib.Email,
		URL:   lib.WebsiteNormalized,
	}
}

func writeJSONLD(w http.ResponseWriter, libs []models.ActiveLibrary) {
	doc := jsonLDGraph{Context: schemaContext, Graph: make([]jsonLDLibrary, 0, len(libs))}
	for _, lib := range libs {
		doc.Graph = append(doc.Graph, toJSONLD(lib))
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
}
