// Package quality scores how complete a normalized record is.
package quality

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"libsync/internal/library/models"
)

// Weight is one entry of the weight table. It is satisfied when any of its
// fields is populated.
type Weight struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
	Weight float64  `yaml:"weight"`
}

// Weights is the full weight table.
type Weights []Weight

// DefaultWeights favours the fields a reader needs to find and contact a library.
func DefaultWeights() Weights {
	return Weights{
		{Name: "name", Fields: []string{"library_name"}, Weight: 2},
		{Name: "street", Fields: []string{"library_street"}, Weight: 1},
		{Name: "postal_code", Fields: []string{"library_postal_code"}, Weight: 1},
		{Name: "municipality", Fields: []string{"library_municipality"}, Weight: 1},
		{Name: "region", Fields: []string{"library_region"}, Weight: 0.5},
		{Name: "district", Fields: []string{"library_district"}, Weight: 0.5},
		{Name: "email", Fields: []string{"email"}, Weight: 2},
		{Name: "website", Fields: []string{"website_normalized"}, Weight: 2},
		{Name: "opening_hours", Fields: []string{"opening_hours"}, Weight: 1},
		{Name: "operator", Fields: []string{"operator_name"}, Weight: 1},
		{Name: "operator_id", Fields: []string{"operator_registration_id"}, Weight: 0.5},
		{Name: "operator_contact", Fields: []string{"operator_email", "operator_street"}, Weight: 0.5},
		{Name: "active", Fields: []string{"is_active"}, Weight: 1},
	}
}

// LoadWeights reads a YAML weight table, replacing the defaults entirely.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading weights file: %w", err)
	}
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing weights file %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate rejects entries that name unknown columns or carry a negative weight.
func (w Weights) Validate() error {
	for i, entry := range w {
		if entry.Weight < 0 {
			return fmt.Errorf("weights[%d]: negative weight %v", i, entry.Weight)
		}
		if len(entry.Fields) == 0 {
			return fmt.Errorf("weights[%d]: no fields", i)
		}
		for _, f := range entry.Fields {
			if !models.IsColumn(f) || derived[f] {
				return fmt.Errorf("weights[%d]: %q is not a scoreable field", i, f)
			}
		}
	}
	return nil
}

// Total is the sum of all weights.
func (w Weights) Total() float64 {
	var total float64
	for _, entry := range w {
		total += entry.Weight
	}
	return total
}

var derived = map[string]bool{
	"quality_score":       true,
	"content_fingerprint": true,
	"linking_id":          true,
	"resource_uri":        true,
	"geo_key":             true,
}

// emailValidity pairs each email column with the flag that must be true for it to count.
var emailValidity = map[string]func(r *models.Record) *bool{
	"email":          func(r *models.Record) *bool { return r.EmailValid },
	"operator_email": func(r *models.Record) *bool { return r.OperatorEmailValid },
}

// Scorer computes quality scores from a weight table.
type Scorer struct {
	weights Weights
	total   float64
}

// NewScorer validates the table and builds a Scorer.
func NewScorer(weights Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights, total: weights.Total()}, nil
}

// Score returns satisfied weight over total weight, clamped to [0,1] and rounded
// to two decimals. An empty or zero table scores 0.
func (s *Scorer) Score(rec *models.Record) float64 {
	if s.total <= 0 {
		return 0
	}
	var satisfied float64
	for _, entry := range s.weights {
		if s.satisfied(rec, entry) {
			satisfied += entry.Weight
		}
	}
	return Round(math.Min(1, math.Max(0, satisfied/s.total)))
}

func (s *Scorer) satisfied(rec *models.Record, entry Weight) bool {
	for _, f := range entry.Fields {
		if populated(rec, f) {
			return true
		}
	}
	return false
}

func populated(rec *models.Record, field string) bool {
	if validity, ok := emailValidity[field]; ok {
		flag := validity(rec)
		return flag != nil && *flag
	}
	v, err := rec.Value(field)
	if err != nil {
		return false
	}
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	default:
		return true
	}
}

// Round rounds half away from zero to two decimals.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
