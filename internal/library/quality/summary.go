package quality

import "libsync/internal/library/models"

// Summary accumulates run-level completeness over a batch of records.
type Summary struct {
	total    int
	active   int
	email    int
	web      int
	scoreSum float64
	regions  map[string]struct{}
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{regions: make(map[string]struct{})}
}

// Add counts one scored record.
func (s *Summary) Add(rec *models.Record) {
	s.total++
	if rec.IsActive {
		s.active++
	}
	if rec.EmailValid != nil && *rec.EmailValid {
		s.email++
	}
	if rec.WebsiteNormalized != "" {
		s.web++
	}
	if rec.LibraryRegion != "" {
		s.regions[rec.LibraryRegion] = struct{}{}
	}
	s.scoreSum += rec.QualityScore
}

// Apply writes the accumulated ratios into snap. Ratios are 0 for an empty batch.
func (s *Summary) Apply(snap *models.QualityMetricsSnapshot) {
	snap.TotalRecords = s.total
	snap.ActiveRecords = s.active
	snap.DistinctRegions = len(s.regions)
	if s.total == 0 {
		snap.EmailCompleteness = 0
		snap.WebCompleteness = 0
		snap.AvgQualityScore = 0
		return
	}
	n := float64(s.total)
	snap.EmailCompleteness = Round(float64(s.email) / n)
	snap.WebCompleteness = Round(float64(s.web) / n)
	snap.AvgQualityScore = Round(s.scoreSum / n)
}
