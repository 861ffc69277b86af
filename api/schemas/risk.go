package schemas

// -- Risk Schemas --

// RiskScore aggregates a repository's open vulnerability records into a single
// severity-weighted number. It is derived state: recomputed on every run and
// never trusted across runs.
type RiskScore struct {
	Repository string `json:"repository"` // Repository the score belongs to.

	// Score is the weighted sum over open records only. Weights are integers,
	// so the sum is exact and independent of iteration order.
	Score int `json:"score"`

	CountsBySeverity map[Severity]int `json:"counts_by_severity"` // Open record count per severity.

	OpenCount  int `json:"open_count"`  // Number of records in state OPEN.
	TotalCount int `json:"total_count"` // Number of records in any state.
}

// Count returns the open record count for one severity level.
func (s RiskScore) Count(sev Severity) int {
	return s.CountsBySeverity[sev]
}

// RiskBand buckets a repository score for summary reporting.
type RiskBand string

// Constants for the repository risk bands.
const (
	BandCritical RiskBand = "critical" // Score >= 50.
	BandHigh     RiskBand = "high"     // Score >= 20.
	BandMedium   RiskBand = "medium"   // Score >= 5.
	BandLow      RiskBand = "low"      // Everything else.
)

// Band maps the score onto its risk band.
func (s RiskScore) Band() RiskBand {
	switch {
	case s.Score >= 50:
		return BandCritical
	case s.Score >= 20:
		return BandHigh
	case s.Score >= 5:
		return BandMedium
	default:
		return BandLow
	}
}
