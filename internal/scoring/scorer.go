// Package scoring aggregates a repository's vulnerability records into a
// single severity-weighted risk score. Scoring is pure: no I/O, no clock, no
// dependence on record ordering.
package scoring

import (
	"sort"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
)

// Scorer computes RiskScores using the configured integer severity weights.
// Integer accumulation keeps the sum exact under any permutation of the
// input, which is what makes idempotent re-runs comparable.
type Scorer struct {
	cfg config.ReconcilerConfig
}

// New creates a Scorer. The weight ordering invariant was already enforced at
// config load.
func New(cfg config.ReconcilerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score aggregates the records belonging to one repository. Records for other
// repositories are ignored rather than rejected; callers often hold one flat
// record set for the whole run.
func (s *Scorer) Score(repository string, records []schemas.VulnerabilityRecord) schemas.RiskScore {
	score := schemas.RiskScore{
		Repository:       repository,
		CountsBySeverity: make(map[schemas.Severity]int, len(schemas.SeverityOrder)),
	}
	for _, sev := range schemas.SeverityOrder {
		score.CountsBySeverity[sev] = 0
	}

	for _, r := range records {
		if r.Repository != repository {
			continue
		}
		score.TotalCount++
		if !r.IsOpen() {
			continue
		}
		score.OpenCount++
		score.CountsBySeverity[r.Severity]++
		score.Score += s.cfg.SeverityWeight(r.Severity)
	}
	return score
}

// Rank orders repositories by descending score. Ties break by severity
// counts in CRITICAL > HIGH > MEDIUM > LOW order, then by name so the result
// is total and stable across runs.
func Rank(scores []schemas.RiskScore) []schemas.RiskScore {
	ranked := make([]schemas.RiskScore, len(scores))
	copy(ranked, scores)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		for _, sev := range schemas.SeverityOrder {
			if a.Count(sev) != b.Count(sev) {
				return a.Count(sev) > b.Count(sev)
			}
		}
		return a.Repository < b.Repository
	})
	return ranked
}
