package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Alert Schemas --

// Severity represents the severity level of a vulnerability alert. The values
// are uppercase to align with the scan report wire format.
type Severity string

// Constants defining the four standard severity levels.
const (
	SeverityCritical Severity = "CRITICAL" // Represents a critical vulnerability.
	SeverityHigh     Severity = "HIGH"     // Represents a high-severity vulnerability.
	SeverityMedium   Severity = "MEDIUM"   // Represents a medium-severity vulnerability.
	SeverityLow      Severity = "LOW"      // Represents a low-severity vulnerability.
)

// SeverityOrder lists all severities from most to least severe. This ordering
// is the tie-break key everywhere repositories or alerts are ranked.
var SeverityOrder = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity normalizes a raw severity string (any casing, surrounding
// whitespace) to the canonical enum. "MODERATE" is accepted as an alias for
// MEDIUM since some scanners report it that way.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL":
		return SeverityCritical, nil
	case "HIGH":
		return SeverityHigh, nil
	case "MEDIUM", "MODERATE":
		return SeverityMedium, nil
	case "LOW":
		return SeverityLow, nil
	default:
		return "", fmt.Errorf("unrecognized severity %q", raw)
	}
}

// AlertState represents the lifecycle state of a single alert as reported by
// the scanner.
type AlertState string

// Constants for the alert lifecycle states.
const (
	AlertOpen      AlertState = "OPEN"      // The alert is unresolved.
	AlertFixed     AlertState = "FIXED"     // The vulnerable dependency was patched or removed.
	AlertDismissed AlertState = "DISMISSED" // The alert was manually dismissed.
)

// ParseAlertState normalizes a raw state string to the canonical enum.
func ParseAlertState(raw string) (AlertState, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "OPEN":
		return AlertOpen, nil
	case "FIXED", "RESOLVED":
		return AlertFixed, nil
	case "DISMISSED":
		return AlertDismissed, nil
	default:
		return "", fmt.Errorf("unrecognized alert state %q", raw)
	}
}

// RawAlert is one row of scanner output exactly as read from the report file.
// Severity casing and CVSS presence vary by source scanner; normalization into
// a VulnerabilityRecord happens exactly once, in the normalize package.
type RawAlert struct {
	Repository    string   `json:"repository"`            // Repository the alert belongs to.
	Package       string   `json:"package"`               // Affected package or component name.
	Severity      string   `json:"severity"`              // Raw severity string, any casing.
	CVSSScore     *float64 `json:"cvss_score,omitempty"`  // CVSS score if the scanner reported one.
	State         string   `json:"state"`                 // Raw alert state string.
	FirstDetected string   `json:"first_detected"`        // RFC 3339 timestamp of first detection.
	ResolvedAt    string   `json:"resolved_at,omitempty"` // RFC 3339 timestamp of resolution, if any.
}

// VulnerabilityRecord is the canonical, immutable form of a single alert.
// A scan run produces a fresh set of records; prior records are never mutated.
type VulnerabilityRecord struct {
	Repository string `json:"repository"` // Repository identifier.
	Package    string `json:"package"`    // Affected package or component name.

	Severity Severity `json:"severity"` // Resolved canonical severity.

	// CVSSScore is always populated: either the scanner-reported value or the
	// severity-keyed fallback applied during normalization.
	CVSSScore float64 `json:"cvss_score"`

	State AlertState `json:"state"` // Canonical alert state.

	FirstDetected time.Time  `json:"first_detected"`        // When the alert was first detected.
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"` // When the alert was resolved, if it was.
}

// IsOpen reports whether the record still counts toward the repository's risk.
func (r VulnerabilityRecord) IsOpen() bool {
	return r.State == AlertOpen
}

// Key returns the stable identity of the underlying vulnerability, used when
// summarizing what was fixed or what regressed between runs.
func (r VulnerabilityRecord) Key() string {
	return r.Package + "|" + string(r.Severity)
}
