// Package normalize converts heterogeneous raw scanner output into the
// canonical VulnerabilityRecord form. All casing, CVSS and timestamp
// differences between source scanners are resolved here, exactly once.
package normalize

import (
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
)

// timestampLayouts are the wire formats accepted for alert timestamps.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer turns RawAlert rows into VulnerabilityRecords.
type Normalizer struct {
	cfg    config.ReconcilerConfig
	logger *zap.Logger
}

// New creates a Normalizer. The CVSS fallback table comes from configuration
// and is applied verbatim; it is policy, not computation.
func New(cfg config.ReconcilerConfig, logger *zap.Logger) *Normalizer {
	return &Normalizer{cfg: cfg, logger: logger.Named("normalizer")}
}

// Normalize converts raw alerts into canonical records. A malformed alert
// fails only itself: it is skipped with a warning and the rest of the batch
// proceeds. Records with non-OPEN states are retained so the engine can
// detect "all resolved" transitions; they simply never count toward risk.
func (n *Normalizer) Normalize(raw []schemas.RawAlert) []schemas.VulnerabilityRecord {
	records := make([]schemas.VulnerabilityRecord, 0, len(raw))
	for _, alert := range raw {
		record, ok := n.normalizeOne(alert)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records
}

func (n *Normalizer) normalizeOne(alert schemas.RawAlert) (schemas.VulnerabilityRecord, bool) {
	if alert.Repository == "" || alert.Package == "" {
		n.logger.Warn("Skipping alert with missing repository or package",
			zap.String("repository", alert.Repository),
			zap.String("package", alert.Package))
		return schemas.VulnerabilityRecord{}, false
	}

	severity, err := schemas.ParseSeverity(alert.Severity)
	if err != nil {
		n.logger.Warn("Skipping alert with unrecognized severity",
			zap.String("repository", alert.Repository),
			zap.String("package", alert.Package),
			zap.String("severity", alert.Severity))
		return schemas.VulnerabilityRecord{}, false
	}

	state, err := schemas.ParseAlertState(alert.State)
	if err != nil {
		n.logger.Warn("Skipping alert with unrecognized state",
			zap.String("repository", alert.Repository),
			zap.String("package", alert.Package),
			zap.String("state", alert.State))
		return schemas.VulnerabilityRecord{}, false
	}

	cvss := n.cfg.CVSSFor(severity)
	if alert.CVSSScore != nil {
		cvss = *alert.CVSSScore
	}

	firstDetected, err := parseTimestamp(alert.FirstDetected)
	if err != nil {
		n.logger.Warn("Skipping alert with unparseable first_detected",
			zap.String("repository", alert.Repository),
			zap.String("package", alert.Package),
			zap.String("first_detected", alert.FirstDetected))
		return schemas.VulnerabilityRecord{}, false
	}

	var resolvedAt *time.Time
	if alert.ResolvedAt != "" {
		ts, err := parseTimestamp(alert.ResolvedAt)
		if err != nil {
			n.logger.Warn("Dropping unparseable resolved_at, keeping the alert",
				zap.String("repository", alert.Repository),
				zap.String("package", alert.Package),
				zap.String("resolved_at", alert.ResolvedAt))
		} else {
			resolvedAt = &ts
		}
	}

	return schemas.VulnerabilityRecord{
		Repository:    alert.Repository,
		Package:       alert.Package,
		Severity:      severity,
		CVSSScore:     cvss,
		State:         state,
		FirstDetected: firstDetected,
		ResolvedAt:    resolvedAt,
	}, true
}

// parseTimestamp tries each accepted layout in order. An empty value is
// allowed and yields the zero time; some scanners omit detection times for
// historical alerts.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
