// File: internal/reconcile/engine_test.go
package reconcile

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
	"github.com/xkilldash9x/vulnsync-cli/internal/scoring"
	"github.com/xkilldash9x/vulnsync-cli/internal/titles"
)

const titleFormat = "{repository} - Fix all dependabot issues Critical - {critical:02}, High - {high:02}, Medium - {medium:02}, Low - {low:02}"

func testIssueConfig() config.IssueConfig {
	return config.IssueConfig{
		TitleFormat: titleFormat,
		Labels: []config.LabelConfig{
			{Name: "security-Vulnerability", Color: "fbca04", Description: "Security vulnerability"},
		},
		ProjectID:   "proj1",
		StatusField: "Status",
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	tpl, err := titles.New(titleFormat)
	require.NoError(t, err)
	engine := NewEngine(tpl, testIssueConfig(), zap.NewNop())
	engine.now = func() time.Time {
		return time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	}
	return engine
}

func record(repo, pkg string, sev schemas.Severity, state schemas.AlertState) schemas.VulnerabilityRecord {
	return schemas.VulnerabilityRecord{
		Repository: repo,
		Package:    pkg,
		Severity:   sev,
		CVSSScore:  7.5,
		State:      state,
	}
}

func scoreOf(t *testing.T, repo string, records []schemas.VulnerabilityRecord) schemas.RiskScore {
	t.Helper()
	cfg := config.NewDefaultConfig()
	return scoring.New(cfg.Reconciler).Score(repo, records)
}

func TestDecideCreatesIssueForNewVulnerabilities(t *testing.T) {
	engine := newEngine(t)
	records := []schemas.VulnerabilityRecord{
		record("X", "lodash", schemas.SeverityCritical, schemas.AlertOpen),
		record("X", "minimist", schemas.SeverityCritical, schemas.AlertOpen),
		record("X", "qs", schemas.SeverityLow, schemas.AlertOpen),
	}
	score := scoreOf(t, "X", records)

	decision := engine.Decide("X", records, score, nil, false)

	assert.Equal(t, schemas.ActionCreate, decision.Action)
	assert.Equal(t, 101, decision.Score.Score)
	assert.Equal(t, "X - Fix all dependabot issues Critical - 02, High - 00, Medium - 00, Low - 01", decision.Content.Title)
	assert.Contains(t, decision.Content.Body, "<!-- vulnsync:summary repository=X critical=2 high=0 medium=0 low=1 open=3 -->")
	assert.Contains(t, decision.Content.Body, "| lodash | CRITICAL | 7.5 | Open |")
	assert.Equal(t, []string{"security-Vulnerability"}, decision.Content.Labels)
	assert.Equal(t, schemas.StatusInProgress, decision.TargetStatus)
}

func TestDecideNoopWhenCleanAndNoIssue(t *testing.T) {
	engine := newEngine(t)
	decision := engine.Decide("X", nil, scoreOf(t, "X", nil), nil, false)
	assert.Equal(t, schemas.ActionNoop, decision.Action)
	assert.Equal(t, schemas.StatusUnknown, decision.TargetStatus)
}

func TestDecideClosesWhenAllResolved(t *testing.T) {
	engine := newEngine(t)
	records := []schemas.VulnerabilityRecord{
		record("Y", "lodash", schemas.SeverityHigh, schemas.AlertFixed),
		record("Y", "qs", schemas.SeverityLow, schemas.AlertDismissed),
	}
	issue := &schemas.TrackedIssue{ID: 4, IsOpen: true, OwnedByAutomation: true}

	decision := engine.Decide("Y", records, scoreOf(t, "Y", records), issue, false)

	assert.Equal(t, schemas.ActionClose, decision.Action)
	assert.Equal(t, schemas.StatusDone, decision.TargetStatus)
	assert.Contains(t, decision.Comment, "have been resolved")
	assert.Contains(t, decision.Comment, "`lodash|HIGH`")
	assert.Contains(t, decision.Comment, "`qs|LOW`")
	assert.Contains(t, decision.Comment, "Verified on: 2026-04-02 12:00:00")
}

func TestDecideReopensOnRegression(t *testing.T) {
	engine := newEngine(t)
	records := []schemas.VulnerabilityRecord{
		record("Z", "openssl", schemas.SeverityCritical, schemas.AlertOpen),
	}
	issue := &schemas.TrackedIssue{ID: 9, IsOpen: false, OwnedByAutomation: true}

	decision := engine.Decide("Z", records, scoreOf(t, "Z", records), issue, false)

	assert.Equal(t, schemas.ActionReopen, decision.Action)
	assert.Equal(t, schemas.StatusInProgress, decision.TargetStatus)
	assert.Contains(t, decision.Comment, "`openssl|CRITICAL`")
	assert.NotEmpty(t, decision.Content.Title, "reopen refreshes the rendered content")
}

func TestDecideNoopWhenContentUnchanged(t *testing.T) {
	engine := newEngine(t)
	records := []schemas.VulnerabilityRecord{
		record("W", "lodash", schemas.SeverityMedium, schemas.AlertOpen),
	}
	score := scoreOf(t, "W", records)

	// First render, as a previous run would have written it.
	first := engine.Decide("W", records, score, nil, false)
	require.Equal(t, schemas.ActionCreate, first.Action)

	issue := &schemas.TrackedIssue{
		ID:                7,
		IsOpen:            true,
		Title:             first.Content.Title,
		Body:              first.Content.Body,
		Labels:            []string{"security-Vulnerability", "manual-label"},
		OwnedByAutomation: true,
	}
	second := engine.Decide("W", records, score, issue, false)
	assert.Equal(t, schemas.ActionNoop, second.Action)
}

func TestDecideForceUpdateBypassesUnchangedCheck(t *testing.T) {
	engine := newEngine(t)
	records := []schemas.VulnerabilityRecord{
		record("W", "lodash", schemas.SeverityMedium, schemas.AlertOpen),
	}
	score := scoreOf(t, "W", records)
	first := engine.Decide("W", records, score, nil, false)

	issue := &schemas.TrackedIssue{
		ID:                7,
		IsOpen:            true,
		Title:             first.Content.Title,
		Body:              first.Content.Body,
		Labels:            []string{"security-Vulnerability"},
		OwnedByAutomation: true,
	}
	decision := engine.Decide("W", records, score, issue, true)
	assert.Equal(t, schemas.ActionUpdate, decision.Action)
}

func TestDecideUpdateWhenCountsChanged(t *testing.T) {
	engine := newEngine(t)
	old := []schemas.VulnerabilityRecord{
		record("W", "lodash", schemas.SeverityMedium, schemas.AlertOpen),
	}
	oldDecision := engine.Decide("W", old, scoreOf(t, "W", old), nil, false)

	grown := append(old, record("W", "express", schemas.SeverityCritical, schemas.AlertOpen))
	issue := &schemas.TrackedIssue{
		ID:                7,
		IsOpen:            true,
		Title:             oldDecision.Content.Title,
		Body:              oldDecision.Content.Body,
		Labels:            []string{"security-Vulnerability"},
		OwnedByAutomation: true,
	}

	decision := engine.Decide("W", grown, scoreOf(t, "W", grown), issue, false)
	assert.Equal(t, schemas.ActionUpdate, decision.Action)
	assert.Contains(t, decision.Content.Title, "Critical - 01")
}

func TestDecideBodyWithoutMarkerCountsAsChanged(t *testing.T) {
	engine := newEngine(t)
	records := []schemas.VulnerabilityRecord{
		record("W", "lodash", schemas.SeverityMedium, schemas.AlertOpen),
	}
	score := scoreOf(t, "W", records)
	rendered := engine.Decide("W", records, score, nil, false)

	issue := &schemas.TrackedIssue{
		ID:                7,
		IsOpen:            true,
		Title:             rendered.Content.Title,
		Body:              "hand-edited body with no marker",
		Labels:            []string{"security-Vulnerability"},
		OwnedByAutomation: true,
	}
	decision := engine.Decide("W", records, score, issue, false)
	assert.Equal(t, schemas.ActionUpdate, decision.Action)
}

func TestRenderingIsIdempotent(t *testing.T) {
	engine := newEngine(t)
	records := []schemas.VulnerabilityRecord{
		record("X", "b-pkg", schemas.SeverityHigh, schemas.AlertOpen),
		record("X", "a-pkg", schemas.SeverityHigh, schemas.AlertOpen),
	}
	score := scoreOf(t, "X", records)

	first := engine.Decide("X", records, score, nil, false)
	// Reversed input order must render byte-identical content.
	reversed := []schemas.VulnerabilityRecord{records[1], records[0]}
	second := engine.Decide("X", reversed, score, nil, false)

	if diff := cmp.Diff(first.Content, second.Content); diff != "" {
		t.Errorf("rendered content differs by input order (-first +second):\n%s", diff)
	}
	assert.Less(t, strings.Index(first.Content.Body, "a-pkg"), strings.Index(first.Content.Body, "b-pkg"))
}

func TestMergeLabelsPreservesManualLabels(t *testing.T) {
	engine := newEngine(t)
	merged := engine.MergeLabels([]string{"wontfix", "security-Vulnerability"})
	assert.Equal(t, []string{"wontfix", "security-Vulnerability"}, merged)

	merged = engine.MergeLabels([]string{"wontfix"})
	assert.Equal(t, []string{"wontfix", "security-Vulnerability"}, merged)
}
