package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		raw  string
		want Severity
	}{
		{"critical", SeverityCritical},
		{"CRITICAL", SeverityCritical},
		{" High ", SeverityHigh},
		{"Moderate", SeverityMedium},
		{"low", SeverityLow},
	}
	for _, tc := range cases {
		got, err := ParseSeverity(tc.raw)
		require.NoError(t, err, "raw=%q", tc.raw)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseSeverity("informational")
	assert.Error(t, err)
}

func TestParseAlertState(t *testing.T) {
	got, err := ParseAlertState("open")
	require.NoError(t, err)
	assert.Equal(t, AlertOpen, got)

	got, err = ParseAlertState("Resolved")
	require.NoError(t, err)
	assert.Equal(t, AlertFixed, got)

	_, err = ParseAlertState("snoozed")
	assert.Error(t, err)
}

func TestNormalizeProjectStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want ProjectStatus
	}{
		{"To Do", StatusTodo},
		{"todo", StatusTodo},
		{"to-do", StatusTodo},
		{"In Progress", StatusInProgress},
		{"in-progress", StatusInProgress},
		{"INPROGRESS", StatusInProgress},
		{"Done", StatusDone},
		{"Completed", StatusDone},
		{"Blocked", StatusUnknown},
		{"", StatusUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeProjectStatus(tc.raw), "raw=%q", tc.raw)
	}
}

func TestRiskScoreBand(t *testing.T) {
	assert.Equal(t, BandCritical, RiskScore{Score: 101}.Band())
	assert.Equal(t, BandCritical, RiskScore{Score: 50}.Band())
	assert.Equal(t, BandHigh, RiskScore{Score: 20}.Band())
	assert.Equal(t, BandMedium, RiskScore{Score: 5}.Band())
	assert.Equal(t, BandLow, RiskScore{Score: 4}.Band())
	assert.Equal(t, BandLow, RiskScore{Score: 0}.Band())
}

func TestVulnerabilityRecordKey(t *testing.T) {
	r := VulnerabilityRecord{Package: "lodash", Severity: SeverityHigh}
	assert.Equal(t, "lodash|HIGH", r.Key())
}
