// File: internal/reconcile/runner_test.go
package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
	"github.com/xkilldash9x/vulnsync-cli/internal/gateway"
	"github.com/xkilldash9x/vulnsync-cli/internal/titles"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// trackerFake is an in-memory tracker: issues, labels and a project board.
// It is deliberately stateful so a second run observes the first run's
// mutations, which is what the idempotence tests need.
type trackerFake struct {
	mu sync.Mutex

	issues map[string][]*schemas.TrackedIssue // repo -> issues
	labels map[string]map[string]bool         // repo -> label names
	board  map[string]string                  // nodeID -> raw column

	nextNumber int64
	mutations  []string

	failList map[string]error // repo -> error returned by ListIssues
	failOnce map[string]error // op -> error returned exactly once
}

func newTrackerFake() *trackerFake {
	return &trackerFake{
		issues:     map[string][]*schemas.TrackedIssue{},
		labels:     map[string]map[string]bool{},
		board:      map[string]string{},
		nextNumber: 100,
		failList:   map[string]error{},
		failOnce:   map[string]error{},
	}
}

func (f *trackerFake) record(op string) {
	f.mutations = append(f.mutations, op)
}

func (f *trackerFake) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mutations)
}

func (f *trackerFake) takeFailOnce(op string) error {
	if err, ok := f.failOnce[op]; ok {
		delete(f.failOnce, op)
		return err
	}
	return nil
}

func (f *trackerFake) ListIssues(_ context.Context, repo string) ([]schemas.TrackedIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failList[repo]; err != nil {
		return nil, err
	}
	out := make([]schemas.TrackedIssue, 0, len(f.issues[repo]))
	for _, issue := range f.issues[repo] {
		out = append(out, *issue)
	}
	return out, nil
}

func (f *trackerFake) CreateIssue(_ context.Context, repo, title, body string, labels []string) (schemas.TrackedIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailOnce("createIssue"); err != nil {
		return schemas.TrackedIssue{}, err
	}
	f.nextNumber++
	issue := &schemas.TrackedIssue{
		ID:        f.nextNumber,
		NodeID:    "node-" + repo,
		Title:     title,
		Body:      body,
		IsOpen:    true,
		Labels:    append([]string(nil), labels...),
		UpdatedAt: time.Now(),
	}
	f.issues[repo] = append(f.issues[repo], issue)
	f.record("createIssue")
	return *issue, nil
}

func (f *trackerFake) find(repo string, number int64) *schemas.TrackedIssue {
	for _, issue := range f.issues[repo] {
		if issue.ID == number {
			return issue
		}
	}
	return nil
}

func (f *trackerFake) UpdateIssue(_ context.Context, repo string, number int64, title, body string, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue := f.find(repo, number)
	if issue == nil {
		return &gateway.Error{Kind: gateway.KindNotFound, Op: "updateIssue"}
	}
	issue.Title, issue.Body, issue.Labels = title, body, append([]string(nil), labels...)
	f.record("updateIssue")
	return nil
}

func (f *trackerFake) CloseIssue(_ context.Context, repo string, number int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue := f.find(repo, number)
	if issue == nil {
		return &gateway.Error{Kind: gateway.KindNotFound, Op: "closeIssue"}
	}
	issue.IsOpen = false
	f.record("closeIssue")
	return nil
}

func (f *trackerFake) ReopenIssue(_ context.Context, repo string, number int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue := f.find(repo, number)
	if issue == nil {
		return &gateway.Error{Kind: gateway.KindNotFound, Op: "reopenIssue"}
	}
	issue.IsOpen = true
	f.record("reopenIssue")
	return nil
}

func (f *trackerFake) EnsureLabel(_ context.Context, repo, name, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labels[repo] == nil {
		f.labels[repo] = map[string]bool{}
	}
	if !f.labels[repo][name] {
		f.labels[repo][name] = true
		f.record("createLabel")
	}
	return nil
}

func (f *trackerFake) AddToProject(_ context.Context, nodeID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.board[nodeID]; !ok {
		f.board[nodeID] = ""
	}
	f.record("addToProject")
	return nil
}

func (f *trackerFake) GetProjectStatus(_ context.Context, nodeID, _, _ string) (schemas.ProjectStatus, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.board[nodeID]
	if !ok {
		return schemas.StatusUnknown, "", &gateway.Error{Kind: gateway.KindNotFound, Op: "getProjectStatus"}
	}
	return schemas.NormalizeProjectStatus(raw), raw, nil
}

func (f *trackerFake) SetProjectStatus(_ context.Context, nodeID, _, _ string, status schemas.ProjectStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch status {
	case schemas.StatusInProgress:
		f.board[nodeID] = "In Progress"
	case schemas.StatusDone:
		f.board[nodeID] = "Done"
	default:
		f.board[nodeID] = string(status)
	}
	f.record("setProjectStatus")
	return nil
}

var _ gateway.Gateway = (*trackerFake)(nil)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Issues.ProjectID = "proj1"
	cfg.Reconciler.Retry.InitialInterval = time.Millisecond
	cfg.Reconciler.Retry.MaxInterval = 2 * time.Millisecond
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, gw gateway.Gateway) *Runner {
	t.Helper()
	tpl, err := titles.New(cfg.Issues.TitleFormat)
	require.NoError(t, err)
	return NewRunner(cfg, gw, tpl, zap.NewNop())
}

func TestRunCreatesIssueAndSyncsBoard(t *testing.T) {
	fake := newTrackerFake()
	runner := newRunner(t, testConfig(), fake)
	records := []schemas.VulnerabilityRecord{
		record("X", "lodash", schemas.SeverityCritical, schemas.AlertOpen),
		record("X", "minimist", schemas.SeverityCritical, schemas.AlertOpen),
		record("X", "qs", schemas.SeverityLow, schemas.AlertOpen),
	}

	summary, err := runner.Run(context.Background(), []string{"X"}, records, Options{Scope: "all"})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)

	result := summary.Results[0]
	assert.Equal(t, schemas.ActionCreate, result.Action)
	assert.Equal(t, 101, result.Score)
	assert.Equal(t, schemas.BandCritical, result.Band)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.StatusMutation)
	assert.Equal(t, schemas.StatusInProgress, result.StatusMutation.To)
	assert.Equal(t, 0, summary.ExitCode())

	issue := fake.issues["X"][0]
	assert.Contains(t, issue.Title, "Critical - 02")
	assert.Contains(t, issue.Title, "Low - 01")
	assert.True(t, fake.labels["X"]["security-Vulnerability"])
	assert.Equal(t, "In Progress", fake.board[issue.NodeID])
}

func TestRunClosesResolvedIssueAndMovesToDone(t *testing.T) {
	cfg := testConfig()
	fake := newTrackerFake()
	runner := newRunner(t, cfg, fake)

	// Previous run's state: open owned issue, board in progress.
	open := []schemas.VulnerabilityRecord{record("Y", "lodash", schemas.SeverityHigh, schemas.AlertOpen)}
	_, err := runner.Run(context.Background(), []string{"Y"}, open, Options{})
	require.NoError(t, err)

	resolved := []schemas.VulnerabilityRecord{record("Y", "lodash", schemas.SeverityHigh, schemas.AlertFixed)}
	summary, err := runner.Run(context.Background(), []string{"Y"}, resolved, Options{})
	require.NoError(t, err)

	result := summary.Results[0]
	assert.Equal(t, schemas.ActionClose, result.Action)
	issue := fake.issues["Y"][0]
	assert.False(t, issue.IsOpen)
	assert.Equal(t, "Done", fake.board[issue.NodeID])
}

func TestRunReopensOnRegression(t *testing.T) {
	cfg := testConfig()
	fake := newTrackerFake()
	runner := newRunner(t, cfg, fake)

	open := []schemas.VulnerabilityRecord{record("Z", "openssl", schemas.SeverityHigh, schemas.AlertOpen)}
	_, err := runner.Run(context.Background(), []string{"Z"}, open, Options{})
	require.NoError(t, err)
	resolved := []schemas.VulnerabilityRecord{record("Z", "openssl", schemas.SeverityHigh, schemas.AlertFixed)}
	_, err = runner.Run(context.Background(), []string{"Z"}, resolved, Options{})
	require.NoError(t, err)

	regressed := []schemas.VulnerabilityRecord{record("Z", "openssl", schemas.SeverityCritical, schemas.AlertOpen)}
	summary, err := runner.Run(context.Background(), []string{"Z"}, regressed, Options{})
	require.NoError(t, err)

	result := summary.Results[0]
	assert.Equal(t, schemas.ActionReopen, result.Action)
	issue := fake.issues["Z"][0]
	assert.True(t, issue.IsOpen)
	assert.Contains(t, issue.Title, "Critical - 01")
	assert.Equal(t, "In Progress", fake.board[issue.NodeID])
}

func TestSecondRunIsAllNoops(t *testing.T) {
	fake := newTrackerFake()
	runner := newRunner(t, testConfig(), fake)
	records := []schemas.VulnerabilityRecord{
		record("W", "lodash", schemas.SeverityMedium, schemas.AlertOpen),
	}

	_, err := runner.Run(context.Background(), []string{"W"}, records, Options{})
	require.NoError(t, err)
	before := fake.mutationCount()

	summary, err := runner.Run(context.Background(), []string{"W"}, records, Options{})
	require.NoError(t, err)

	assert.Equal(t, schemas.ActionNoop, summary.Results[0].Action)
	assert.Zero(t, summary.Mutations)
	assert.Equal(t, before, fake.mutationCount(), "an unchanged second run must not touch the tracker")
}

func TestRunNeverMutatesUnownedIssues(t *testing.T) {
	fake := newTrackerFake()
	humanIssue := &schemas.TrackedIssue{
		ID:     33,
		NodeID: "node-human",
		Title:  "V - Fix all dependabot issues", // Close, but not the template.
		IsOpen: true,
	}
	fake.issues["V"] = append(fake.issues["V"], humanIssue)
	runner := newRunner(t, testConfig(), fake)

	records := []schemas.VulnerabilityRecord{record("V", "lodash", schemas.SeverityLow, schemas.AlertOpen)}
	summary, err := runner.Run(context.Background(), []string{"V"}, records, Options{ForceUpdate: true})
	require.NoError(t, err)

	// The automation creates its own issue and leaves the human's alone.
	assert.Equal(t, schemas.ActionCreate, summary.Results[0].Action)
	assert.Equal(t, "V - Fix all dependabot issues", humanIssue.Title)
	assert.True(t, humanIssue.IsOpen)
	require.Len(t, fake.issues["V"], 2)
}

func TestRunIsolatesPerRepositoryFailures(t *testing.T) {
	fake := newTrackerFake()
	fake.failList["broken"] = &gateway.Error{Kind: gateway.KindPermissionDenied, Op: "listIssues"}
	runner := newRunner(t, testConfig(), fake)

	records := []schemas.VulnerabilityRecord{record("ok", "lodash", schemas.SeverityLow, schemas.AlertOpen)}
	summary, err := runner.Run(context.Background(), []string{"broken", "ok"}, records, Options{})
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 2, summary.ExitCode())

	byRepo := map[string]RepoResult{}
	for _, result := range summary.Results {
		byRepo[result.Repository] = result
	}
	assert.NotEmpty(t, byRepo["broken"].Error)
	assert.Empty(t, byRepo["ok"].Error)
	assert.Equal(t, schemas.ActionCreate, byRepo["ok"].Action)
}

func TestRunRetriesRateLimitedCreate(t *testing.T) {
	fake := newTrackerFake()
	fake.failOnce["createIssue"] = &gateway.Error{
		Kind:       gateway.KindRateLimited,
		Op:         "createIssue",
		RetryAfter: 5 * time.Millisecond,
	}
	runner := newRunner(t, testConfig(), fake)

	records := []schemas.VulnerabilityRecord{record("V", "lodash", schemas.SeverityLow, schemas.AlertOpen)}
	summary, err := runner.Run(context.Background(), []string{"V"}, records, Options{})
	require.NoError(t, err)

	assert.Equal(t, schemas.ActionCreate, summary.Results[0].Action)
	assert.Empty(t, summary.Results[0].Error)
	assert.Len(t, fake.issues["V"], 1, "the retry must not duplicate the issue")
}

func TestRunDryRunRecordsWithoutMutating(t *testing.T) {
	fake := newTrackerFake()
	dry := gateway.NewDryRunGateway(fake, zap.NewNop())
	runner := newRunner(t, testConfig(), dry)

	records := []schemas.VulnerabilityRecord{record("X", "lodash", schemas.SeverityCritical, schemas.AlertOpen)}
	summary, err := runner.Run(context.Background(), []string{"X"}, records, Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, schemas.ActionCreate, summary.Results[0].Action)
	assert.Negative(t, summary.Results[0].Issue)
	assert.NotEmpty(t, summary.Planned)
	assert.Zero(t, fake.mutationCount(), "dry run must not reach the tracker")
	assert.Empty(t, fake.issues["X"])
}

func TestRunHonorsCancellation(t *testing.T) {
	fake := newTrackerFake()
	runner := newRunner(t, testConfig(), fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, []string{"X"}, nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
