// File: internal/gateway/dryrun.go
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
)

// PlannedMutation is one write the engine would have performed.
type PlannedMutation struct {
	Op         string `json:"op"`
	Repository string `json:"repository,omitempty"`
	Issue      int64  `json:"issue,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// DryRunGateway wraps a real gateway: reads pass through so planning sees the
// live state, writes are recorded instead of executed. Safe for concurrent
// use.
type DryRunGateway struct {
	inner  Gateway
	logger *zap.Logger

	mu      sync.Mutex
	planned []PlannedMutation
	nextID  int64
}

func NewDryRunGateway(inner Gateway, logger *zap.Logger) *DryRunGateway {
	return &DryRunGateway{
		inner:  inner,
		logger: logger.Named("dryrun"),
		nextID: -1,
	}
}

// Planned returns a copy of the recorded mutations in the order they were
// requested.
func (d *DryRunGateway) Planned() []PlannedMutation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PlannedMutation, len(d.planned))
	copy(out, d.planned)
	return out
}

func (d *DryRunGateway) record(m PlannedMutation) {
	d.mu.Lock()
	d.planned = append(d.planned, m)
	d.mu.Unlock()
	d.logger.Info("Planned mutation (dry run)",
		zap.String("op", m.Op),
		zap.String("repository", m.Repository),
		zap.Int64("issue", m.Issue),
		zap.String("detail", m.Detail))
}

func (d *DryRunGateway) ListIssues(ctx context.Context, repo string) ([]schemas.TrackedIssue, error) {
	return d.inner.ListIssues(ctx, repo)
}

// CreateIssue records the creation and fabricates a placeholder issue so the
// rest of the plan (status sync, summaries) can still refer to it. Synthetic
// issues get negative numbers, which no real issue can carry.
func (d *DryRunGateway) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (schemas.TrackedIssue, error) {
	d.mu.Lock()
	id := d.nextID
	d.nextID--
	d.mu.Unlock()

	d.record(PlannedMutation{
		Op:         "createIssue",
		Repository: repo,
		Issue:      id,
		Detail:     title,
	})
	return schemas.TrackedIssue{
		ID:                id,
		NodeID:            "dryrun-" + uuid.NewString(),
		Repository:        repo,
		Title:             title,
		Body:              body,
		IsOpen:            true,
		Labels:            labels,
		OwnedByAutomation: true,
	}, nil
}

func (d *DryRunGateway) UpdateIssue(ctx context.Context, repo string, number int64, title, body string, labels []string) error {
	d.record(PlannedMutation{
		Op:         "updateIssue",
		Repository: repo,
		Issue:      number,
		Detail:     title,
	})
	return nil
}

func (d *DryRunGateway) CloseIssue(ctx context.Context, repo string, number int64, comment string) error {
	d.record(PlannedMutation{Op: "closeIssue", Repository: repo, Issue: number})
	return nil
}

func (d *DryRunGateway) ReopenIssue(ctx context.Context, repo string, number int64, comment string) error {
	d.record(PlannedMutation{Op: "reopenIssue", Repository: repo, Issue: number})
	return nil
}

func (d *DryRunGateway) EnsureLabel(ctx context.Context, repo, name, color, description string) error {
	d.record(PlannedMutation{
		Op:         "ensureLabel",
		Repository: repo,
		Detail:     fmt.Sprintf("%s (#%s)", name, color),
	})
	return nil
}

func (d *DryRunGateway) AddToProject(ctx context.Context, issueNodeID, projectID string) error {
	d.record(PlannedMutation{Op: "addToProject", Detail: issueNodeID})
	return nil
}

// GetProjectStatus passes through for real issues. Synthetic issues created
// during this dry run are not on any board yet, so they read as unknown.
func (d *DryRunGateway) GetProjectStatus(ctx context.Context, issueNodeID, projectID, fieldName string) (schemas.ProjectStatus, string, error) {
	if len(issueNodeID) > 7 && issueNodeID[:7] == "dryrun-" {
		return schemas.StatusUnknown, "", &Error{
			Kind: KindNotFound,
			Op:   "getProjectStatus",
			Err:  fmt.Errorf("synthetic dry-run issue has no project item"),
		}
	}
	return d.inner.GetProjectStatus(ctx, issueNodeID, projectID, fieldName)
}

func (d *DryRunGateway) SetProjectStatus(ctx context.Context, issueNodeID, projectID, fieldName string, status schemas.ProjectStatus) error {
	d.record(PlannedMutation{
		Op:     "setProjectStatus",
		Detail: fmt.Sprintf("%s -> %s", issueNodeID, status),
	})
	return nil
}

var _ Gateway = (*DryRunGateway)(nil)
