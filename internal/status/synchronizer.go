// Package status aligns the project-board column of a tracking issue with
// its tracker state: open issues belong in IN_PROGRESS, closed issues in
// DONE. The automation never moves anything to TODO; that column is manual
// triage territory.
package status

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
	"github.com/xkilldash9x/vulnsync-cli/internal/gateway"
)

// Synchronizer performs idempotent board mutations through the gateway.
type Synchronizer struct {
	gw        gateway.Gateway
	retry     *gateway.RetryPolicy
	projectID string
	fieldName string
	logger    *zap.Logger
}

func New(gw gateway.Gateway, retry *gateway.RetryPolicy, issues config.IssueConfig, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		gw:        gw,
		retry:     retry,
		projectID: issues.ProjectID,
		fieldName: issues.StatusField,
		logger:    logger.Named("status"),
	}
}

// Enabled reports whether board synchronization is configured at all.
func (s *Synchronizer) Enabled() bool {
	return s.projectID != ""
}

// Sync moves the issue's board item to target. It returns the mutation it
// performed, or nil when the board was already aligned (or had to be left
// alone). Issues not yet on the board are added first.
func (s *Synchronizer) Sync(ctx context.Context, issue schemas.TrackedIssue, target schemas.ProjectStatus) (*schemas.StatusMutation, error) {
	if !s.Enabled() || issue.NodeID == "" {
		return nil, nil
	}
	if target == schemas.StatusUnknown || target == schemas.StatusTodo {
		return nil, nil
	}

	var current schemas.ProjectStatus
	var raw string
	err := s.retry.Do(ctx, "getProjectStatus", func() error {
		var err error
		current, raw, err = s.gw.GetProjectStatus(ctx, issue.NodeID, s.projectID, s.fieldName)
		return err
	})
	onBoard := true
	if err != nil {
		if gateway.KindOf(err) != gateway.KindNotFound {
			return nil, err
		}
		onBoard = false
	}

	if !onBoard {
		err := s.retry.Do(ctx, "addToProject", func() error {
			return s.gw.AddToProject(ctx, issue.NodeID, s.projectID)
		})
		if err != nil {
			return nil, err
		}
		current, raw = schemas.StatusUnknown, ""
	}

	// A board value we cannot map (custom column, renamed option) is left
	// exactly where a human put it.
	if raw != "" && current == schemas.StatusUnknown {
		s.logger.Warn("Unrecognized project status, leaving board untouched",
			zap.String("repository", issue.Repository),
			zap.Int64("issue", issue.ID),
			zap.String("raw_status", raw))
		return nil, nil
	}

	if current == target {
		return nil, nil
	}

	err = s.retry.Do(ctx, "setProjectStatus", func() error {
		return s.gw.SetProjectStatus(ctx, issue.NodeID, s.projectID, s.fieldName, target)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Project status updated",
		zap.String("repository", issue.Repository),
		zap.Int64("issue", issue.ID),
		zap.String("from", string(current)),
		zap.String("to", string(target)))

	return &schemas.StatusMutation{
		IssueNodeID: issue.NodeID,
		ProjectID:   s.projectID,
		From:        current,
		To:          target,
	}, nil
}
