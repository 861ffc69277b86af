// Package gateway is the single boundary between the reconciler and the
// issue tracker. Everything behind the Gateway interface talks HTTP;
// everything in front of it is pure decision logic.
package gateway

import (
	"context"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
)

// Gateway executes issue, label and project-board operations against the
// tracker. Implementations must return *Error (or a context error) from every
// call so callers can classify failures uniformly.
type Gateway interface {
	// ListIssues returns all issues of a repository, open and closed.
	// Ownership is not decided here; the matcher does that.
	ListIssues(ctx context.Context, repo string) ([]schemas.TrackedIssue, error)

	// CreateIssue opens a new issue and returns its tracker view.
	CreateIssue(ctx context.Context, repo, title, body string, labels []string) (schemas.TrackedIssue, error)

	// UpdateIssue replaces title, body and the full label set of an issue.
	// Label merging policy is the caller's job; this call is mechanical.
	UpdateIssue(ctx context.Context, repo string, number int64, title, body string, labels []string) error

	// CloseIssue posts the resolution comment, then closes the issue.
	CloseIssue(ctx context.Context, repo string, number int64, comment string) error

	// ReopenIssue reopens the issue, then posts the regression comment.
	ReopenIssue(ctx context.Context, repo string, number int64, comment string) error

	// EnsureLabel creates the label in the repository if it does not already
	// exist, using color and description verbatim.
	EnsureLabel(ctx context.Context, repo, name, color, description string) error

	// AddToProject attaches an issue to the project board.
	AddToProject(ctx context.Context, issueNodeID, projectID string) error

	// GetProjectStatus reads the issue's current board column. The raw value
	// is returned alongside the normalized one so unrecognized columns can be
	// reported without being guessed at.
	GetProjectStatus(ctx context.Context, issueNodeID, projectID, fieldName string) (schemas.ProjectStatus, string, error)

	// SetProjectStatus moves the issue's board item to the given column.
	SetProjectStatus(ctx context.Context, issueNodeID, projectID, fieldName string, status schemas.ProjectStatus) error
}
