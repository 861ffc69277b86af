package schemas

import (
	"regexp"
	"strings"
	"time"
)

// -- Tracker Issue Schemas --

// ProjectStatus is the normalized project-board status column of an issue.
type ProjectStatus string

// Constants for the three recognized project-board columns.
const (
	StatusTodo       ProjectStatus = "TODO"        // Initial triage column; set manually, never by automation.
	StatusInProgress ProjectStatus = "IN_PROGRESS" // Work is (or should be) underway.
	StatusDone       ProjectStatus = "DONE"        // All vulnerabilities resolved.
	StatusUnknown    ProjectStatus = ""            // Unrecognized board value; left untouched.
)

// statusSynonyms maps punctuation-stripped, lowercased board values onto the
// canonical status enum.
var statusSynonyms = map[string]ProjectStatus{
	"todo":       StatusTodo,
	"open":       StatusTodo,
	"inprogress": StatusInProgress,
	"doing":      StatusInProgress,
	"done":       StatusDone,
	"complete":   StatusDone,
	"completed":  StatusDone,
	"closed":     StatusDone,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeProjectStatus maps a raw board value ("To Do", "in-progress",
// "DONE", ...) onto the canonical enum. Unrecognized values normalize to
// StatusUnknown; callers must treat that as "leave the board alone".
func NormalizeProjectStatus(raw string) ProjectStatus {
	key := nonAlnum.ReplaceAllString(strings.ToLower(raw), "")
	if status, ok := statusSynonyms[key]; ok {
		return status
	}
	return StatusUnknown
}

// TrackedIssue is this system's view of one tracker issue.
type TrackedIssue struct {
	ID         int64  `json:"id"`         // Issue number within the repository.
	NodeID     string `json:"node_id"`    // Global node ID, required for project mutations.
	Repository string `json:"repository"` // Repository key parsed from the title, if owned.

	Title  string   `json:"title"`   // Current issue title.
	Body   string   `json:"body"`    // Current issue body.
	IsOpen bool     `json:"is_open"` // Whether the issue is open.
	Labels []string `json:"labels"`  // All labels currently on the issue.

	ProjectStatus ProjectStatus `json:"project_status"` // Normalized board column.
	RawStatus     string        `json:"raw_status"`     // Board value as reported by the tracker.

	UpdatedAt time.Time `json:"updated_at"` // Last modification time, used for duplicate tie-breaks.

	// OwnedByAutomation is true only when the title matches the canonical
	// generated format for a known scope repository. It gates every mutation.
	OwnedByAutomation bool `json:"owned_by_automation"`
}

// HasLabel reports whether the issue carries the given label.
func (i TrackedIssue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// -- Reconciliation Schemas --

// Action is the mutation the reconciliation engine decided on for one
// repository.
type Action string

// Constants for the reconciliation actions.
const (
	ActionCreate Action = "create" // Open a new tracking issue.
	ActionUpdate Action = "update" // Refresh title/body/labels of the open issue.
	ActionClose  Action = "close"  // Close the issue; everything is resolved.
	ActionReopen Action = "reopen" // Reopen a closed issue; vulnerabilities regressed.
	ActionNoop   Action = "noop"   // Nothing to do.
)

// IssueContent is the idempotent rendering of a tracking issue. Rendering the
// same record set twice yields byte-identical content, which is what makes
// the changed/unchanged comparison meaningful.
type IssueContent struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"` // Automation-managed labels only; merging is additive.
}

// StatusMutation describes a pending project-board change for one issue.
// A nil target means the board is already aligned and nothing is emitted.
type StatusMutation struct {
	IssueNodeID string        `json:"issue_node_id"`
	ProjectID   string        `json:"project_id"`
	From        ProjectStatus `json:"from"`
	To          ProjectStatus `json:"to"`
}
