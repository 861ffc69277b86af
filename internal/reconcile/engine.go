// Package reconcile holds the per-repository decision logic and the runner
// that executes decisions against the tracker. The engine is pure: it turns
// the current vulnerability set and the matched issue into a single Decision,
// and performs no I/O of its own.
package reconcile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
	"github.com/xkilldash9x/vulnsync-cli/internal/titles"
)

// Decision is the engine's verdict for one repository.
type Decision struct {
	Repository string            `json:"repository"`
	Action     schemas.Action    `json:"action"`
	Score      schemas.RiskScore `json:"score"`

	// Content is the full rendered issue. Populated for create, update and
	// reopen (a reopened issue gets refreshed counts immediately).
	Content schemas.IssueContent `json:"content"`

	// Comment accompanies close and reopen actions.
	Comment string `json:"comment,omitempty"`

	// Issue is the matched tracking issue; nil when the action is create or
	// when the repository has no issue at all.
	Issue *schemas.TrackedIssue `json:"issue,omitempty"`

	// TargetStatus is the board column the issue should land in after the
	// action. StatusUnknown means leave the board alone.
	TargetStatus schemas.ProjectStatus `json:"target_status"`
}

// Engine computes reconciliation decisions. Safe for concurrent use.
type Engine struct {
	template *titles.Template
	labels   []config.LabelConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewEngine builds an engine from the shared title template and issue
// configuration.
func NewEngine(template *titles.Template, issues config.IssueConfig, logger *zap.Logger) *Engine {
	return &Engine{
		template: template,
		labels:   issues.Labels,
		now:      time.Now,
		logger:   logger.Named("engine"),
	}
}

// Decide runs the state machine for one repository.
//
// forceUpdate bypasses only the content-unchanged check on an open issue.
// It never widens what the engine will touch: an unowned issue stays
// untouchable no matter what flags are set.
func (e *Engine) Decide(repository string, records []schemas.VulnerabilityRecord, score schemas.RiskScore, matched *schemas.TrackedIssue, forceUpdate bool) Decision {
	decision := Decision{
		Repository: repository,
		Action:     schemas.ActionNoop,
		Score:      score,
		Issue:      matched,
	}

	open := score.OpenCount > 0

	switch {
	case matched == nil:
		if open {
			decision.Action = schemas.ActionCreate
			decision.Content = e.renderContent(repository, records, score)
			decision.TargetStatus = schemas.StatusInProgress
		}

	case matched.IsOpen:
		if !open {
			decision.Action = schemas.ActionClose
			decision.Comment = e.closeComment(records)
			decision.TargetStatus = schemas.StatusDone
			break
		}
		decision.Content = e.renderContent(repository, records, score)
		decision.TargetStatus = schemas.StatusInProgress
		if forceUpdate || e.contentChanged(matched, decision.Content) {
			decision.Action = schemas.ActionUpdate
		}

	default: // matched, closed
		if open {
			decision.Action = schemas.ActionReopen
			decision.Content = e.renderContent(repository, records, score)
			decision.Comment = e.reopenComment(records)
			decision.TargetStatus = schemas.StatusInProgress
		} else {
			decision.TargetStatus = schemas.StatusDone
		}
	}

	e.logger.Debug("Reconciliation decision",
		zap.String("repository", repository),
		zap.String("action", string(decision.Action)),
		zap.Int("score", score.Score),
		zap.Int("open", score.OpenCount))
	return decision
}

// ManagedLabels returns the labels the engine stamps onto every owned issue.
func (e *Engine) ManagedLabels() []config.LabelConfig {
	return e.labels
}

// MergeLabels combines the issue's existing labels with the automation's
// managed set. Merging is additive: labels a human added are never removed.
func (e *Engine) MergeLabels(existing []string) []string {
	seen := make(map[string]bool, len(existing)+len(e.labels))
	merged := make([]string, 0, len(existing)+len(e.labels))
	for _, name := range existing {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}
	for _, label := range e.labels {
		if !seen[label.Name] {
			seen[label.Name] = true
			merged = append(merged, label.Name)
		}
	}
	return merged
}

// summaryMarker is the machine-readable block embedded in every rendered
// body. The changed/unchanged comparison reads this block back instead of
// diffing freeform markdown.
var summaryMarkerPattern = regexp.MustCompile(`<!-- vulnsync:summary [^>]*-->`)

func renderSummaryMarker(repository string, score schemas.RiskScore) string {
	return fmt.Sprintf(
		"<!-- vulnsync:summary repository=%s critical=%d high=%d medium=%d low=%d open=%d -->",
		repository,
		score.Count(schemas.SeverityCritical),
		score.Count(schemas.SeverityHigh),
		score.Count(schemas.SeverityMedium),
		score.Count(schemas.SeverityLow),
		score.OpenCount,
	)
}

// contentChanged compares the rendered content against the live issue using
// the title and the embedded summary marker. A body without a marker (older
// format, or hand-edited away) always counts as changed.
func (e *Engine) contentChanged(issue *schemas.TrackedIssue, content schemas.IssueContent) bool {
	if issue.Title != content.Title {
		return true
	}
	current := summaryMarkerPattern.FindString(issue.Body)
	rendered := summaryMarkerPattern.FindString(content.Body)
	if current == "" || current != rendered {
		return true
	}
	for _, label := range e.labels {
		if !issue.HasLabel(label.Name) {
			return true
		}
	}
	return false
}

// renderContent produces the idempotent issue rendering: fixed section order,
// records sorted by severity rank then package name, no timestamps.
func (e *Engine) renderContent(repository string, records []schemas.VulnerabilityRecord, score schemas.RiskScore) schemas.IssueContent {
	openRecords := make([]schemas.VulnerabilityRecord, 0, len(records))
	for _, r := range records {
		if r.Repository == repository && r.IsOpen() {
			openRecords = append(openRecords, r)
		}
	}
	sortRecords(openRecords)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", renderSummaryMarker(repository, score))
	fmt.Fprintf(&b, "# Security Vulnerability Report for %s\n\n", repository)

	b.WriteString("## Vulnerability Summary\n")
	fmt.Fprintf(&b, "- **Total Open Vulnerabilities**: %d\n", score.OpenCount)
	fmt.Fprintf(&b, "- **Critical**: %d\n", score.Count(schemas.SeverityCritical))
	fmt.Fprintf(&b, "- **High**: %d\n", score.Count(schemas.SeverityHigh))
	fmt.Fprintf(&b, "- **Medium**: %d\n", score.Count(schemas.SeverityMedium))
	fmt.Fprintf(&b, "- **Low**: %d\n\n", score.Count(schemas.SeverityLow))

	b.WriteString("## Priority Actions Required\n\n### Critical & High Priority Issues\n")
	urgent := 0
	for _, r := range openRecords {
		if r.Severity != schemas.SeverityCritical && r.Severity != schemas.SeverityHigh {
			continue
		}
		urgent++
		fmt.Fprintf(&b, "\n**%s**: %s\n- **CVSS Score**: %.1f\n", r.Severity, r.Package, r.CVSSScore)
	}
	if urgent == 0 {
		b.WriteString("\nNo critical or high severity vulnerabilities found.\n")
	}

	b.WriteString("\n## All Vulnerabilities Details\n\n")
	b.WriteString("| Package | Severity | CVSS | Status |\n")
	b.WriteString("|---------|----------|------|--------|\n")
	for _, r := range openRecords {
		fmt.Fprintf(&b, "| %s | %s | %.1f | %s |\n", r.Package, r.Severity, r.CVSSScore, titleCase(string(r.State)))
	}

	b.WriteString("\n## Recommended Actions\n\n")
	b.WriteString("1. **Immediate**: Address all Critical and High severity vulnerabilities\n")
	b.WriteString("2. **Short-term**: Update vulnerable packages to secure versions\n")
	b.WriteString("3. **Long-term**: Implement automated dependency scanning in CI/CD pipeline\n")

	labels := make([]string, 0, len(e.labels))
	for _, label := range e.labels {
		labels = append(labels, label.Name)
	}

	return schemas.IssueContent{
		Title:  e.template.Render(repository, score.CountsBySeverity),
		Body:   b.String(),
		Labels: labels,
	}
}

// closeComment summarizes which vulnerabilities were fixed or dismissed. The
// verification timestamp is the one deliberately non-idempotent piece; it
// lives in a comment, never in the body the engine compares.
func (e *Engine) closeComment(records []schemas.VulnerabilityRecord) string {
	var fixed, dismissed []string
	for _, r := range records {
		switch r.State {
		case schemas.AlertFixed:
			fixed = append(fixed, r.Key())
		case schemas.AlertDismissed:
			dismissed = append(dismissed, r.Key())
		}
	}
	sort.Strings(fixed)
	sort.Strings(dismissed)

	var b strings.Builder
	b.WriteString("**All vulnerabilities tracked by this issue have been resolved.**\n\n")
	if len(fixed) > 0 {
		fmt.Fprintf(&b, "Fixed (%d):\n", len(fixed))
		for _, key := range fixed {
			fmt.Fprintf(&b, "- `%s`\n", key)
		}
	}
	if len(dismissed) > 0 {
		fmt.Fprintf(&b, "Dismissed (%d):\n", len(dismissed))
		for _, key := range dismissed {
			fmt.Fprintf(&b, "- `%s`\n", key)
		}
	}
	fmt.Fprintf(&b, "\nVerified on: %s\n\n", e.now().UTC().Format("2006-01-02 15:04:05"))
	b.WriteString("This issue is being closed automatically. If you believe this was closed in error, please reopen it.")
	return b.String()
}

// reopenComment lists which vulnerabilities regressed or reappeared.
func (e *Engine) reopenComment(records []schemas.VulnerabilityRecord) string {
	var open []string
	for _, r := range records {
		if r.IsOpen() {
			open = append(open, r.Key())
		}
	}
	sort.Strings(open)

	var b strings.Builder
	b.WriteString("**Open vulnerabilities were detected after this issue was closed.**\n\n")
	fmt.Fprintf(&b, "Regressed or new (%d):\n", len(open))
	for _, key := range open {
		fmt.Fprintf(&b, "- `%s`\n", key)
	}
	fmt.Fprintf(&b, "\nDetected on: %s\n", e.now().UTC().Format("2006-01-02 15:04:05"))
	return b.String()
}

func sortRecords(records []schemas.VulnerabilityRecord) {
	rank := make(map[schemas.Severity]int, len(schemas.SeverityOrder))
	for i, sev := range schemas.SeverityOrder {
		rank[sev] = i
	}
	sort.SliceStable(records, func(i, j int) bool {
		if rank[records[i].Severity] != rank[records[j].Severity] {
			return rank[records[i].Severity] < rank[records[j].Severity]
		}
		return records[i].Package < records[j].Package
	})
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
