// Package match decides which tracker issues belong to the automation. The
// rule is deliberately strict: an issue is owned only when its title parses
// exactly against the configured template and names the repository being
// reconciled. Anything else, however similar it looks, is a human's issue and
// must never be touched.
package match

import (
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/titles"
)

// DuplicateIssue describes a surplus owned issue that lost the dedup and was
// excluded from reconciliation.
type DuplicateIssue struct {
	Repository string `json:"repository"`
	Issue      int64  `json:"issue"`
	KeptIssue  int64  `json:"kept_issue"`
	Title      string `json:"title"`
}

// Result is the matcher's verdict for one repository.
type Result struct {
	// Owned is the single canonical tracking issue, or nil when the
	// repository has none yet.
	Owned *schemas.TrackedIssue

	// Duplicates are surplus owned issues, most recent first. They are
	// reported, never mutated.
	Duplicates []DuplicateIssue
}

// Matcher applies the ownership rule.
type Matcher struct {
	template *titles.Template
	logger   *zap.Logger
}

func New(template *titles.Template, logger *zap.Logger) *Matcher {
	return &Matcher{template: template, logger: logger.Named("match")}
}

// Match scans a repository's issues for the automation's tracking issue.
//
// When several issues parse as owned (older runs, manual copies), the one
// with the most recent tracker update wins; ties break toward the lower issue
// number, which is the older issue. Open issues always outrank closed ones so
// a stale closed duplicate cannot shadow the live tracking issue.
func (m *Matcher) Match(repository string, issues []schemas.TrackedIssue) Result {
	var owned []schemas.TrackedIssue
	for _, issue := range issues {
		parsed, ok := m.template.Parse(issue.Title)
		if !ok {
			continue
		}
		if parsed.Repository != repository {
			// A title rendered for another repository; possible when issues
			// were transferred between repos. Not ours.
			m.logger.Debug("Title parses but names a different repository",
				zap.String("repository", repository),
				zap.String("title_repository", parsed.Repository),
				zap.Int64("issue", issue.ID))
			continue
		}
		issue := issue
		issue.Repository = repository
		issue.OwnedByAutomation = true
		owned = append(owned, issue)
	}

	if len(owned) == 0 {
		return Result{}
	}

	sort.SliceStable(owned, func(i, j int) bool {
		if owned[i].IsOpen != owned[j].IsOpen {
			return owned[i].IsOpen
		}
		if !owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
		}
		return owned[i].ID < owned[j].ID
	})

	canonical := owned[0]
	result := Result{Owned: &canonical}
	for _, dup := range owned[1:] {
		m.logger.Warn("Duplicate tracking issue found, skipping it",
			zap.String("repository", repository),
			zap.Int64("issue", dup.ID),
			zap.Int64("kept_issue", canonical.ID))
		result.Duplicates = append(result.Duplicates, DuplicateIssue{
			Repository: repository,
			Issue:      dup.ID,
			KeptIssue:  canonical.ID,
			Title:      dup.Title,
		})
	}
	return result
}
