// File: internal/reconcile/runner.go
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
	"github.com/xkilldash9x/vulnsync-cli/internal/gateway"
	"github.com/xkilldash9x/vulnsync-cli/internal/match"
	"github.com/xkilldash9x/vulnsync-cli/internal/scoring"
	"github.com/xkilldash9x/vulnsync-cli/internal/status"
	"github.com/xkilldash9x/vulnsync-cli/internal/titles"
)

// RepoResult is the outcome of reconciling one repository.
type RepoResult struct {
	Repository string         `json:"repository"`
	Action     schemas.Action `json:"action"`

	Score     int              `json:"score"`
	Band      schemas.RiskBand `json:"band"`
	OpenCount int              `json:"open_count"`

	// Issue is the tracking issue number, zero when the repository has none.
	// Dry-run created issues carry synthetic negative numbers.
	Issue int64 `json:"issue,omitempty"`

	StatusMutation *schemas.StatusMutation `json:"status_mutation,omitempty"`
	Duplicates     []match.DuplicateIssue  `json:"duplicates,omitempty"`

	// Error is the failure reason; empty on success. Failures are isolated
	// per repository and never abort the run.
	Error string `json:"error,omitempty"`
}

// RunSummary is the structured end-of-run report. Every repository in the
// scope appears exactly once, succeeded or not.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Scope     string        `json:"scope"`
	DryRun    bool          `json:"dry_run"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Repositories int `json:"repositories"`
	Mutations    int `json:"mutations"`
	Failures     int `json:"failures"`

	Results []RepoResult              `json:"results"`
	Planned []gateway.PlannedMutation `json:"planned,omitempty"` // Dry-run only.
}

// ExitCode maps the summary onto the process exit code: 0 when every
// repository reconciled, 2 when at least one failed.
func (s RunSummary) ExitCode() int {
	if s.Failures > 0 {
		return 2
	}
	return 0
}

// Options are the per-run knobs from the CLI.
type Options struct {
	Scope       string
	DryRun      bool
	ForceUpdate bool
}

// Runner drives reconciliation across a scope's repositories with a bounded
// worker pool. Repositories are independent units of work; the only shared
// resource is the gateway's rate budget, which the gateway itself arbitrates.
type Runner struct {
	gw          gateway.Gateway
	retry       *gateway.RetryPolicy
	engine      *Engine
	matcher     *match.Matcher
	scorer      *scoring.Scorer
	statusSync  *status.Synchronizer
	labels      []config.LabelConfig
	concurrency int
	logger      *zap.Logger
}

// NewRunner wires the reconciliation pipeline. The gateway may already be
// wrapped for dry-run; the runner does not care.
func NewRunner(cfg *config.Config, gw gateway.Gateway, template *titles.Template, logger *zap.Logger) *Runner {
	retry := gateway.NewRetryPolicy(cfg.Reconciler.Retry, logger)
	return &Runner{
		gw:          gw,
		retry:       retry,
		engine:      NewEngine(template, cfg.Issues, logger),
		matcher:     match.New(template, logger),
		scorer:      scoring.New(cfg.Reconciler),
		statusSync:  status.New(gw, retry, cfg.Issues, logger),
		labels:      cfg.Issues.Labels,
		concurrency: cfg.Reconciler.Concurrency,
		logger:      logger.Named("runner"),
	}
}

// Run reconciles every repository in the scope against the given records.
// A context cancellation aborts outstanding work and surfaces as the run
// error; per-repository failures do not.
func (r *Runner) Run(ctx context.Context, repositories []string, records []schemas.VulnerabilityRecord, opts Options) (RunSummary, error) {
	summary := RunSummary{
		RunID:        uuid.NewString(),
		Scope:        opts.Scope,
		DryRun:       opts.DryRun,
		StartedAt:    time.Now().UTC(),
		Repositories: len(repositories),
	}

	r.logger.Info("Reconciliation run starting",
		zap.String("run_id", summary.RunID),
		zap.String("scope", opts.Scope),
		zap.Int("repositories", len(repositories)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("force_update", opts.ForceUpdate))

	byRepo := make(map[string][]schemas.VulnerabilityRecord, len(repositories))
	for _, record := range records {
		byRepo[record.Repository] = append(byRepo[record.Repository], record)
	}

	var mu sync.Mutex
	results := make([]RepoResult, 0, len(repositories))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)
	for _, repository := range repositories {
		repository := repository
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result := r.reconcileRepository(ctx, repository, byRepo[repository], opts)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			// Cancellation is the one failure that stops the run.
			if result.Error != "" && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	runErr := group.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Repository < results[j].Repository
	})
	summary.Results = results
	summary.Duration = time.Since(summary.StartedAt)
	for _, result := range results {
		if result.Error != "" {
			summary.Failures++
			continue
		}
		if result.Action != schemas.ActionNoop {
			summary.Mutations++
		}
		if result.StatusMutation != nil {
			summary.Mutations++
		}
	}
	if dry, ok := r.gw.(*gateway.DryRunGateway); ok {
		summary.Planned = dry.Planned()
	}

	r.logger.Info("Reconciliation run finished",
		zap.String("run_id", summary.RunID),
		zap.Duration("duration", summary.Duration),
		zap.Int("mutations", summary.Mutations),
		zap.Int("failures", summary.Failures))
	return summary, runErr
}

func (r *Runner) reconcileRepository(ctx context.Context, repository string, records []schemas.VulnerabilityRecord, opts Options) RepoResult {
	score := r.scorer.Score(repository, records)
	result := RepoResult{
		Repository: repository,
		Action:     schemas.ActionNoop,
		Score:      score.Score,
		Band:       score.Band(),
		OpenCount:  score.OpenCount,
	}

	var issues []schemas.TrackedIssue
	err := r.retry.Do(ctx, "listIssues", func() error {
		var err error
		issues, err = r.gw.ListIssues(ctx, repository)
		return err
	})
	if err != nil {
		result.Error = err.Error()
		r.logger.Error("Failed to list issues",
			zap.String("repository", repository), zap.Error(err))
		return result
	}

	matched := r.matcher.Match(repository, issues)
	result.Duplicates = matched.Duplicates
	if matched.Owned != nil {
		result.Issue = matched.Owned.ID
	}

	decision := r.engine.Decide(repository, records, score, matched.Owned, opts.ForceUpdate)
	result.Action = decision.Action

	issue, err := r.execute(ctx, repository, decision)
	if err != nil {
		result.Error = err.Error()
		r.logger.Error("Reconciliation failed",
			zap.String("repository", repository),
			zap.String("action", string(decision.Action)),
			zap.Error(err))
		return result
	}
	if issue != nil {
		result.Issue = issue.ID

		// Issue mutations execute strictly before the board mutation for
		// the same repository; status follows from the issue's final state.
		mutation, err := r.statusSync.Sync(ctx, *issue, decision.TargetStatus)
		if err != nil {
			result.Error = err.Error()
			r.logger.Error("Project status sync failed",
				zap.String("repository", repository), zap.Error(err))
			return result
		}
		result.StatusMutation = mutation
	}
	return result
}

// execute applies the decision and returns the issue in its post-action
// state, or nil when the repository has no issue.
func (r *Runner) execute(ctx context.Context, repository string, decision Decision) (*schemas.TrackedIssue, error) {
	switch decision.Action {
	case schemas.ActionNoop:
		return decision.Issue, nil

	case schemas.ActionCreate:
		if err := r.ensureLabels(ctx, repository); err != nil {
			return nil, err
		}
		var created schemas.TrackedIssue
		err := r.retry.Do(ctx, "createIssue", func() error {
			var err error
			created, err = r.gw.CreateIssue(ctx, repository, decision.Content.Title, decision.Content.Body, decision.Content.Labels)
			return err
		})
		if err != nil {
			return nil, err
		}
		created.Repository = repository
		created.OwnedByAutomation = true
		return &created, nil

	case schemas.ActionUpdate:
		labels := r.engine.MergeLabels(decision.Issue.Labels)
		err := r.retry.Do(ctx, "updateIssue", func() error {
			return r.gw.UpdateIssue(ctx, repository, decision.Issue.ID, decision.Content.Title, decision.Content.Body, labels)
		})
		if err != nil {
			return nil, err
		}
		updated := *decision.Issue
		updated.Title = decision.Content.Title
		updated.Body = decision.Content.Body
		updated.Labels = labels
		return &updated, nil

	case schemas.ActionClose:
		err := r.retry.Do(ctx, "closeIssue", func() error {
			return r.gw.CloseIssue(ctx, repository, decision.Issue.ID, decision.Comment)
		})
		if err != nil {
			return nil, err
		}
		closed := *decision.Issue
		closed.IsOpen = false
		return &closed, nil

	case schemas.ActionReopen:
		err := r.retry.Do(ctx, "reopenIssue", func() error {
			return r.gw.ReopenIssue(ctx, repository, decision.Issue.ID, decision.Comment)
		})
		if err != nil {
			return nil, err
		}
		// A reopened issue immediately gets refreshed counts; the regression
		// comment explains the why, the body carries the what.
		labels := r.engine.MergeLabels(decision.Issue.Labels)
		err = r.retry.Do(ctx, "updateIssue", func() error {
			return r.gw.UpdateIssue(ctx, repository, decision.Issue.ID, decision.Content.Title, decision.Content.Body, labels)
		})
		if err != nil {
			return nil, err
		}
		reopened := *decision.Issue
		reopened.IsOpen = true
		reopened.Title = decision.Content.Title
		reopened.Body = decision.Content.Body
		reopened.Labels = labels
		return &reopened, nil
	}
	return decision.Issue, nil
}

func (r *Runner) ensureLabels(ctx context.Context, repository string) error {
	for _, label := range r.labels {
		label := label
		err := r.retry.Do(ctx, "ensureLabel", func() error {
			return r.gw.EnsureLabel(ctx, repository, label.Name, label.Color, label.Description)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
