// File: internal/gateway/github.go
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v58/github"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const listPageSize = 100

// GitHubGateway implements Gateway against the GitHub REST API (issues,
// labels) and the GraphQL API (Projects V2, which REST does not cover).
//
// All calls share a single token-bucket rate limiter: repositories are
// reconciled in parallel, but the tracker's per-token budget is one shared
// resource.
type GitHubGateway struct {
	client     *github.Client
	httpClient *http.Client
	graphqlURL string
	org        string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewGitHubGateway builds a gateway from configuration. An empty BaseURL
// targets github.com; anything else is treated as a GitHub Enterprise
// instance.
func NewGitHubGateway(cfg config.GitHubConfig, logger *zap.Logger) (*GitHubGateway, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required (set VULNSYNC_GITHUB_TOKEN)")
	}
	if cfg.Org == "" {
		return nil, fmt.Errorf("github.org is required")
	}

	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	graphqlURL := "https://api.github.com/graphql"
	if cfg.BaseURL != "" {
		base := strings.TrimSuffix(cfg.BaseURL, "/")
		var err error
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, fmt.Errorf("invalid github.base_url: %w", err)
		}
		graphqlURL = base + "/api/graphql"
	}

	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &GitHubGateway{
		client:     client,
		httpClient: client.Client(),
		graphqlURL: graphqlURL,
		org:        cfg.Org,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		logger:     logger.Named("github"),
	}, nil
}

// wait blocks until the shared rate budget admits one more request.
func (g *GitHubGateway) wait(ctx context.Context, op string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	g.logger.Debug("Gateway request admitted", zap.String("op", op))
	return nil
}

// ListIssues returns every issue (open and closed) of one repository.
// Pull requests share the issues endpoint and are filtered out.
func (g *GitHubGateway) ListIssues(ctx context.Context, repo string) ([]schemas.TrackedIssue, error) {
	const op = "listIssues"

	var out []schemas.TrackedIssue
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: listPageSize},
	}
	for {
		if err := g.wait(ctx, op); err != nil {
			return nil, err
		}
		issues, resp, err := g.client.Issues.ListByRepo(ctx, g.org, repo, opts)
		if err != nil {
			return nil, classify(op, err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, toTrackedIssue(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CreateIssue opens a new issue.
func (g *GitHubGateway) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (schemas.TrackedIssue, error) {
	const op = "createIssue"
	if err := g.wait(ctx, op); err != nil {
		return schemas.TrackedIssue{}, err
	}

	issue, _, err := g.client.Issues.Create(ctx, g.org, repo, &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &labels,
	})
	if err != nil {
		return schemas.TrackedIssue{}, classify(op, err)
	}
	return toTrackedIssue(issue), nil
}

// UpdateIssue replaces the title, body and label set of an issue.
func (g *GitHubGateway) UpdateIssue(ctx context.Context, repo string, number int64, title, body string, labels []string) error {
	const op = "updateIssue"
	if err := g.wait(ctx, op); err != nil {
		return err
	}

	_, _, err := g.client.Issues.Edit(ctx, g.org, repo, int(number), &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &labels,
	})
	return classify(op, err)
}

// CloseIssue posts a resolution comment and closes the issue. The comment
// lands first so a failure between the two steps leaves an open issue with an
// explanatory trail rather than a silent close.
func (g *GitHubGateway) CloseIssue(ctx context.Context, repo string, number int64, comment string) error {
	const op = "closeIssue"

	if comment != "" {
		if err := g.comment(ctx, op, repo, number, comment); err != nil {
			return err
		}
	}
	if err := g.wait(ctx, op); err != nil {
		return err
	}
	_, _, err := g.client.Issues.Edit(ctx, g.org, repo, int(number), &github.IssueRequest{
		State: github.String("closed"),
	})
	return classify(op, err)
}

// ReopenIssue reopens the issue and then posts the regression comment.
func (g *GitHubGateway) ReopenIssue(ctx context.Context, repo string, number int64, comment string) error {
	const op = "reopenIssue"

	if err := g.wait(ctx, op); err != nil {
		return err
	}
	_, _, err := g.client.Issues.Edit(ctx, g.org, repo, int(number), &github.IssueRequest{
		State: github.String("open"),
	})
	if err != nil {
		return classify(op, err)
	}
	if comment == "" {
		return nil
	}
	return g.comment(ctx, op, repo, number, comment)
}

func (g *GitHubGateway) comment(ctx context.Context, op, repo string, number int64, body string) error {
	if err := g.wait(ctx, op); err != nil {
		return err
	}
	_, _, err := g.client.Issues.CreateComment(ctx, g.org, repo, int(number), &github.IssueComment{
		Body: github.String(body),
	})
	return classify(op, err)
}

// EnsureLabel creates the label if it does not exist yet. Color and
// description are passed through verbatim; validation happened at config
// load.
func (g *GitHubGateway) EnsureLabel(ctx context.Context, repo, name, color, description string) error {
	const op = "ensureLabel"

	if err := g.wait(ctx, op); err != nil {
		return err
	}
	_, _, err := g.client.Issues.GetLabel(ctx, g.org, repo, name)
	if err == nil {
		return nil
	}
	if KindOf(classify(op, err)) != KindNotFound {
		return classify(op, err)
	}

	if err := g.wait(ctx, op); err != nil {
		return err
	}
	_, _, err = g.client.Issues.CreateLabel(ctx, g.org, repo, &github.Label{
		Name:        github.String(name),
		Color:       github.String(color),
		Description: github.String(description),
	})
	return classify(op, err)
}

func toTrackedIssue(issue *github.Issue) schemas.TrackedIssue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return schemas.TrackedIssue{
		ID:        int64(issue.GetNumber()),
		NodeID:    issue.GetNodeID(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		IsOpen:    issue.GetState() == "open",
		Labels:    labels,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
}

// -- Projects V2 (GraphQL) --
//
// The REST API has no Projects V2 surface, so board reads and writes go
// through GraphQL directly, reusing the authenticated HTTP client.

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (g *GitHubGateway) graphql(ctx context.Context, op, query string, variables map[string]any, out any) error {
	if err := g.wait(ctx, op); err != nil {
		return err
	}

	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindPermissionDenied, Op: op, Err: fmt.Errorf("graphql status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("graphql status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return &Error{Kind: KindInvalidInput, Op: op, Err: fmt.Errorf("graphql status %d", resp.StatusCode)}
	}

	var envelope struct {
		Data   jsoniter.RawMessage `json:"data"`
		Errors []graphqlError      `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		kind := KindInvalidInput
		if strings.EqualFold(first.Type, "NOT_FOUND") {
			kind = KindNotFound
		}
		return &Error{Kind: kind, Op: op, Err: fmt.Errorf("graphql: %s", first.Message)}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &Error{Kind: KindTransient, Op: op, Err: err}
		}
	}
	return nil
}

const projectItemQuery = `
query($nodeId: ID!, $field: String!) {
  node(id: $nodeId) {
    ... on Issue {
      projectItems(first: 10) {
        nodes {
          id
          project { id }
          fieldValueByName(name: $field) {
            ... on ProjectV2ItemFieldSingleSelectValue { name }
          }
        }
      }
    }
  }
}`

const statusFieldQuery = `
query($projectId: ID!, $name: String!) {
  node(id: $projectId) {
    ... on ProjectV2 {
      field(name: $name) {
        ... on ProjectV2SingleSelectField {
          id
          options { id name }
        }
      }
    }
  }
}`

const addToProjectMutation = `
mutation($projectId: ID!, $contentId: ID!) {
  addProjectV2ItemById(input: {projectId: $projectId, contentId: $contentId}) {
    item { id }
  }
}`

const setStatusMutation = `
mutation($projectId: ID!, $itemId: ID!, $fieldId: ID!, $valueId: String!) {
  updateProjectV2ItemFieldValue(input: {
    projectId: $projectId
    itemId: $itemId
    fieldId: $fieldId
    value: {singleSelectOptionId: $valueId}
  }) {
    projectV2Item { id }
  }
}`

type projectItem struct {
	ID        string
	RawStatus string
}

// findProjectItem locates the issue's item on the given project and its
// current raw status value.
func (g *GitHubGateway) findProjectItem(ctx context.Context, op, issueNodeID, projectID, fieldName string) (*projectItem, error) {
	var result struct {
		Node struct {
			ProjectItems struct {
				Nodes []struct {
					ID      string `json:"id"`
					Project struct {
						ID string `json:"id"`
					} `json:"project"`
					FieldValueByName struct {
						Name string `json:"name"`
					} `json:"fieldValueByName"`
				} `json:"nodes"`
			} `json:"projectItems"`
		} `json:"node"`
	}
	err := g.graphql(ctx, op, projectItemQuery, map[string]any{
		"nodeId": issueNodeID,
		"field":  fieldName,
	}, &result)
	if err != nil {
		return nil, err
	}
	for _, node := range result.Node.ProjectItems.Nodes {
		if node.Project.ID == projectID {
			return &projectItem{ID: node.ID, RawStatus: node.FieldValueByName.Name}, nil
		}
	}
	return nil, &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("issue is not on project %s", projectID)}
}

// AddToProject attaches the issue to the project board.
func (g *GitHubGateway) AddToProject(ctx context.Context, issueNodeID, projectID string) error {
	const op = "addToProject"
	return g.graphql(ctx, op, addToProjectMutation, map[string]any{
		"projectId": projectID,
		"contentId": issueNodeID,
	}, nil)
}

// GetProjectStatus reads the issue's current board column.
func (g *GitHubGateway) GetProjectStatus(ctx context.Context, issueNodeID, projectID, fieldName string) (schemas.ProjectStatus, string, error) {
	const op = "getProjectStatus"
	item, err := g.findProjectItem(ctx, op, issueNodeID, projectID, fieldName)
	if err != nil {
		return schemas.StatusUnknown, "", err
	}
	return schemas.NormalizeProjectStatus(item.RawStatus), item.RawStatus, nil
}

// SetProjectStatus moves the issue's board item to the column whose option
// name normalizes to the requested status.
func (g *GitHubGateway) SetProjectStatus(ctx context.Context, issueNodeID, projectID, fieldName string, status schemas.ProjectStatus) error {
	const op = "setProjectStatus"

	item, err := g.findProjectItem(ctx, op, issueNodeID, projectID, fieldName)
	if err != nil {
		return err
	}

	var field struct {
		Node struct {
			Field struct {
				ID      string `json:"id"`
				Options []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"options"`
			} `json:"field"`
		} `json:"node"`
	}
	err = g.graphql(ctx, op, statusFieldQuery, map[string]any{
		"projectId": projectID,
		"name":      fieldName,
	}, &field)
	if err != nil {
		return err
	}
	if field.Node.Field.ID == "" {
		return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("project has no single-select field %q", fieldName)}
	}

	optionID := ""
	for _, option := range field.Node.Field.Options {
		if schemas.NormalizeProjectStatus(option.Name) == status {
			optionID = option.ID
			break
		}
	}
	if optionID == "" {
		return &Error{Kind: KindInvalidInput, Op: op, Err: fmt.Errorf("project field %q has no option for status %s", fieldName, status)}
	}

	return g.graphql(ctx, op, setStatusMutation, map[string]any{
		"projectId": projectID,
		"itemId":    item.ID,
		"fieldId":   field.Node.Field.ID,
		"valueId":   optionID,
	}, nil)
}

// compile-time interface check
var _ Gateway = (*GitHubGateway)(nil)
