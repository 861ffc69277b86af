// File: internal/status/synchronizer_test.go
package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulnsync-cli/api/schemas"
	"github.com/xkilldash9x/vulnsync-cli/internal/config"
	"github.com/xkilldash9x/vulnsync-cli/internal/gateway"
)

// boardFake implements the Gateway project operations against an in-memory
// board. Issue operations are unused here.
type boardFake struct {
	gateway.Gateway

	raw      map[string]string // nodeID -> raw column value
	onBoard  map[string]bool
	setCalls []schemas.ProjectStatus
	addCalls int
}

func newBoardFake() *boardFake {
	return &boardFake{raw: map[string]string{}, onBoard: map[string]bool{}}
}

func (b *boardFake) GetProjectStatus(_ context.Context, nodeID, _, _ string) (schemas.ProjectStatus, string, error) {
	if !b.onBoard[nodeID] {
		return schemas.StatusUnknown, "", &gateway.Error{Kind: gateway.KindNotFound, Op: "getProjectStatus"}
	}
	raw := b.raw[nodeID]
	return schemas.NormalizeProjectStatus(raw), raw, nil
}

func (b *boardFake) AddToProject(_ context.Context, nodeID, _ string) error {
	b.onBoard[nodeID] = true
	b.addCalls++
	return nil
}

func (b *boardFake) SetProjectStatus(_ context.Context, nodeID, _, _ string, status schemas.ProjectStatus) error {
	b.setCalls = append(b.setCalls, status)
	b.raw[nodeID] = string(status)
	return nil
}

func newSynchronizer(gw gateway.Gateway, projectID string) *Synchronizer {
	retry := gateway.NewRetryPolicy(config.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, zap.NewNop())
	return New(gw, retry, config.IssueConfig{ProjectID: projectID, StatusField: "Status"}, zap.NewNop())
}

func TestSyncMovesOpenIssueToInProgress(t *testing.T) {
	fake := newBoardFake()
	fake.onBoard["node1"] = true
	fake.raw["node1"] = "To Do"
	s := newSynchronizer(fake, "proj1")

	mutation, err := s.Sync(context.Background(), schemas.TrackedIssue{ID: 1, NodeID: "node1"}, schemas.StatusInProgress)
	require.NoError(t, err)
	require.NotNil(t, mutation)
	assert.Equal(t, schemas.StatusTodo, mutation.From)
	assert.Equal(t, schemas.StatusInProgress, mutation.To)
}

func TestSyncIsIdempotent(t *testing.T) {
	fake := newBoardFake()
	fake.onBoard["node1"] = true
	fake.raw["node1"] = "In Progress"
	s := newSynchronizer(fake, "proj1")

	mutation, err := s.Sync(context.Background(), schemas.TrackedIssue{ID: 1, NodeID: "node1"}, schemas.StatusInProgress)
	require.NoError(t, err)
	assert.Nil(t, mutation)
	assert.Empty(t, fake.setCalls)
}

func TestSyncAddsMissingIssueToBoard(t *testing.T) {
	fake := newBoardFake()
	s := newSynchronizer(fake, "proj1")

	mutation, err := s.Sync(context.Background(), schemas.TrackedIssue{ID: 1, NodeID: "node1"}, schemas.StatusDone)
	require.NoError(t, err)
	require.NotNil(t, mutation)
	assert.Equal(t, 1, fake.addCalls)
	assert.Equal(t, schemas.StatusDone, mutation.To)
}

func TestSyncLeavesUnrecognizedColumnAlone(t *testing.T) {
	fake := newBoardFake()
	fake.onBoard["node1"] = true
	fake.raw["node1"] = "Waiting on vendor"
	s := newSynchronizer(fake, "proj1")

	mutation, err := s.Sync(context.Background(), schemas.TrackedIssue{ID: 1, NodeID: "node1"}, schemas.StatusDone)
	require.NoError(t, err)
	assert.Nil(t, mutation)
	assert.Empty(t, fake.setCalls, "an unmapped column must never be overwritten")
}

func TestSyncNeverSetsTodo(t *testing.T) {
	fake := newBoardFake()
	fake.onBoard["node1"] = true
	fake.raw["node1"] = "Done"
	s := newSynchronizer(fake, "proj1")

	mutation, err := s.Sync(context.Background(), schemas.TrackedIssue{ID: 1, NodeID: "node1"}, schemas.StatusTodo)
	require.NoError(t, err)
	assert.Nil(t, mutation)
	assert.Empty(t, fake.setCalls)
}

func TestSyncDisabledWithoutProject(t *testing.T) {
	fake := newBoardFake()
	s := newSynchronizer(fake, "")

	mutation, err := s.Sync(context.Background(), schemas.TrackedIssue{ID: 1, NodeID: "node1"}, schemas.StatusDone)
	require.NoError(t, err)
	assert.Nil(t, mutation)
	assert.False(t, s.Enabled())
}
