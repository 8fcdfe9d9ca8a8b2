package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *AgentStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewAgentStore(dbPath, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func registerTestAgent(t *testing.T, s *AgentStore, id string) {
	t.Helper()
	ok, err := s.RegisterAgent(context.Background(), &Agent{
		ID:          id,
		Name:        "Builder",
		Type:        "generic-coding-agent",
		ChannelName: "agents-builder",
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStore_RegisterAgent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.RegisterAgent(ctx, &Agent{
		ID:          "agent-1",
		Name:        "Builder",
		Type:        "generic-coding-agent",
		ChannelName: "agents-builder",
		Metadata:    Meta{"version": "1.0", "tools": []string{"edit", "bash"}},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	agent, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Builder", agent.Name)
	assert.Equal(t, "agents-builder", agent.ChannelName)
	assert.Nil(t, agent.LastActive)
	assert.Equal(t, "1.0", agent.Metadata["version"])
}

func TestStore_RegisterAgent_Duplicate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")

	// Second registration with the same id reports false, not an error
	ok, err := s.RegisterAgent(ctx, &Agent{ID: "agent-1", Name: "Other", Type: "custom"})
	require.NoError(t, err)
	assert.False(t, ok)

	// Original row is untouched
	agent, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Builder", agent.Name)
}

func TestStore_GetAgent_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetAgent(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetAgent_MalformedTimestamp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET created_at = 'not-a-time' WHERE id = ?`, "agent-1")
	require.NoError(t, err)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	agent, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err, "a corrupted timestamp must not fail the read")
	assert.True(t, agent.CreatedAt.IsZero())
	assert.Contains(t, buf.String(), "malformed stored timestamp")
	assert.Contains(t, buf.String(), "not-a-time")
}

func TestStore_TouchAgent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")

	ok, err := s.TouchAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, ok)

	agent, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, agent.LastActive)
	assert.WithinDuration(t, time.Now(), *agent.LastActive, 5*time.Second)

	ok, err = s.TouchAgent(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CreateTask(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")

	ok, err := s.CreateTask(ctx, &Task{
		ID:          "task-1",
		AgentID:     "agent-1",
		Name:        "Build X",
		Description: "build the thing",
		Subtasks:    []string{"step1", "step2"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	task, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusActive, task.Status)
	assert.Equal(t, []string{"step1", "step2"}, task.Subtasks)
	assert.Nil(t, task.CompletedAt)
	assert.Nil(t, task.Progress)
}

func TestStore_CreateTask_UnknownAgent(t *testing.T) {
	s := setupTestStore(t)

	ok, err := s.CreateTask(context.Background(), &Task{
		ID:      "task-1",
		AgentID: "ghost",
		Name:    "Build X",
	})
	require.NoError(t, err)
	assert.False(t, ok, "foreign key to a missing agent should report false")
}

func TestStore_UpdateTaskProgress(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")
	ok, err := s.CreateTask(ctx, &Task{ID: "task-1", AgentID: "agent-1", Name: "Build X"})
	require.NoError(t, err)
	require.True(t, ok)

	progress := 50
	eta := "10m"
	ok, err = s.UpdateTaskProgress(ctx, "task-1", &progress, &eta, nil, []string{"waiting on CI"})
	require.NoError(t, err)
	assert.True(t, ok)

	task, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, task.Progress)
	assert.Equal(t, 50, *task.Progress)
	assert.Equal(t, "10m", task.EstimatedTime)
	assert.Equal(t, []string{"waiting on CI"}, task.Blockers)
}

func TestStore_UpdateTaskProgress_NoFields(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")
	ok, err := s.CreateTask(ctx, &Task{ID: "task-1", AgentID: "agent-1", Name: "Build X"})
	require.NoError(t, err)
	require.True(t, ok)

	// A no-op update still reports existence correctly and corrupts nothing
	ok, err = s.UpdateTaskProgress(ctx, "task-1", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateTaskProgress(ctx, "nonexistent", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	task, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusActive, task.Status)
	assert.Nil(t, task.Progress)
}

func TestStore_UpdateTaskProgress_InvalidStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")
	ok, err := s.CreateTask(ctx, &Task{ID: "task-1", AgentID: "agent-1", Name: "Build X"})
	require.NoError(t, err)
	require.True(t, ok)

	bogus := "exploded"
	_, err = s.UpdateTaskProgress(ctx, "task-1", nil, nil, &bogus, nil)
	assert.Error(t, err)
}

func TestStore_CompleteTask(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")
	ok, err := s.CreateTask(ctx, &Task{ID: "task-1", AgentID: "agent-1", Name: "Build X"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CompleteTask(ctx, "task-1", TaskStatusCompleted, "done",
		Meta{"files_created": []string{"x.go"}},
		Meta{"tests_passed": 12})
	require.NoError(t, err)
	assert.True(t, ok)

	task, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, task.Status)
	assert.Equal(t, "done", task.OutputSummary)
	require.NotNil(t, task.CompletedAt)
	assert.EqualValues(t, 12, task.Metrics["tests_passed"])
}

func TestStore_GetActiveTasks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")
	ok, err := s.RegisterAgent(ctx, &Agent{ID: "agent-2", Name: "Tester", Type: "custom"})
	require.NoError(t, err)
	require.True(t, ok)

	for i, agentID := range []string{"agent-1", "agent-1", "agent-2"} {
		ok, err := s.CreateTask(ctx, &Task{
			ID:      fmt.Sprintf("task-%d", i),
			AgentID: agentID,
			Name:    fmt.Sprintf("Task %d", i),
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err = s.CompleteTask(ctx, "task-0", TaskStatusCompleted, "done", nil, nil)
	require.NoError(t, err)
	require.True(t, ok)

	all, err := s.GetActiveTasks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.GetActiveTasks(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "task-1", mine[0].ID)
}

func TestStore_InputRequest_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")

	ok, err := s.CreateInputRequest(ctx, &InputRequest{
		ID:       "req-1",
		AgentID:  "agent-1",
		Question: "Deploy to prod?",
		Options:  []string{"yes", "no"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err := s.GetPendingRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, pending.IsAnswered)
	assert.Equal(t, 300, pending.TimeoutSeconds, "timeout defaults to 300")
	assert.Equal(t, []string{"yes", "no"}, pending.Options)

	ok, err = s.SaveUserResponse(ctx, "req-1", "yes", "ops@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	// Answered requests are no longer pending
	_, err = s.GetPendingRequest(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)

	answered, err := s.GetInputRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, answered.IsAnswered)
	require.NotNil(t, answered.Response)
	assert.Equal(t, "yes", *answered.Response)
	assert.Equal(t, "ops@example.com", answered.Responder)
	require.NotNil(t, answered.RespondedAt)
}

func TestStore_SaveUserResponse_SingleResolution(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")
	ok, err := s.CreateInputRequest(ctx, &InputRequest{ID: "req-1", AgentID: "agent-1", Question: "?"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SaveUserResponse(ctx, "req-1", "first", "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second resolution fails and the stored response is unchanged
	ok, err = s.SaveUserResponse(ctx, "req-1", "second", "")
	require.NoError(t, err)
	assert.False(t, ok)

	req, err := s.GetInputRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, req.Response)
	assert.Equal(t, "first", *req.Response)
}

func TestStore_SaveUserResponse_UnknownID(t *testing.T) {
	s := setupTestStore(t)

	ok, err := s.SaveUserResponse(context.Background(), "ghost", "hello", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SaveAgentMessage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")

	ok, err := s.SaveAgentMessage(ctx, &AgentMessage{
		ID:               "msg-1",
		AgentID:          "agent-1",
		Type:             "status",
		Content:          "working on it",
		ChannelMessageID: "42",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	msgs, err := s.ListAgentMessages(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "status", msgs[0].Type)
	assert.Equal(t, "42", msgs[0].ChannelMessageID)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	registerTestAgent(t, s, "agent-1")

	// Multiple goroutines appending rows concurrently must all succeed;
	// each write is its own short-lived statement with busy-retry.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.SaveAgentMessage(ctx, &AgentMessage{
				ID:      fmt.Sprintf("msg-%d", n),
				AgentID: "agent-1",
				Type:    "status",
				Content: "tick",
			})
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- fmt.Errorf("write %d reported duplicate", n)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write failed: %v", err)
	}

	msgs, err := s.ListAgentMessages(ctx, "agent-1", 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}

func TestMeta_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    Meta
		wantErr bool
	}{
		{"empty", Meta{}, false},
		{"scalars", Meta{"a": "x", "b": 1, "c": true, "d": 2.5}, false},
		{"string list", Meta{"files": []string{"a.go", "b.go"}}, false},
		{"nested", Meta{"inner": Meta{"k": "v"}}, false},
		{"nested plain map", Meta{"inner": map[string]any{"k": "v"}}, false},
		{"any list of strings", Meta{"files": []any{"a.go"}}, false},
		{"mixed list", Meta{"files": []any{"a.go", 1}}, true},
		{"struct value", Meta{"bad": struct{}{}}, true},
		{"bad nested", Meta{"inner": Meta{"bad": struct{}{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
