// ABOUTME: Task lifecycle service: start, progress, completion and cancellation with channel notifications.
// ABOUTME: Persistence comes first; a task state change is never rolled back over a failed notification.

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/teamchat-mcp/internal/chat"
	"github.com/2389/teamchat-mcp/internal/comms"
	"github.com/2389/teamchat-mcp/internal/registry"
	"github.com/2389/teamchat-mcp/internal/store"
)

// ErrTaskNotActive indicates the task does not exist or is no longer in a
// state that accepts updates.
var ErrTaskNotActive = errors.New("task not found or not active")

// maxNotifiedFiles caps the file list in completion notifications.
const maxNotifiedFiles = 5

// taskTopic is the channel topic for task lifecycle messages.
const taskTopic = "tasks"

// Service drives the task lifecycle. All notifications go to the owning
// agent's channel; the store is the source of truth and is written before
// anything is sent.
type Service struct {
	store    *store.AgentStore
	registry *registry.Registry
	backend  chat.Backend
	logger   *slog.Logger
}

// New creates the task service.
func New(st *store.AgentStore, reg *registry.Registry, backend chat.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		registry: reg,
		backend:  backend,
		logger:   logger.With("component", "tasks"),
	}
}

// StartTask creates an active task for the agent and announces it. The task
// is persisted first; if that fails nothing is sent. The announcement itself
// is best-effort.
func (s *Service) StartTask(ctx context.Context, agentID, name, description string, subtasks []string, estimatedDuration string) (*store.Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("task name is required")
	}

	agent, err := s.registry.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	task := &store.Task{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		Name:          name,
		Description:   description,
		Subtasks:      subtasks,
		EstimatedTime: estimatedDuration,
	}

	ok, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("persisting task: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("persisting task: duplicate id")
	}

	s.logger.Info("task started",
		"task_id", task.ID,
		"agent_id", agentID,
		"name", name,
		"subtasks", len(subtasks),
	)

	var b strings.Builder
	fmt.Fprintf(&b, "🚀 **%s** started: **%s**", agent.Name, name)
	if description != "" {
		fmt.Fprintf(&b, "\n%s", description)
	}
	if len(subtasks) > 0 {
		b.WriteString("\n**Subtasks:**")
		for _, sub := range subtasks {
			fmt.Fprintf(&b, "\n- %s", sub)
		}
	}
	if estimatedDuration != "" {
		fmt.Fprintf(&b, "\n**Estimated:** %s", estimatedDuration)
	}
	s.notify(ctx, agent.ChannelName, b.String(), task.ID)

	return task, nil
}

// UpdateTaskProgress records progress on an active task and posts a progress
// card. Only active tasks accept updates; terminal tasks are immutable.
// The persisted update is not rolled back if the notification fails.
func (s *Service) UpdateTaskProgress(ctx context.Context, taskID string, progress *int, currentSubtask string, estimatedRemaining string, blockers []string) (*store.Task, error) {
	if progress != nil && (*progress < 0 || *progress > 100) {
		return nil, fmt.Errorf("progress %d out of range [0, 100]", *progress)
	}

	task, err := s.activeTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var remaining *string
	if estimatedRemaining != "" {
		remaining = &estimatedRemaining
	}

	ok, err := s.store.UpdateTaskProgress(ctx, taskID, progress, remaining, nil, blockers)
	if err != nil {
		return nil, fmt.Errorf("persisting progress: %w", err)
	}
	if !ok {
		return nil, ErrTaskNotActive
	}

	agent, err := s.registry.GetAgent(ctx, task.AgentID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 **%s** — %s", agent.Name, task.Name)
	if progress != nil {
		fmt.Fprintf(&b, "\n%s", comms.ProgressBar(*progress))
	}
	if currentSubtask != "" {
		fmt.Fprintf(&b, "\n**Now:** %s", currentSubtask)
	}
	if estimatedRemaining != "" {
		fmt.Fprintf(&b, "\n**Remaining:** %s", estimatedRemaining)
	}
	if len(blockers) > 0 {
		b.WriteString("\n🚧 **Blockers:**")
		for _, blocker := range blockers {
			fmt.Fprintf(&b, "\n- %s", blocker)
		}
	}
	s.notify(ctx, agent.ChannelName, b.String(), taskID)

	return s.store.GetTask(ctx, taskID)
}

// CompleteTask marks an active task completed or failed and posts a summary
// card. The file list in the notification is capped; everything is retained
// in storage.
func (s *Service) CompleteTask(ctx context.Context, taskID, summary string, success bool, outputs, metrics store.Meta) (*store.Task, error) {
	task, err := s.activeTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	finalStatus := store.TaskStatusCompleted
	if !success {
		finalStatus = store.TaskStatusFailed
	}

	ok, err := s.store.CompleteTask(ctx, taskID, finalStatus, summary, outputs, metrics)
	if err != nil {
		return nil, fmt.Errorf("persisting completion: %w", err)
	}
	if !ok {
		return nil, ErrTaskNotActive
	}

	agent, err := s.registry.GetAgent(ctx, task.AgentID)
	if err != nil {
		return nil, err
	}

	icon := "✅"
	if !success {
		icon = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** finished: **%s**", icon, agent.Name, task.Name)
	if summary != "" {
		fmt.Fprintf(&b, "\n%s", summary)
	}
	if files := fileList(outputs); len(files) > 0 {
		fmt.Fprintf(&b, "\n**Files:** %s", joinCapped(files, maxNotifiedFiles))
	}
	if len(metrics) > 0 {
		fmt.Fprintf(&b, "\n**Metrics:** %s", comms.MetaInline(metrics))
	}
	s.notify(ctx, agent.ChannelName, b.String(), taskID)

	return s.store.GetTask(ctx, taskID)
}

// CancelTask cancels an active task with a reason.
func (s *Service) CancelTask(ctx context.Context, taskID, reason string) (*store.Task, error) {
	task, err := s.activeTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.CancelTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("persisting cancellation: %w", err)
	}
	if !ok {
		return nil, ErrTaskNotActive
	}

	agent, err := s.registry.GetAgent(ctx, task.AgentID)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("🛑 **%s** cancelled: **%s**", agent.Name, task.Name)
	if reason != "" {
		msg += fmt.Sprintf("\nReason: %s", reason)
	}
	s.notify(ctx, agent.ChannelName, msg, taskID)

	return s.store.GetTask(ctx, taskID)
}

// Summary is the trimmed task view returned by GetActiveTasks: just enough
// to list what is running, without output payloads.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Progress    *int   `json:"progress,omitempty"`
	StartedAt   string `json:"started_at"`
}

// GetActiveTasks lists active tasks for one agent, or for all agents when
// agentID is empty.
func (s *Service) GetActiveTasks(ctx context.Context, agentID string) ([]Summary, error) {
	tasks, err := s.store.GetActiveTasks(ctx, agentID)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(tasks))
	for _, task := range tasks {
		summaries = append(summaries, Summary{
			ID:          task.ID,
			Name:        task.Name,
			Description: task.Description,
			Status:      task.Status,
			Progress:    task.Progress,
			StartedAt:   task.StartedAt.Format(time.RFC3339),
		})
	}
	return summaries, nil
}

// activeTask fetches the task and verifies it still accepts updates.
func (s *Service) activeTask(ctx context.Context, taskID string) (*store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotActive
	}
	if err != nil {
		return nil, err
	}
	if task.Status != store.TaskStatusActive && task.Status != store.TaskStatusPending {
		return nil, ErrTaskNotActive
	}
	return task, nil
}

// notify posts a lifecycle message best-effort.
func (s *Service) notify(ctx context.Context, channel, content, taskID string) {
	if channel == "" {
		return
	}
	if _, err := s.backend.SendToChannel(ctx, channel, taskTopic, content); err != nil {
		s.logger.Warn("task notification failed", "task_id", taskID, "error", err)
	}
}

// fileList extracts the "files" entry from an outputs Meta.
func fileList(outputs store.Meta) []string {
	if outputs == nil {
		return nil
	}
	switch v := outputs["files"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// joinCapped joins up to max entries, summarising the overflow.
func joinCapped(items []string, max int) string {
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s, +%d more", strings.Join(items[:max], ", "), len(items)-max)
}
