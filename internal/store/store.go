// ABOUTME: Data types and errors for agent/task/input-request persistence.
// ABOUTME: Defines Agent, Task, InputRequest, AgentMessage and the Meta container.

package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrStorageLocked is returned after bounded retries against a busy database.
// Callers can test for it with errors.Is and decide to retry at a higher level.
var ErrStorageLocked = errors.New("storage locked")

// Task status values. A task is created active and leaves the active state
// exactly once, via completion or cancellation.
const (
	TaskStatusPending   = "pending"
	TaskStatusActive    = "active"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// ValidTaskStatus reports whether s is one of the enumerated task states.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Meta is an open bag of extra information attached to agents, tasks and
// input requests. Keys are strings; values are restricted to a small closed
// set of shapes so the bag stays JSON-round-trippable and type-checkable.
type Meta map[string]any

// Validate checks that every value in the bag has a permitted shape:
// string, bool, int, int64, float64, []string, or a nested Meta.
func (m Meta) Validate() error {
	for key, val := range m {
		switch v := val.(type) {
		case string, bool, int, int64, float64, nil:
		case []string:
		case []any:
			for _, item := range v {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("meta key %q: list values must be strings", key)
				}
			}
		case Meta:
			if err := v.Validate(); err != nil {
				return fmt.Errorf("meta key %q: %w", key, err)
			}
		case map[string]any:
			if err := Meta(v).Validate(); err != nil {
				return fmt.Errorf("meta key %q: %w", key, err)
			}
		default:
			return fmt.Errorf("meta key %q: unsupported value type %T", key, val)
		}
	}
	return nil
}

// Agent is a registered autonomous process. The row is never physically
// deleted; unregistering an agent is a soft operation.
type Agent struct {
	ID          string
	Name        string
	Type        string
	ChannelID   string // backend channel id, empty until provisioned
	ChannelName string // stable for the agent's lifetime once set
	IsPrivate   bool
	CreatedAt   time.Time
	LastActive  *time.Time
	Metadata    Meta
}

// Task is one unit of work an agent is executing.
type Task struct {
	ID            string
	AgentID       string
	Name          string
	Description   string
	Status        string
	Subtasks      []string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Progress      *int // 0-100
	EstimatedTime string
	OutputSummary string
	Outputs       Meta
	Metrics       Meta
	Blockers      []string
}

// InputRequest is a pending question posed to a human on behalf of an agent.
// Once answered it never reverts, and the stored response is immutable.
type InputRequest struct {
	ID             string
	AgentID        string
	Question       string
	Context        Meta
	Options        []string
	TimeoutSeconds int
	RequestedAt    time.Time
	Response       *string
	IsAnswered     bool
	RespondedAt    *time.Time
	Responder      string
}

// AgentMessage is an immutable log record of a notification sent on an
// agent's behalf. It correlates backend message ids to logical events.
type AgentMessage struct {
	ID               string
	AgentID          string
	Type             string // status, question, completion, error
	Content          string
	ChannelMessageID string
	SentAt           time.Time
}
