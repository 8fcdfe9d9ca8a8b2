// ABOUTME: MCP tool definitions exposing the agent communication and task lifecycle operations.
// ABOUTME: Handlers translate service errors into the {status:"error"} envelope; nothing leaks raw.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/teamchat-mcp/internal/chat"
	"github.com/2389/teamchat-mcp/internal/comms"
	"github.com/2389/teamchat-mcp/internal/presence"
	"github.com/2389/teamchat-mcp/internal/registry"
	"github.com/2389/teamchat-mcp/internal/store"
	"github.com/2389/teamchat-mcp/internal/tasks"
)

// ToolHandler executes one tool call. A returned error becomes a structured
// {"status":"error"} envelope; it never surfaces as a JSON-RPC failure.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one entry in the MCP tools/list catalog.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     ToolHandler
}

// Toolset binds the service layer to the MCP tool catalog.
type Toolset struct {
	registry *registry.Registry
	comms    *comms.Service
	tasks    *tasks.Service
	gate     *presence.Gate
	backend  chat.Backend
	logger   *slog.Logger

	tools []Tool
	index map[string]*Tool
}

// NewToolset builds the full tool catalog over the given services.
func NewToolset(reg *registry.Registry, cs *comms.Service, ts *tasks.Service, gate *presence.Gate, backend chat.Backend, logger *slog.Logger) *Toolset {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Toolset{
		registry: reg,
		comms:    cs,
		tasks:    ts,
		gate:     gate,
		backend:  backend,
		logger:   logger.With("component", "tools"),
	}
	t.tools = t.buildCatalog()
	t.index = make(map[string]*Tool, len(t.tools))
	for i := range t.tools {
		t.index[t.tools[i].Name] = &t.tools[i]
	}
	return t
}

// Tools returns the catalog in registration order.
func (t *Toolset) Tools() []Tool {
	return t.tools
}

// Lookup finds a tool by name.
func (t *Toolset) Lookup(name string) (*Tool, bool) {
	tool, ok := t.index[name]
	return tool, ok
}

// Call executes a tool and always produces a JSON envelope. Service errors
// are folded into {"status":"error","error":...} so agent-facing callers get
// a structured result either way.
func (t *Toolset) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, bool, error) {
	tool, ok := t.index[name]
	if !ok {
		return nil, false, fmt.Errorf("unknown tool %q", name)
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		t.logger.Warn("tool call failed", "tool", name, "error", err)
		envelope, mErr := json.Marshal(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		if mErr != nil {
			return nil, false, mErr
		}
		return envelope, true, nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("encoding tool result: %w", err)
	}
	return payload, false, nil
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (t *Toolset) buildCatalog() []Tool {
	return []Tool{
		{
			Name:        "register_agent",
			Description: "Register an agent and provision its communication channel. Returns the agent id used by every other tool.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Human-readable agent name"},
					"agent_type": {"type": "string", "enum": ["generic-coding-agent", "code-reviewer", "test-runner", "custom"]},
					"private": {"type": "boolean", "description": "Create the channel as invite-only"},
					"metadata": {"type": "object"}
				},
				"required": ["name"]
			}`),
			Handler: t.handleRegisterAgent,
		},
		{
			Name:        "unregister_agent",
			Description: "Announce that an agent is signing off. The agent record and its channel are retained.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {"type": "string"},
					"archive": {"type": "boolean"}
				},
				"required": ["agent_id"]
			}`),
			Handler: t.handleUnregisterAgent,
		},
		{
			Name:        "update_agent_status",
			Description: "Record agent activity and post a short status line to the agent's channel.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {"type": "string"},
					"status": {"type": "string"},
					"current_task": {"type": "string"}
				},
				"required": ["agent_id", "status"]
			}`),
			Handler: t.handleUpdateAgentStatus,
		},
		{
			Name:        "agent_message",
			Description: "Send a notification to the human. Delivered only while the human is AFK; otherwise skipped without side effects.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {"type": "string"},
					"message_type": {"type": "string", "enum": ["status", "question", "completion", "error"]},
					"content": {"type": "string"},
					"metadata": {"type": "object", "description": "Optional task/progress/duration/files fields rendered under the message"}
				},
				"required": ["agent_id", "message_type", "content"]
			}`),
			Handler: t.handleAgentMessage,
		},
		{
			Name:        "request_user_input",
			Description: "Ask the human a question with optional numbered options. Returns a request id immediately; pair with wait_for_response.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {"type": "string"},
					"question": {"type": "string"},
					"context": {"type": "object"},
					"options": {"type": "array", "items": {"type": "string"}},
					"timeout_seconds": {"type": "integer", "description": "Defaults to 300"}
				},
				"required": ["agent_id", "question"]
			}`),
			Handler: t.handleRequestUserInput,
		},
		{
			Name:        "wait_for_response",
			Description: "Block until an input request is answered or the timeout elapses. A timeout is not an error; the request stays answerable.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"request_id": {"type": "string"},
					"timeout_seconds": {"type": "integer"}
				},
				"required": ["request_id"]
			}`),
			Handler: t.handleWaitForResponse,
		},
		{
			Name:        "answer_input_request",
			Description: "Record the human's answer to a pending input request. A bare option number is resolved to the option text.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"request_id": {"type": "string"},
					"response": {"type": "string"},
					"responder": {"type": "string"}
				},
				"required": ["request_id", "response"]
			}`),
			Handler: t.handleAnswerInputRequest,
		},
		{
			Name:        "send_agent_status",
			Description: "Broadcast a status card (working/waiting/blocked/idle) with optional progress bar and ETA. Not gated by AFK.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {"type": "string"},
					"status": {"type": "string", "enum": ["working", "waiting", "blocked", "idle"]},
					"current_task": {"type": "string"},
					"progress": {"type": "integer", "minimum": 0, "maximum": 100},
					"eta": {"type": "string"}
				},
				"required": ["agent_id", "status"]
			}`),
			Handler: t.handleSendAgentStatus,
		},
		{
			Name:        "start_task",
			Description: "Start tracking a multi-step task for an agent and announce it on the agent's channel.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {"type": "string"},
					"name": {"type": "string"},
					"description": {"type": "string"},
					"subtasks": {"type": "array", "items": {"type": "string"}},
					"estimated_duration": {"type": "string"}
				},
				"required": ["agent_id", "name"]
			}`),
			Handler: t.handleStartTask,
		},
		{
			Name:        "update_task_progress",
			Description: "Update progress on an active task. Terminal tasks reject updates.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "string"},
					"progress": {"type": "integer", "minimum": 0, "maximum": 100},
					"current_subtask": {"type": "string"},
					"estimated_remaining": {"type": "string"},
					"blockers": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["task_id"]
			}`),
			Handler: t.handleUpdateTaskProgress,
		},
		{
			Name:        "complete_task",
			Description: "Finish a task with a summary, outputs and metrics. success=false records the failed outcome.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "string"},
					"summary": {"type": "string"},
					"success": {"type": "boolean", "default": true},
					"outputs": {"type": "object"},
					"metrics": {"type": "object"}
				},
				"required": ["task_id", "summary"]
			}`),
			Handler: t.handleCompleteTask,
		},
		{
			Name:        "cancel_task",
			Description: "Cancel an active task with a reason.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "string"},
					"reason": {"type": "string"}
				},
				"required": ["task_id"]
			}`),
			Handler: t.handleCancelTask,
		},
		{
			Name:        "list_active_tasks",
			Description: "List active tasks for one agent, or for all agents when agent_id is omitted.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {"type": "string"}
				}
			}`),
			Handler: t.handleListActiveTasks,
		},
		{
			Name:        "afk_activate",
			Description: "Mark the human as away. Agent notifications are delivered while AFK is active.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"reason": {"type": "string"},
					"auto_return_hours": {"type": "number", "description": "Automatically return after this many hours; 0 disables"}
				}
			}`),
			Handler: t.handleAFKActivate,
		},
		{
			Name:        "afk_deactivate",
			Description: "Mark the human as back at the keyboard.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler:     t.handleAFKDeactivate,
		},
		{
			Name:        "afk_toggle",
			Description: "Flip the AFK state.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"reason": {"type": "string"},
					"auto_return_hours": {"type": "number"}
				}
			}`),
			Handler: t.handleAFKToggle,
		},
		{
			Name:        "afk_status",
			Description: "Report the current AFK state, including time away and any auto-return window.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler:     t.handleAFKStatus,
		},
		{
			Name:        "send_channel_message",
			Description: "Send a raw markdown message to any channel and topic.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"channel": {"type": "string"},
					"topic": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["channel", "content"]
			}`),
			Handler: t.handleSendChannelMessage,
		},
	}
}

func (t *Toolset) handleRegisterAgent(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Name      string     `json:"name"`
		AgentType string     `json:"agent_type"`
		Private   bool       `json:"private"`
		Metadata  store.Meta `json:"metadata"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	agent, err := t.registry.RegisterAgent(ctx, in.Name, in.AgentType, in.Private, in.Metadata)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status":       "ok",
		"agent_id":     agent.ID,
		"name":         agent.Name,
		"agent_type":   agent.Type,
		"channel_name": agent.ChannelName,
	}, nil
}

func (t *Toolset) handleUnregisterAgent(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentID string `json:"agent_id"`
		Archive bool   `json:"archive"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	if err := t.registry.UnregisterAgent(ctx, in.AgentID, in.Archive); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

func (t *Toolset) handleUpdateAgentStatus(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentID     string `json:"agent_id"`
		Status      string `json:"status"`
		CurrentTask string `json:"current_task"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	if err := t.registry.UpdateAgentStatus(ctx, in.AgentID, in.Status, in.CurrentTask, true); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

func (t *Toolset) handleAgentMessage(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentID     string     `json:"agent_id"`
		MessageType string     `json:"message_type"`
		Content     string     `json:"content"`
		Metadata    store.Meta `json:"metadata"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	outcome, err := t.comms.AgentMessage(ctx, in.AgentID, in.MessageType, in.Content, in.Metadata)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"status": outcome.Status}
	if outcome.Reason != "" {
		result["reason"] = outcome.Reason
	}
	if outcome.MessageID != "" {
		result["message_id"] = outcome.MessageID
		result["channel_message_id"] = outcome.ChannelMessageID
	}
	return result, nil
}

func (t *Toolset) handleRequestUserInput(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentID        string     `json:"agent_id"`
		Question       string     `json:"question"`
		Context        store.Meta `json:"context"`
		Options        []string   `json:"options"`
		TimeoutSeconds int        `json:"timeout_seconds"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	requestID, err := t.comms.RequestUserInput(ctx, in.AgentID, in.Question, in.Context, in.Options, in.TimeoutSeconds)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "request_id": requestID}, nil
}

func (t *Toolset) handleWaitForResponse(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		RequestID      string `json:"request_id"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	response, answered, err := t.comms.WaitForResponse(ctx, in.RequestID, time.Duration(in.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	if !answered {
		return map[string]any{"status": "timeout", "answered": false}, nil
	}
	return map[string]any{"status": "ok", "answered": true, "response": response}, nil
}

func (t *Toolset) handleAnswerInputRequest(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		RequestID string `json:"request_id"`
		Response  string `json:"response"`
		Responder string `json:"responder"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	resolved, err := t.comms.HandleUserResponse(ctx, in.RequestID, in.Response, in.Responder)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "response": resolved}, nil
}

func (t *Toolset) handleSendAgentStatus(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentID     string `json:"agent_id"`
		Status      string `json:"status"`
		CurrentTask string `json:"current_task"`
		Progress    *int   `json:"progress"`
		ETA         string `json:"eta"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	if err := t.comms.SendAgentStatus(ctx, in.AgentID, in.Status, in.CurrentTask, in.Progress, in.ETA); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

func (t *Toolset) handleStartTask(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentID           string   `json:"agent_id"`
		Name              string   `json:"name"`
		Description       string   `json:"description"`
		Subtasks          []string `json:"subtasks"`
		EstimatedDuration string   `json:"estimated_duration"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	task, err := t.tasks.StartTask(ctx, in.AgentID, in.Name, in.Description, in.Subtasks, in.EstimatedDuration)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":      "ok",
		"task_id":     task.ID,
		"task_status": task.Status,
		"started_at":  task.StartedAt.Format(time.RFC3339),
	}, nil
}

func (t *Toolset) handleUpdateTaskProgress(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		TaskID             string   `json:"task_id"`
		Progress           *int     `json:"progress"`
		CurrentSubtask     string   `json:"current_subtask"`
		EstimatedRemaining string   `json:"estimated_remaining"`
		Blockers           []string `json:"blockers"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	task, err := t.tasks.UpdateTaskProgress(ctx, in.TaskID, in.Progress, in.CurrentSubtask, in.EstimatedRemaining, in.Blockers)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"status": "ok", "task_id": task.ID, "task_status": task.Status}
	if task.Progress != nil {
		result["progress"] = *task.Progress
	}
	return result, nil
}

func (t *Toolset) handleCompleteTask(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		TaskID  string     `json:"task_id"`
		Summary string     `json:"summary"`
		Success *bool      `json:"success"`
		Outputs store.Meta `json:"outputs"`
		Metrics store.Meta `json:"metrics"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	success := in.Success == nil || *in.Success

	task, err := t.tasks.CompleteTask(ctx, in.TaskID, in.Summary, success, in.Outputs, in.Metrics)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "task_id": task.ID, "task_status": task.Status}, nil
}

func (t *Toolset) handleCancelTask(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		TaskID string `json:"task_id"`
		Reason string `json:"reason"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	task, err := t.tasks.CancelTask(ctx, in.TaskID, in.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "task_id": task.ID, "task_status": task.Status}, nil
}

func (t *Toolset) handleListActiveTasks(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	list, err := t.tasks.GetActiveTasks(ctx, in.AgentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "tasks": list, "count": len(list)}, nil
}

func (t *Toolset) handleAFKActivate(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Reason          string  `json:"reason"`
		AutoReturnHours float64 `json:"auto_return_hours"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	t.gate.Activate(in.Reason, in.AutoReturnHours)
	return map[string]any{"status": "ok", "active": true}, nil
}

func (t *Toolset) handleAFKDeactivate(_ context.Context, args json.RawMessage) (any, error) {
	wasActive := t.gate.Deactivate()
	return map[string]any{"status": "ok", "active": false, "was_active": wasActive}, nil
}

func (t *Toolset) handleAFKToggle(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Reason          string  `json:"reason"`
		AutoReturnHours float64 `json:"auto_return_hours"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	active := t.gate.Toggle(in.Reason, in.AutoReturnHours)
	return map[string]any{"status": "ok", "active": active}, nil
}

func (t *Toolset) handleAFKStatus(_ context.Context, args json.RawMessage) (any, error) {
	st := t.gate.Status()

	result := map[string]any{
		"status": "ok",
		"active": st.Active,
	}
	if st.Active {
		result["reason"] = st.Reason
		result["since"] = st.Since.Format(time.RFC3339)
		result["duration_hours"] = st.DurationHours
		if st.AutoReturnHours > 0 {
			result["auto_return_in_hours"] = st.AutoReturnInHours
		}
	}
	return result, nil
}

func (t *Toolset) handleSendChannelMessage(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Channel string `json:"channel"`
		Topic   string `json:"topic"`
		Content string `json:"content"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Channel == "" || in.Content == "" {
		return nil, fmt.Errorf("channel and content are required")
	}
	if in.Topic == "" {
		in.Topic = "general"
	}

	messageID, err := t.backend.SendToChannel(ctx, in.Channel, in.Topic, in.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "message_id": messageID}, nil
}
