// ABOUTME: Agent registry turning agent names into durable records with provisioned channels.
// ABOUTME: The lookup layer other services use to resolve agent id to channel.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/teamchat-mcp/internal/chat"
	"github.com/2389/teamchat-mcp/internal/store"
)

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// ErrDuplicateAgent indicates an agent row with the generated id already
// exists. With uuid ids this should never happen in practice.
var ErrDuplicateAgent = errors.New("agent already registered")

// Agent type values.
const (
	AgentTypeGenericCoding = "generic-coding-agent"
	AgentTypeCodeReviewer  = "code-reviewer"
	AgentTypeTestRunner    = "test-runner"
	AgentTypeCustom        = "custom"
)

// ValidAgentType reports whether t is one of the enumerated agent types.
func ValidAgentType(t string) bool {
	switch t {
	case AgentTypeGenericCoding, AgentTypeCodeReviewer, AgentTypeTestRunner, AgentTypeCustom:
		return true
	}
	return false
}

// Registry provisions a communication channel per agent and maintains
// liveness timestamps. Channel creation failures abort registration;
// notification sends throughout are fire-and-forget.
type Registry struct {
	store   *store.AgentStore
	backend chat.Backend
	prefix  string
	logger  *slog.Logger
}

// New creates a Registry. channelPrefix is prepended to the derived channel
// name of every agent (e.g. "agents-").
func New(st *store.AgentStore, backend chat.Backend, channelPrefix string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   st,
		backend: backend,
		prefix:  channelPrefix,
		logger:  logger.With("component", "registry"),
	}
}

// RegisterAgent creates an Agent record with a fresh id and a provisioned
// channel. The channel name is derived deterministically from the prefix and
// agent name, and provisioning is idempotent: an existing channel is reused.
// The welcome message is best-effort; a failed send does not fail
// registration.
func (r *Registry) RegisterAgent(ctx context.Context, name, agentType string, private bool, metadata store.Meta) (*store.Agent, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("agent name is required")
	}
	if agentType == "" {
		agentType = AgentTypeCustom
	}
	if !ValidAgentType(agentType) {
		return nil, fmt.Errorf("invalid agent type %q", agentType)
	}

	channelName := r.prefix + slug(name)

	if err := r.backend.CreateChannel(ctx, channelName, fmt.Sprintf("Communication channel for agent %s", name), private); err != nil {
		return nil, fmt.Errorf("provisioning channel %q: %w", channelName, err)
	}

	agent := &store.Agent{
		ID:          uuid.New().String(),
		Name:        name,
		Type:        agentType,
		ChannelName: channelName,
		IsPrivate:   private,
		Metadata:    metadata,
	}

	ok, err := r.store.RegisterAgent(ctx, agent)
	if err != nil {
		// The channel may already exist at this point; that inconsistency is
		// accepted rather than rolled back.
		return nil, fmt.Errorf("persisting agent: %w", err)
	}
	if !ok {
		return nil, ErrDuplicateAgent
	}

	r.logger.Info("agent registered",
		"agent_id", agent.ID,
		"name", name,
		"type", agentType,
		"channel", channelName,
	)

	welcome := fmt.Sprintf("👋 Agent **%s** (%s) registered. This is its communication channel.", name, agentType)
	if _, err := r.backend.SendToChannel(ctx, channelName, "registration", welcome); err != nil {
		r.logger.Warn("welcome message failed", "agent_id", agent.ID, "error", err)
	}

	return agent, nil
}

// GetAgent resolves an agent by id and touches its last_active timestamp.
// Returns ErrAgentNotFound for unknown ids.
func (r *Registry) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	agent, err := r.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := r.store.TouchAgent(ctx, id); err != nil {
		r.logger.Warn("liveness touch failed", "agent_id", id, "error", err)
	}

	return agent, nil
}

// UpdateAgentStatus records an activity touch and, when notify is set and
// the agent has a channel, emits a status line. Failure to notify does not
// fail the call.
func (r *Registry) UpdateAgentStatus(ctx context.Context, id, status, currentTask string, notify bool) error {
	agent, err := r.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAgentNotFound
	}
	if err != nil {
		return err
	}

	if _, err := r.store.TouchAgent(ctx, id); err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}

	if notify && agent.ChannelName != "" {
		line := fmt.Sprintf("ℹ️ **%s** is now *%s*", agent.Name, status)
		if currentTask != "" {
			line += fmt.Sprintf(" — %s", currentTask)
		}
		if _, err := r.backend.SendToChannel(ctx, agent.ChannelName, "status", line); err != nil {
			r.logger.Warn("status notification failed", "agent_id", id, "error", err)
		}
	}

	return nil
}

// UnregisterAgent sends a best-effort farewell notification. The agent row
// is retained for audit; there is no hard delete.
func (r *Registry) UnregisterAgent(ctx context.Context, id string, archive bool) error {
	agent, err := r.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAgentNotFound
	}
	if err != nil {
		return err
	}

	if agent.ChannelName != "" {
		farewell := fmt.Sprintf("👋 Agent **%s** signing off.", agent.Name)
		if archive {
			farewell += " Channel retained for history."
		}
		if _, err := r.backend.SendToChannel(ctx, agent.ChannelName, "registration", farewell); err != nil {
			r.logger.Warn("farewell message failed", "agent_id", id, "error", err)
		}
	}

	r.logger.Info("agent unregistered", "agent_id", id, "name", agent.Name)
	return nil
}

// slug lowercases a name and collapses anything that isn't a letter, digit
// or hyphen, so derived channel names stay stable and URL-friendly.
func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastHyphen := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
