// ABOUTME: Agent communication service: AFK-gated notifications, blocking input requests, status broadcast.
// ABOUTME: The protocol core mediating between agent processes and a human via chat messages.

package comms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/teamchat-mcp/internal/chat"
	"github.com/2389/teamchat-mcp/internal/identity"
	"github.com/2389/teamchat-mcp/internal/presence"
	"github.com/2389/teamchat-mcp/internal/registry"
	"github.com/2389/teamchat-mcp/internal/store"
)

// ErrRequestNotFound indicates the input request is unknown or already
// answered.
var ErrRequestNotFound = errors.New("input request not found or already answered")

// ErrAlreadyAnswered indicates a second resolution attempt on an answered
// request. The first stored response is immutable.
var ErrAlreadyAnswered = errors.New("input request already answered")

// defaultPollInterval is the pause between polls in WaitForResponse.
const defaultPollInterval = 2 * time.Second

// defaultRequestTimeout applies when a caller passes no timeout.
const defaultRequestTimeout = 300 * time.Second

// Config holds the collaborators for the communication service. All fields
// except Logger and PollInterval are required.
type Config struct {
	Store               *store.AgentStore
	Registry            *registry.Registry
	Gate                *presence.Gate
	Backend             chat.Backend
	Identity            *identity.Identity
	NotificationChannel string
	PollInterval        time.Duration
	Logger              *slog.Logger
}

// Service formats and emits agent notifications under the presence gate and
// implements the blocking wait-for-response protocol. It keeps no state of
// its own between calls; the store and the gate hold everything durable.
type Service struct {
	store        *store.AgentStore
	registry     *registry.Registry
	gate         *presence.Gate
	backend      chat.Backend
	ident        *identity.Identity
	channel      string
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates the communication service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Gate == nil || cfg.Backend == nil || cfg.Identity == nil {
		return nil, errors.New("store, registry, gate, backend and identity are required")
	}
	if cfg.NotificationChannel == "" {
		return nil, errors.New("notification channel is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Service{
		store:        cfg.Store,
		registry:     cfg.Registry,
		gate:         cfg.Gate,
		backend:      cfg.Backend,
		ident:        cfg.Identity,
		channel:      cfg.NotificationChannel,
		pollInterval: interval,
		logger:       logger.With("component", "comms"),
	}, nil
}

// SendOutcome reports what AgentMessage did.
type SendOutcome struct {
	Status           string // "sent" or "skipped"
	Reason           string // set when skipped
	MessageID        string // log row id, set when sent
	ChannelMessageID string // backend message id, set when sent
}

// AgentMessage emits a status/question/completion/error notification on the
// agent's behalf. When the presence gate is inactive the call short-circuits
// with a skipped outcome: no storage write, no channel send. Agents may call
// this freely; humans are only interrupted after opting in by going AFK.
func (s *Service) AgentMessage(ctx context.Context, agentID, messageType, content string, metadata store.Meta) (*SendOutcome, error) {
	if !validMessageType(messageType) {
		return nil, fmt.Errorf("invalid message type %q", messageType)
	}

	if !s.gate.IsActive() {
		s.logger.Debug("notification skipped, operator not AFK", "agent_id", agentID, "type", messageType)
		return &SendOutcome{Status: "skipped", Reason: "operator not AFK"}, nil
	}

	agent, err := s.registry.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("%s %s **%s**: %s%s",
		s.ident.Marker(), messageEmoji[messageType], agent.Name, content, metadataBlock(metadata))

	// Send first; the log row is written only on confirmed delivery.
	channelMsgID, err := s.backend.SendToChannel(ctx, s.channel, s.ident.Topic(), body)
	if err != nil {
		return nil, fmt.Errorf("sending notification: %w", err)
	}

	logRow := &store.AgentMessage{
		ID:               uuid.New().String(),
		AgentID:          agentID,
		Type:             messageType,
		Content:          content,
		ChannelMessageID: channelMsgID,
	}
	if _, err := s.store.SaveAgentMessage(ctx, logRow); err != nil {
		// The message is already delivered; a lost log row is accepted.
		s.logger.Warn("message log write failed", "agent_id", agentID, "error", err)
	}

	return &SendOutcome{
		Status:           "sent",
		MessageID:        logRow.ID,
		ChannelMessageID: channelMsgID,
	}, nil
}

// RequestUserInput creates an input request and posts the question to the
// agent's channel. It is not gated by presence: a question is an explicit
// blocking ask, not a passive notification. Returns the request id
// immediately; this call does not block.
func (s *Service) RequestUserInput(ctx context.Context, agentID, question string, contextMeta store.Meta, options []string, timeoutSeconds int) (string, error) {
	agent, err := s.registry.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = int(defaultRequestTimeout / time.Second)
	}

	req := &store.InputRequest{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		Question:       question,
		Context:        contextMeta,
		Options:        options,
		TimeoutSeconds: timeoutSeconds,
	}

	ok, err := s.store.CreateInputRequest(ctx, req)
	if err != nil {
		return "", fmt.Errorf("persisting input request: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("persisting input request: duplicate id")
	}

	body := fmt.Sprintf("❓ **Input needed from %s**\n\n%s\n%s\n_Reply with the option number or free text. Request `%s`._",
		agent.Name, question, formatOptions(options), req.ID)

	target := agent.ChannelName
	if target == "" {
		target = s.channel
	}
	if _, err := s.backend.SendToChannel(ctx, target, "input-requests", body); err != nil {
		// The request is persisted either way; the caller can still be
		// answered through another surface.
		s.logger.Warn("input request notification failed", "request_id", req.ID, "error", err)
	}

	s.logger.Info("input request created",
		"request_id", req.ID,
		"agent_id", agentID,
		"options", len(options),
		"timeout_seconds", timeoutSeconds,
	)
	return req.ID, nil
}

// WaitForResponse blocks until the request is answered or the timeout
// elapses. It polls the store at a fixed short interval, suspending the
// calling goroutine between attempts, and honours ctx cancellation between
// iterations. On timeout it returns ("", false, nil) with no side effects;
// the stored request stays unanswered.
func (s *Service) WaitForResponse(ctx context.Context, requestID string, timeout time.Duration) (string, bool, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		req, err := s.store.GetInputRequest(ctx, requestID)
		if errors.Is(err, store.ErrNotFound) {
			return "", false, ErrRequestNotFound
		}
		if err != nil {
			return "", false, err
		}
		if req.IsAnswered {
			var response string
			if req.Response != nil {
				response = *req.Response
			}
			return response, true, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-deadline.C:
			s.logger.Debug("wait for response timed out", "request_id", requestID, "timeout", timeout)
			return "", false, nil
		case <-ticker.C:
		}
	}
}

// HandleUserResponse records the human's reply to a pending request,
// resolving numbered-option shorthand: an exact numeric string within
// [1, len(options)] maps to that option; anything else (free text, out of
// range numbers) passes through unchanged. Returns the resolved response.
func (s *Service) HandleUserResponse(ctx context.Context, requestID, response, responder string) (string, error) {
	req, err := s.store.GetPendingRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrRequestNotFound
	}
	if err != nil {
		return "", err
	}

	resolved := resolveOption(response, req.Options)

	ok, err := s.store.SaveUserResponse(ctx, requestID, resolved, responder)
	if err != nil {
		return "", fmt.Errorf("saving response: %w", err)
	}
	if !ok {
		return "", ErrAlreadyAnswered
	}

	s.logger.Info("input request answered", "request_id", requestID, "responder", responder)
	return resolved, nil
}

// resolveOption maps a numeric reply to its option text when in range.
func resolveOption(response string, options []string) string {
	if len(options) == 0 {
		return response
	}
	n, err := strconv.Atoi(strings.TrimSpace(response))
	if err != nil || n < 1 || n > len(options) {
		return response
	}
	return options[n-1]
}

// SendAgentStatus broadcasts a status card for the agent and syncs liveness
// bookkeeping through the registry. Unlike AgentMessage this always attempts
// delivery: it is agent-initiated operational telemetry, and a failed send
// is reported rather than silently skipped.
func (s *Service) SendAgentStatus(ctx context.Context, agentID, status, currentTask string, progress *int, eta string) error {
	if !validAgentStatus(status) {
		return fmt.Errorf("invalid agent status %q", status)
	}

	agent, err := s.registry.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s **%s** — %s", s.ident.Marker(), statusEmoji[status], agent.Name, status)
	if currentTask != "" {
		fmt.Fprintf(&b, "\n**Task:** %s", currentTask)
	}
	if progress != nil {
		fmt.Fprintf(&b, "\n%s", ProgressBar(*progress))
	}
	if eta != "" {
		fmt.Fprintf(&b, "\n**ETA:** %s", eta)
	}

	if _, err := s.backend.SendToChannel(ctx, s.channel, s.ident.Topic(), b.String()); err != nil {
		return fmt.Errorf("sending status: %w", err)
	}

	// Registry already notified the channel via us; suppress its own send.
	if err := s.registry.UpdateAgentStatus(ctx, agentID, status, currentTask, false); err != nil {
		s.logger.Warn("liveness sync failed", "agent_id", agentID, "error", err)
	}

	return nil
}
