package comms

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/teamchat-mcp/internal/identity"
	"github.com/2389/teamchat-mcp/internal/presence"
	"github.com/2389/teamchat-mcp/internal/registry"
	"github.com/2389/teamchat-mcp/internal/store"
)

type fakeBackend struct {
	sent     []sentMessage
	failSend error
}

type sentMessage struct {
	Channel string
	Topic   string
	Content string
}

func (f *fakeBackend) SendToChannel(_ context.Context, channel, topic, content string) (string, error) {
	if f.failSend != nil {
		return "", f.failSend
	}
	f.sent = append(f.sent, sentMessage{channel, topic, content})
	return "42", nil
}

func (f *fakeBackend) CreateChannel(_ context.Context, _, _ string, _ bool) error { return nil }

func (f *fakeBackend) ChannelExists(_ context.Context, _ string) (bool, error) { return false, nil }

type testEnv struct {
	svc     *Service
	store   *store.AgentStore
	backend *fakeBackend
	gate    *presence.Gate
	agent   *store.Agent
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewAgentStore(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backend := &fakeBackend{}
	gate := presence.NewGate(filepath.Join(dir, "afk.json"), nil)
	reg := registry.New(st, backend, "agents-", nil)
	ident, err := identity.Derive(dir, "testhost")
	require.NoError(t, err)

	svc, err := New(Config{
		Store:               st,
		Registry:            reg,
		Gate:                gate,
		Backend:             backend,
		Identity:            ident,
		NotificationChannel: "agent-notifications",
		PollInterval:        10 * time.Millisecond,
	})
	require.NoError(t, err)

	agent, err := reg.RegisterAgent(context.Background(), "Builder", "", false, nil)
	require.NoError(t, err)
	backend.sent = nil

	return &testEnv{svc: svc, store: st, backend: backend, gate: gate, agent: agent}
}

func TestAgentMessage_SkippedWhenNotAFK(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	out, err := env.svc.AgentMessage(ctx, env.agent.ID, MessageTypeStatus, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, "skipped", out.Status)
	assert.Equal(t, "operator not AFK", out.Reason)
	assert.Empty(t, out.MessageID)

	// Neither a channel send nor a log row happened
	assert.Empty(t, env.backend.sent)
	msgs, err := env.store.ListAgentMessages(ctx, env.agent.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAgentMessage_SentWhenAFK(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.gate.Activate("lunch", 0)

	out, err := env.svc.AgentMessage(ctx, env.agent.ID, MessageTypeCompletion, "tests green", store.Meta{
		"task":     "refactor",
		"progress": 100,
	})
	require.NoError(t, err)

	assert.Equal(t, "sent", out.Status)
	assert.NotEmpty(t, out.MessageID)
	assert.Equal(t, "42", out.ChannelMessageID)

	require.Len(t, env.backend.sent, 1)
	msg := env.backend.sent[0]
	assert.Equal(t, "agent-notifications", msg.Channel)
	assert.Contains(t, msg.Content, "✅")
	assert.Contains(t, msg.Content, "Builder")
	assert.Contains(t, msg.Content, "tests green")
	assert.Contains(t, msg.Content, "[██████████] 100%")

	// Delivery is recorded in the message log
	msgs, err := env.store.ListAgentMessages(ctx, env.agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].ChannelMessageID)
}

func TestAgentMessage_InvalidType(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.AgentMessage(context.Background(), env.agent.ID, "shout", "hello", nil)
	assert.Error(t, err)
}

func TestAgentMessage_SendFailure(t *testing.T) {
	env := setupService(t)
	env.gate.Activate("away", 0)
	env.backend.failSend = errors.New("backend down")

	_, err := env.svc.AgentMessage(context.Background(), env.agent.ID, MessageTypeStatus, "hello", nil)
	require.Error(t, err)

	// No log row for an undelivered message
	msgs, err := env.store.ListAgentMessages(context.Background(), env.agent.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRequestUserInput_NotGated(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	// Gate inactive: questions still go out
	id, err := env.svc.RequestUserInput(ctx, env.agent.ID, "Merge or rebase?", nil, []string{"merge", "rebase"}, 60)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Len(t, env.backend.sent, 1)
	msg := env.backend.sent[0]
	assert.Equal(t, env.agent.ChannelName, msg.Channel)
	assert.Contains(t, msg.Content, "Merge or rebase?")
	assert.Contains(t, msg.Content, "1. merge")
	assert.Contains(t, msg.Content, "2. rebase")
	assert.Contains(t, msg.Content, id)

	req, err := env.store.GetInputRequest(ctx, id)
	require.NoError(t, err)
	assert.False(t, req.IsAnswered)
	assert.Equal(t, 60, req.TimeoutSeconds)
}

func TestRequestUserInput_SendFailureTolerated(t *testing.T) {
	env := setupService(t)
	env.backend.failSend = errors.New("backend down")

	id, err := env.svc.RequestUserInput(context.Background(), env.agent.ID, "Proceed?", nil, nil, 0)
	require.NoError(t, err, "the request is persisted even if the notification fails")

	req, err := env.store.GetInputRequest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 300, req.TimeoutSeconds, "default timeout applied")
}

func TestWaitForResponse_AnswerArrives(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	id, err := env.svc.RequestUserInput(ctx, env.agent.ID, "Proceed?", nil, []string{"yes", "no"}, 60)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, err := env.svc.HandleUserResponse(ctx, id, "1", "alice")
		assert.NoError(t, err)
	}()

	response, answered, err := env.svc.WaitForResponse(ctx, id, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, answered)
	assert.Equal(t, "yes", response, "numeric reply resolved to the option text")
}

func TestWaitForResponse_Timeout(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	id, err := env.svc.RequestUserInput(ctx, env.agent.ID, "Proceed?", nil, nil, 60)
	require.NoError(t, err)

	response, answered, err := env.svc.WaitForResponse(ctx, id, 50*time.Millisecond)
	require.NoError(t, err, "timeout is not an error")
	assert.False(t, answered)
	assert.Empty(t, response)

	// The request is still pending and answerable after the timeout
	resolved, err := env.svc.HandleUserResponse(ctx, id, "late answer", "alice")
	require.NoError(t, err)
	assert.Equal(t, "late answer", resolved)
}

func TestWaitForResponse_UnknownRequest(t *testing.T) {
	env := setupService(t)

	_, _, err := env.svc.WaitForResponse(context.Background(), "ghost", time.Second)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestWaitForResponse_ContextCancelled(t *testing.T) {
	env := setupService(t)

	id, err := env.svc.RequestUserInput(context.Background(), env.agent.ID, "Proceed?", nil, nil, 60)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err = env.svc.WaitForResponse(ctx, id, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleUserResponse_SingleResolution(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	id, err := env.svc.RequestUserInput(ctx, env.agent.ID, "Proceed?", nil, []string{"yes", "no"}, 60)
	require.NoError(t, err)

	resolved, err := env.svc.HandleUserResponse(ctx, id, "2", "alice")
	require.NoError(t, err)
	assert.Equal(t, "no", resolved)

	// A second resolution is rejected and the first answer stands
	_, err = env.svc.HandleUserResponse(ctx, id, "1", "bob")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	req, err := env.store.GetInputRequest(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, req.Response)
	assert.Equal(t, "no", *req.Response)
	assert.Equal(t, "alice", req.Responder)
}

func TestHandleUserResponse_FreeTextPassthrough(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	id, err := env.svc.RequestUserInput(ctx, env.agent.ID, "Pick one", nil, []string{"a", "b"}, 60)
	require.NoError(t, err)

	resolved, err := env.svc.HandleUserResponse(ctx, id, "7", "alice")
	require.NoError(t, err)
	assert.Equal(t, "7", resolved, "out of range number passes through verbatim")
}

func TestSendAgentStatus(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	progress := 50

	// Works regardless of the presence gate
	err := env.svc.SendAgentStatus(ctx, env.agent.ID, StatusWorking, "refactoring auth", &progress, "10m")
	require.NoError(t, err)

	require.Len(t, env.backend.sent, 1)
	msg := env.backend.sent[0]
	assert.Equal(t, "agent-notifications", msg.Channel)
	assert.Contains(t, msg.Content, "🔨")
	assert.Contains(t, msg.Content, "working")
	assert.Contains(t, msg.Content, "refactoring auth")
	assert.Contains(t, msg.Content, "[█████░░░░░] 50%")
	assert.Contains(t, msg.Content, "10m")
}

func TestSendAgentStatus_InvalidStatus(t *testing.T) {
	env := setupService(t)

	err := env.svc.SendAgentStatus(context.Background(), env.agent.ID, "sleeping", "", nil, "")
	assert.Error(t, err)
}

func TestSendAgentStatus_SendFailureSurfaces(t *testing.T) {
	env := setupService(t)
	env.backend.failSend = errors.New("backend down")

	err := env.svc.SendAgentStatus(context.Background(), env.agent.ID, StatusIdle, "", nil, "")
	assert.Error(t, err, "unlike gated notifications, status delivery failures are reported")
}
