package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Credentials{
		BaseURL: srv.URL,
		Email:   "bot@example.com",
		APIKey:  "secret",
	}, nil)
	require.NoError(t, err)
	return c
}

func TestClient_SendToChannel(t *testing.T) {
	var gotPath, gotChannel, gotTopic, gotContent string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotChannel = r.PostForm.Get("to")
		gotTopic = r.PostForm.Get("topic")
		gotContent = r.PostForm.Get("content")

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "secret", pass)

		json.NewEncoder(w).Encode(map[string]any{"result": "success", "id": 99})
	})

	id, err := c.SendToChannel(context.Background(), "agents", "myhost", "hello")
	require.NoError(t, err)
	assert.Equal(t, "99", id)
	assert.Equal(t, "/api/v1/messages", gotPath)
	assert.Equal(t, "agents", gotChannel)
	assert.Equal(t, "myhost", gotTopic)
	assert.Equal(t, "hello", gotContent)
}

func TestClient_SendToChannel_BackendError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": "error", "msg": "Channel does not exist"})
	})

	_, err := c.SendToChannel(context.Background(), "ghost", "t", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "Channel does not exist")
}

func TestClient_CreateChannel(t *testing.T) {
	var gotSubs string
	var gotPrivate string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotSubs = r.PostForm.Get("subscriptions")
		gotPrivate = r.PostForm.Get("invite_only")
		json.NewEncoder(w).Encode(map[string]any{"result": "success"})
	})

	err := c.CreateChannel(context.Background(), "agents-builder", "Builder's channel", true)
	require.NoError(t, err)
	assert.Contains(t, gotSubs, "agents-builder")
	assert.Equal(t, "true", gotPrivate)
}

func TestClient_ChannelExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/streams", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"result": "success",
			"streams": []map[string]any{
				{"name": "general"},
				{"name": "agents-builder"},
			},
		})
	})

	exists, err := c.ChannelExists(context.Background(), "agents-builder")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.ChannelExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Credentials{Email: "a", APIKey: "b"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Credentials{BaseURL: "http://x"}, nil)
	assert.Error(t, err)
}
