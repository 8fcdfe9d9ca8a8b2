// ABOUTME: REST client for the team chat backend (Zulip-compatible API).
// ABOUTME: Covers the send/create-channel/lookup surface the agent services need.

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrBackend is returned when the chat backend reports a non-success result.
var ErrBackend = errors.New("chat backend error")

// Backend is the messaging collaborator the agent services depend on.
// Implementations send markdown content to named channels and provision
// channels idempotently.
type Backend interface {
	// SendToChannel posts content to a channel under a topic and returns the
	// backend's message id.
	SendToChannel(ctx context.Context, channel, topic, content string) (string, error)

	// CreateChannel creates (or joins) a channel. Creating a channel that
	// already exists is not an error.
	CreateChannel(ctx context.Context, name, description string, private bool) error

	// ChannelExists reports whether a channel with the given name exists.
	ChannelExists(ctx context.Context, name string) (bool, error)
}

// Credentials identify the bot account used against the chat API.
type Credentials struct {
	BaseURL string
	Email   string
	APIKey  string
}

// Client talks to a Zulip-compatible REST API using bot credentials.
type Client struct {
	creds  Credentials
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a chat client. The base URL must include the scheme.
func NewClient(creds Credentials, logger *slog.Logger) (*Client, error) {
	if creds.BaseURL == "" {
		return nil, errors.New("chat base URL is required")
	}
	if creds.Email == "" || creds.APIKey == "" {
		return nil, errors.New("chat credentials are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		creds:  creds,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "chat"),
	}, nil
}

// apiResult is the common envelope the backend wraps every response in.
type apiResult struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	ID     int64  `json:"id"`
}

// SendToChannel posts a message and returns the backend's message id.
func (c *Client) SendToChannel(ctx context.Context, channel, topic, content string) (string, error) {
	form := url.Values{}
	form.Set("type", "channel")
	form.Set("to", channel)
	form.Set("topic", topic)
	form.Set("content", content)

	var res apiResult
	if err := c.post(ctx, "/api/v1/messages", form, &res); err != nil {
		return "", err
	}
	if res.Result != "success" {
		return "", fmt.Errorf("%w: %s", ErrBackend, res.Msg)
	}

	c.logger.Debug("sent channel message", "channel", channel, "topic", topic, "id", res.ID)
	return strconv.FormatInt(res.ID, 10), nil
}

// CreateChannel subscribes the bot to a channel, creating it if necessary.
// The API treats subscribing to an existing channel as a no-op, which gives
// us the idempotency the registry relies on.
func (c *Client) CreateChannel(ctx context.Context, name, description string, private bool) error {
	subs, err := json.Marshal([]map[string]string{{
		"name":        name,
		"description": description,
	}})
	if err != nil {
		return fmt.Errorf("encoding subscription: %w", err)
	}

	form := url.Values{}
	form.Set("subscriptions", string(subs))
	if private {
		form.Set("invite_only", "true")
	}

	var res apiResult
	if err := c.post(ctx, "/api/v1/users/me/subscriptions", form, &res); err != nil {
		return err
	}
	if res.Result != "success" {
		return fmt.Errorf("%w: %s", ErrBackend, res.Msg)
	}

	c.logger.Debug("ensured channel", "name", name, "private", private)
	return nil
}

// ChannelExists reports whether a channel with the given name exists.
func (c *Client) ChannelExists(ctx context.Context, name string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/streams", nil)
	if err != nil {
		return false, err
	}

	var res struct {
		apiResult
		Streams []struct {
			Name string `json:"name"`
		} `json:"streams"`
	}
	if err := c.do(req, &res); err != nil {
		return false, err
	}
	if res.Result != "success" {
		return false, fmt.Errorf("%w: %s", ErrBackend, res.Msg)
	}

	for _, s := range res.Streams {
		if s.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.creds.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.creds.Email, c.creds.APIKey)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: unexpected response (status %d)", ErrBackend, resp.StatusCode)
	}
	return nil
}

// Ensure Client implements Backend.
var _ Backend = (*Client)(nil)
