// Package client talks to a running mindpalace server over HTTP. It
// satisfies the Live View's Lister and Subscriber so a terminal can follow
// a remote palace exactly as it follows a local one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// DefaultTimeout bounds every request except the change stream.
const DefaultTimeout = 30 * time.Second

// StatusError is returned for an unexpected response status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// Client is an HTTP client for the mindpalace API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the request client. Its transport is also used
// for change streams, without the timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used by change streams.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for baseURL, e.g. http://localhost:3000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.streamClient = &http.Client{Transport: c.httpClient.Transport}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// List returns all thoughts newest first.
func (c *Client) List(ctx context.Context) ([]*thought.Thought, error) {
	var list []*thought.Thought
	if err := c.do(ctx, http.MethodGet, "/api/thoughts", nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Submit stores content as a new thought. Blank content fails with
// thought.ErrEmptyContent before any request is made.
func (c *Client) Submit(ctx context.Context, content string) (*thought.Thought, error) {
	if err := thought.ValidateContent(content); err != nil {
		return nil, err
	}
	var t thought.Thought
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/api/thoughts", body, http.StatusCreated, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Analyze asks the server to annotate thought id and returns the insight.
func (c *Client) Analyze(ctx context.Context, id int64, content string) (string, error) {
	var resp struct {
		Success bool   `json:"success"`
		Insight string `json:"insight"`
	}
	body := map[string]any{"thoughtId": id, "content": content}
	if err := c.do(ctx, http.MethodPost, "/api/analyze", body, http.StatusOK, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errors.New("analyze: server reported failure")
	}
	return resp.Insight, nil
}

func (c *Client) do(ctx context.Context, method, path string, request any, want int, result any) error {
	var body io.Reader
	if request != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(request); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(resp)
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// statusError reads the {"error": ...} body when there is one.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
