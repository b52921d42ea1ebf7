// Package client is the Go SDK for the replq admin API.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Create a level-1 queue with three replicas
//	info, err := c.CreateQueue(ctx, "payments", client.WithSpec("level1m"), client.WithSlaves(3))
//
//	// Push and pop
//	err = c.Push(ctx, "payments", []byte(`{"amount":42}`))
//	body, err := c.Pop(ctx, "payments")
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Use IsNotFound, IsConflict and IsTimeout for the common cases.
//
// Client is safe for concurrent use.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("replq: server returned %d: %s", e.StatusCode, e.Message)
}

func hasStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

// IsNotFound reports whether the error is a 404: a missing queue, or a pop
// on an empty one.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsConflict reports whether the error is a 409: the queue already exists,
// or the caller tried to mutate a slave directly.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

// IsTimeout reports whether a level-1 operation gave up waiting for a
// slave's acknowledgment.
func IsTimeout(err error) bool { return hasStatus(err, http.StatusGatewayTimeout) }

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Queue options ────────────────────────────────────────────────────────────

// QueueOption configures a CreateQueue call. Unset fields take the server's
// configured defaults.
type QueueOption func(*createQueuePayload)

// WithSpec selects the queue type: "level0m" or "level1m".
func WithSpec(spec string) QueueOption {
	return func(p *createQueuePayload) { p.Spec = spec }
}

// WithSlaves sets the replica count.
func WithSlaves(n int) QueueOption {
	return func(p *createQueuePayload) { p.Slaves = &n }
}

// ─── Types ────────────────────────────────────────────────────────────────────

// SlaveInfo is one replica of a master queue.
type SlaveInfo struct {
	Name    string `json:"name"`
	Len     int    `json:"len"`
	Present bool   `json:"present"`
}

// QueueInfo describes a queue and, for a master, its replicas.
type QueueInfo struct {
	Name   string      `json:"name"`
	Spec   string      `json:"spec"`
	Len    int         `json:"len"`
	Slaves []SlaveInfo `json:"slaves"`
}

// HealthInfo is the decoded /health response.
type HealthInfo struct {
	Status  string
	NodeID  string
	Queues  int
	Uptime  time.Duration
	Version string
}

// Failure is one journaled replication command that did not reach its slave.
type Failure struct {
	ID     string    `json:"id"`
	Event  string    `json:"event"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
	Kind   string    `json:"-"`
	Target string    `json:"-"`
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the replq API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func queuePath(name string, rest ...string) string {
	p := "/queues/" + url.PathEscape(name)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// ─── Queue operations ─────────────────────────────────────────────────────────

// Push appends body to the named queue, creating it with the server's
// defaults if it does not exist.
func (c *Client) Push(ctx context.Context, queue string, body []byte) error {
	payload := pushPayload{Body: base64.StdEncoding.EncodeToString(body)}
	return c.do(ctx, http.MethodPost, queuePath(queue, "messages"), payload, nil)
}

// Pop removes and returns the head of the named queue.
func (c *Client) Pop(ctx context.Context, queue string) ([]byte, error) {
	var resp pushPayload
	if err := c.do(ctx, http.MethodDelete, queuePath(queue, "messages", "head"), nil, &resp); err != nil {
		return nil, err
	}
	body, err := base64.StdEncoding.DecodeString(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("replq: decode body: %w", err)
	}
	return body, nil
}

// CreateQueue explicitly creates a master queue.
func (c *Client) CreateQueue(ctx context.Context, name string, opts ...QueueOption) (*QueueInfo, error) {
	var p createQueuePayload
	for _, o := range opts {
		o(&p)
	}
	var info QueueInfo
	if err := c.do(ctx, http.MethodPost, queuePath(name), p, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Info describes an existing queue.
func (c *Client) Info(ctx context.Context, name string) (*QueueInfo, error) {
	var info QueueInfo
	if err := c.do(ctx, http.MethodGet, queuePath(name), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListQueues describes every queue on the server, replicas included.
func (c *Client) ListQueues(ctx context.Context) ([]QueueInfo, error) {
	var resp struct {
		Queues []QueueInfo `json:"queues"`
	}
	if err := c.do(ctx, http.MethodGet, "/queues", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Queues, nil
}

// SlaveName returns the name of replica i of master queue.
func (c *Client) SlaveName(ctx context.Context, queue string, i int) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, queuePath(queue, "slaves", fmt.Sprint(i)), nil, &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

// Failures returns up to limit of the most recent replication failures.
func (c *Client) Failures(ctx context.Context, limit int) ([]Failure, error) {
	var resp struct {
		Failures []struct {
			Failure
			Command struct {
				Kind   string `json:"kind"`
				Target string `json:"target"`
			} `json:"command"`
		} `json:"failures"`
	}
	path := fmt.Sprintf("/replication/failures?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Failure, len(resp.Failures))
	for i, f := range resp.Failures {
		out[i] = f.Failure
		out[i].Kind = f.Command.Kind
		out[i].Target = f.Command.Target
	}
	return out, nil
}

// Health checks the server's /health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string `json:"status"`
		NodeID   string `json:"node_id"`
		Queues   int    `json:"queues"`
		UptimeMs int64  `json:"uptime_ms"`
		Version  string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status:  resp.Status,
		NodeID:  resp.NodeID,
		Queues:  resp.Queues,
		Uptime:  time.Duration(resp.UptimeMs) * time.Millisecond,
		Version: resp.Version,
	}, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
// A 204 No Content response is treated as success with no body.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("replq: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("replq: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("replq: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("replq: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("replq: decode response: %w", err)
		}
	}
	return nil
}

// ─── Internal wire types ──────────────────────────────────────────────────────

type pushPayload struct {
	Body string `json:"body"`
}

type createQueuePayload struct {
	Spec   string `json:"spec,omitempty"`
	Slaves *int   `json:"slaves,omitempty"`
}
