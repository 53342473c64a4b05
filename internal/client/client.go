// Package client is a small HTTP client for the gateway API, used by the
// smoke binary and by programs embedding command authorization.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/gateway"
	"cmdgate.io/internal/rules"
)

// Client talks to a running gateway instance.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// New creates a client for the given base URL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d %s", e.StatusCode, e.Message)
}

// Me is the caller's identity and balance.
type Me struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Credits  int64  `json:"credits"`
}

// StatusError marks a synthetic client-side result for transport failures.
const StatusError = "ERROR"

// Result is the client-side view of one authorization round trip.
type Result struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	NewBalance  *int64 `json:"new_balance,omitempty"`
	MatchedRule string `json:"matched_rule,omitempty"`
}

// Submit sends a command for authorization. A rejection is a normal
// decision, not an error; errors mean the request itself failed.
func (c *Client) Submit(ctx context.Context, commandText string) (gateway.Decision, error) {
	var d gateway.Decision
	err := c.call(ctx, http.MethodPost, "/v1/commands",
		map[string]string{"command_text": commandText}, &d)
	return d, err
}

// Authorize is Submit with graceful degradation: a transport failure comes
// back as a synthetic ERROR result instead of an error, so interactive
// callers always have a status to show.
func (c *Client) Authorize(ctx context.Context, commandText string) Result {
	d, err := c.Submit(ctx, commandText)
	if err != nil {
		return Result{
			Status:  StatusError,
			Message: "gateway unreachable: " + err.Error(),
		}
	}
	return Result{
		Status:      string(d.Status),
		Message:     d.Message,
		NewBalance:  d.NewBalance,
		MatchedRule: d.MatchedRule,
	}
}

// Whoami fetches the caller's identity and credit balance.
func (c *Client) Whoami(ctx context.Context) (Me, error) {
	var me Me
	err := c.call(ctx, http.MethodGet, "/v1/me", nil, &me)
	return me, err
}

// CreateRule adds a rule; testString opts into shadow conflict detection.
func (c *Client) CreateRule(ctx context.Context, pattern string, action rules.Action, testString string) (rules.Rule, error) {
	var r rules.Rule
	err := c.call(ctx, http.MethodPost, "/v1/rules", map[string]string{
		"pattern":     pattern,
		"action":      string(action),
		"test_string": testString,
	}, &r)
	return r, err
}

// ListRules returns the active rule set in priority order.
func (c *Client) ListRules(ctx context.Context) ([]rules.Rule, error) {
	var resp struct {
		Items []rules.Rule `json:"items"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/rules", nil, &resp)
	return resp.Items, err
}

// DeleteRule removes a rule by id. Absent ids succeed.
func (c *Client) DeleteRule(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, "/v1/rules/"+strconv.FormatInt(id, 10), nil, nil)
}

// Logs fetches audit entries; admin credentials required.
func (c *Client) Logs(ctx context.Context, status, order string, limit int) ([]audit.Entry, error) {
	path := "/v1/admin/logs?limit=" + strconv.Itoa(limit)
	if status != "" {
		path += "&status=" + status
	}
	if order != "" {
		path += "&order=" + order
	}
	var resp struct {
		Items []audit.Entry `json:"items"`
	}
	err := c.call(ctx, http.MethodGet, path, nil, &resp)
	return resp.Items, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
