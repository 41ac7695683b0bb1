// Package telegram is a thin client for the Telegram Bot HTTP API. It sends
// pre-encoded JSON bodies and leaves payload semantics to the caller.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAPIDomain is the public Bot API endpoint.
const DefaultAPIDomain = "https://api.telegram.org"

// OpGetUpdates is the long-poll operation.
const OpGetUpdates = "getUpdates"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// Client calls Bot API operations. It holds no per-call state and is safe for
// concurrent use.
type Client struct {
	apiDomain  string
	token      string
	httpClient *http.Client
}

// New constructs a Client. A nil httpClient uses a new http.Client without
// a global timeout; callers bound each call with their context.
func New(apiDomain, token string, httpClient *http.Client) *Client {
	if apiDomain == "" {
		apiDomain = DefaultAPIDomain
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiDomain:  strings.TrimRight(apiDomain, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// MethodURL returns {domain}/bot{token}/{operation}.
func (c *Client) MethodURL(operation string) string {
	return c.apiDomain + "/bot" + c.token + "/" + url.PathEscape(operation)
}

func (c *Client) redactedURL(operation string) string {
	return c.apiDomain + "/bot<redacted>/" + url.PathEscape(operation)
}

// Response is the outcome of a call that reached the server.
type Response struct {
	StatusCode  int
	OK          bool
	ErrorCode   int
	Description string
	Body        []byte
}

// Err returns an *APIError unless the call succeeded.
func (r *Response) Err() error {
	if r.StatusCode >= 200 && r.StatusCode < 300 && r.OK {
		return nil
	}
	return &APIError{StatusCode: r.StatusCode, ErrorCode: r.ErrorCode, Description: r.Description}
}

// Call POSTs body verbatim to operation with a JSON content type. The
// returned error covers transport failures only; inspect Response.Err for
// API-level failures.
func (c *Client) Call(ctx context.Context, operation string, body []byte) (*Response, error) {
	if c == nil {
		return nil, fmt.Errorf("telegram client not configured")
	}

	status, respBody, err := c.post(ctx, operation, body)
	if err != nil {
		return nil, err
	}

	resp := &Response{StatusCode: status, Body: respBody}

	var envelope struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	if json.Unmarshal(respBody, &envelope) == nil {
		resp.OK = envelope.OK
		resp.ErrorCode = envelope.ErrorCode
		resp.Description = envelope.Description
	}
	return resp, nil
}

// GetUpdates long-polls for updates. The server holds the request for up to
// req.Timeout seconds, so ctx must allow at least that long.
func (c *Client) GetUpdates(ctx context.Context, req PollRequest) (*PollResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("telegram client not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	status, respBody, err := c.post(ctx, OpGetUpdates, body)
	if err != nil {
		return nil, err
	}

	var poll PollResponse
	if err := json.Unmarshal(respBody, &poll); err != nil {
		return nil, &DecodeError{StatusCode: status, Err: err}
	}
	poll.StatusCode = status
	return &poll, nil
}

// DecodeError is returned when a response body is not the expected JSON.
type DecodeError struct {
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (c *Client) post(ctx context.Context, operation string, body []byte) (int, []byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.MethodURL(operation), bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", c.redact(operation, err))
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", c.redact(operation, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// redact strips the token from URLs embedded in transport errors.
func (c *Client) redact(operation string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: c.redactedURL(operation), Err: urlErr.Err}
	}
	if c.token != "" && strings.Contains(err.Error(), c.token) {
		return errors.New(strings.ReplaceAll(err.Error(), c.token, "<redacted>"))
	}
	return err
}
