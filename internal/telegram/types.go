package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PollRequest is the body of a getUpdates call.
type PollRequest struct {
	Offset         uint64   `json:"offset"`
	Timeout        uint     `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// ResponseParameters carries hints attached to failed calls.
type ResponseParameters struct {
	RetryAfter      int   `json:"retry_after,omitempty"`
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
}

// PollResponse is the envelope returned by getUpdates. Result is kept raw so
// that a missing or non-array result can be told apart from an empty one.
type PollResponse struct {
	OK          *bool               `json:"ok"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
	Result      json.RawMessage     `json:"result,omitempty"`

	// StatusCode is the HTTP status the envelope arrived with.
	StatusCode int `json:"-"`
}

// Updates returns the elements of Result. The second value is false when
// Result is absent or not a JSON array.
func (r *PollResponse) Updates() ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(r.Result)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}

	var updates []json.RawMessage
	if err := json.Unmarshal(trimmed, &updates); err != nil {
		return nil, false
	}
	return updates, true
}

// Err returns an *APIError when ok is explicitly false. An envelope without
// ok is not an error.
func (r *PollResponse) Err() error {
	if r.OK == nil || *r.OK {
		return nil
	}
	return &APIError{
		StatusCode:  r.StatusCode,
		ErrorCode:   r.ErrorCode,
		Description: r.Description,
		RetryAfter:  time.Duration(r.RetryAfter()) * time.Second,
	}
}

// RetryAfter returns the server-requested delay in seconds, or 0.
func (r *PollResponse) RetryAfter() int {
	if r.Parameters == nil {
		return 0
	}
	return r.Parameters.RetryAfter
}

// ParseUpdateID extracts update_id from a raw update. It reports false when
// the update is not an object or update_id is absent or not an unsigned
// integer literal.
func ParseUpdateID(raw json.RawMessage) (uint64, bool) {
	var fields struct {
		UpdateID json.RawMessage `json:"update_id"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields.UpdateID) == 0 {
		return 0, false
	}

	id, err := strconv.ParseUint(string(fields.UpdateID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// CompactUpdate returns raw without insignificant whitespace.
func CompactUpdate(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("compact update: %w", err)
	}
	return buf.Bytes(), nil
}

// APIError describes a call the Bot API rejected.
type APIError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	// RetryAfter is set when the server asked for a pause (HTTP 429).
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram api status %d", e.StatusCode)
	}
	return fmt.Sprintf("telegram api status %d: %s", e.StatusCode, e.Description)
}
