package messaging

import (
	"errors"
	"testing"
	"time"
)

func TestQoS_String(t *testing.T) {
	tests := []struct {
		qos  QoS
		want string
	}{
		{AtMostOnce, "at-most-once"},
		{AtLeastOnce, "at-least-once"},
		{QoS(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.qos.String(); got != tt.want {
			t.Errorf("QoS(%d).String() = %q, want %q", tt.qos, got, tt.want)
		}
	}
}

func TestWithHeader(t *testing.T) {
	tests := []struct {
		name     string
		headers  []struct{ key, value string }
		expected map[string]string
	}{
		{
			name:     "single header",
			headers:  []struct{ key, value string }{{"X-Custom", "test"}},
			expected: map[string]string{"X-Custom": "test"},
		},
		{
			name: "multiple headers",
			headers: []struct{ key, value string }{
				{"X-First", "first"},
				{"X-Second", "second"},
			},
			expected: map[string]string{"X-First": "first", "X-Second": "second"},
		},
		{
			name: "overwrite header",
			headers: []struct{ key, value string }{
				{"X-Key", "original"},
				{"X-Key", "updated"},
			},
			expected: map[string]string{"X-Key": "updated"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []PublishOption
			for _, h := range tt.headers {
				opts = append(opts, WithHeader(h.key, h.value))
			}
			resolved := NewPublishOptions(opts...)

			if len(resolved.Headers) != len(tt.expected) {
				t.Errorf("expected %d headers, got %d", len(tt.expected), len(resolved.Headers))
			}
			for k, v := range tt.expected {
				if resolved.Headers[k] != v {
					t.Errorf("expected header %q=%q, got %q", k, v, resolved.Headers[k])
				}
			}
		})
	}
}

func TestNewPublishOptions_Empty(t *testing.T) {
	resolved := NewPublishOptions()
	if resolved.Headers != nil {
		t.Errorf("expected nil headers, got %v", resolved.Headers)
	}
	if resolved.MsgID != "" {
		t.Errorf("expected empty MsgID, got %q", resolved.MsgID)
	}
}

func TestWithMsgID(t *testing.T) {
	resolved := NewPublishOptions(WithMsgID("update-1"), WithMsgID("update-2"))
	if resolved.MsgID != "update-2" {
		t.Errorf("expected last MsgID to win, got %q", resolved.MsgID)
	}
}

type stubClient struct {
	Client
	connected bool
	rtt       time.Duration
	rttErr    error
}

func (s *stubClient) IsConnected() bool { return s.connected }
func (s *stubClient) RTT() (time.Duration, error) { return s.rtt, s.rttErr }

func TestCheckClientHealth(t *testing.T) {
	tests := []struct {
		name    string
		client  Client
		healthy bool
		latency int64
	}{
		{name: "nil client", client: nil},
		{name: "disconnected", client: &stubClient{connected: false}},
		{name: "rtt failure", client: &stubClient{connected: true, rttErr: errors.New("timeout")}},
		{name: "healthy", client: &stubClient{connected: true, rtt: 3 * time.Millisecond}, healthy: true, latency: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := CheckClientHealth(tt.client)
			if status.Healthy() != tt.healthy {
				t.Errorf("Healthy() = %v, want %v (%+v)", status.Healthy(), tt.healthy, status)
			}
			if !tt.healthy && status.Error == "" {
				t.Error("expected an error message for unhealthy status")
			}
			if status.LatencyMs != tt.latency {
				t.Errorf("LatencyMs = %d, want %d", status.LatencyMs, tt.latency)
			}
		})
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic     string
		wildcards bool
		wantErr   bool
	}{
		{TopicFromTelegram, false, false},
		{TopicToTelegram, false, false},
		{"telegram.updates", false, false},
		{"", false, true},
		{"has space", false, true},
		{"a..b", false, true},
		{".leading", false, true},
		{"telegram.*", false, true},
		{"telegram.*", true, false},
		{"telegram.>", true, false},
		{"telegram.>.x", true, true},
		{"tele*gram", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic, tt.wildcards)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTopic(%q, %v) error = %v, wantErr %v", tt.topic, tt.wildcards, err, tt.wantErr)
			}
		})
	}
}
