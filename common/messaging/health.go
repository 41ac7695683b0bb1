package messaging

import (
	"fmt"
	"time"
)

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	// Connected indicates if the client is connected.
	Connected bool `json:"connected"`

	// LatencyMs is the broker round trip time in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Error contains any error message if unhealthy.
	Error string `json:"error,omitempty"`
}

// Healthy reports whether the status describes a usable connection.
func (s HealthStatus) Healthy() bool {
	return s.Connected && s.Error == ""
}

// CheckClientHealth checks if a Client is healthy by verifying the
// connection and measuring a broker round trip.
func CheckClientHealth(client Client) HealthStatus {
	status := HealthStatus{}

	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	rtt, err := client.RTT()
	if err != nil {
		status.Error = fmt.Sprintf("health check failed: %v", err)
		return status
	}
	status.LatencyMs = rtt.Round(time.Millisecond).Milliseconds()

	return status
}
