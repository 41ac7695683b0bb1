package logging

import (
	"log/slog"
	"time"
)

// Field names shared by both bridges so log queries work across directions.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldTopic      = "topic"
	FieldOperation  = "operation"
	FieldUpdateID   = "update_id"
	FieldOffset     = "offset"
	FieldDeliveryID = "delivery_id"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldCount      = "count"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute naming the bridge direction.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// Topic returns a slog attribute for a broker topic.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// Operation returns a slog attribute for a Bot API operation name.
func Operation(op string) slog.Attr {
	return slog.String(FieldOperation, op)
}

// UpdateID returns a slog attribute for a platform update identifier.
func UpdateID(id uint64) slog.Attr {
	return slog.Uint64(FieldUpdateID, id)
}

// Offset returns a slog attribute for the poll cursor.
func Offset(offset uint64) slog.Attr {
	return slog.Uint64(FieldOffset, offset)
}

// DeliveryID returns a slog attribute for a delivery ID.
func DeliveryID(id string) slog.Attr {
	return slog.String(FieldDeliveryID, id)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Count returns a slog attribute for a number of items.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}
