package inbound

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidEncoding is returned for payloads that are not UTF-8 text.
	ErrInvalidEncoding = errors.New("payload is not valid UTF-8")

	// ErrMalformedEnvelope is returned when the payload does not split into
	// a non-empty operation and a non-empty body.
	ErrMalformedEnvelope = errors.New(`payload is not "<operation>\n<body>"`)
)

// Envelope is a decoded inbound message: the Bot API operation and the
// JSON body to post to it.
type Envelope struct {
	Operation string
	Body      string
}

// ParseEnvelope splits payload on its first newline. The body is kept
// verbatim and may itself contain newlines.
func ParseEnvelope(payload []byte) (Envelope, error) {
	if !utf8.Valid(payload) {
		return Envelope{}, ErrInvalidEncoding
	}

	operation, body, found := strings.Cut(string(payload), "\n")
	if !found || operation == "" || body == "" {
		return Envelope{}, ErrMalformedEnvelope
	}
	return Envelope{Operation: operation, Body: body}, nil
}
