package messaging

import (
	"fmt"
	"strings"
)

// Default topics, named after the direction of travel relative to Telegram.
const (
	TopicFromTelegram = "messages-from-telegram"
	TopicToTelegram   = "messages-to-telegram"
)

// ValidateTopic checks that topic is a usable subject. Wildcard tokens are
// only accepted when allowWildcards is set (subscriptions, not publishes).
func ValidateTopic(topic string, allowWildcards bool) error {
	if topic == "" {
		return fmt.Errorf("topic is empty")
	}
	if strings.ContainsAny(topic, " \t\r\n") {
		return fmt.Errorf("topic %q contains whitespace", topic)
	}

	tokens := strings.Split(topic, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return fmt.Errorf("topic %q has an empty token", topic)
		case tok == "*" || tok == ">":
			if !allowWildcards {
				return fmt.Errorf("topic %q contains wildcard %q", topic, tok)
			}
			if tok == ">" && i != len(tokens)-1 {
				return fmt.Errorf("topic %q: '>' must be the last token", topic)
			}
		case strings.ContainsAny(tok, "*>"):
			return fmt.Errorf("topic %q has a malformed token %q", topic, tok)
		}
	}
	return nil
}
