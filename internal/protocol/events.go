// Package protocol defines the events exchanged by tabs over the broadcast
// channel. Every event is a JSON object with a "type" discriminator plus the
// user or message payload the type requires.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/nexus/chat-app/internal/model"
)

// Event types.
const (
	TypeMessage    = "MESSAGE"
	TypeJoin       = "JOIN"
	TypePresence   = "PRESENCE"
	TypeLeave      = "LEAVE"
	TypeUserUpdate = "USER_UPDATE"
)

// Event is the bus envelope. From identifies the posting connection so
// receivers can drop their own posts; Ts orders presence updates.
type Event struct {
	Type    string         `json:"type"`
	User    *model.User    `json:"user,omitempty"`
	Message *model.Message `json:"message,omitempty"`
	From    string         `json:"from,omitempty"`
	Ts      int64          `json:"ts,omitempty"` // unix ms
}

// NewUserEvent builds a JOIN, PRESENCE, LEAVE or USER_UPDATE event. The user
// is sanitized so no credential is ever encoded.
func NewUserEvent(eventType, from string, u model.User) Event {
	s := u.Sanitized()
	return Event{Type: eventType, User: &s, From: from, Ts: model.NowMillis()}
}

// NewMessageEvent builds a MESSAGE event.
func NewMessageEvent(from string, m model.Message) Event {
	return Event{Type: TypeMessage, Message: &m, From: from, Ts: model.NowMillis()}
}

// Encode serializes e. User payloads are sanitized again on the way out.
func Encode(e Event) ([]byte, error) {
	if e.User != nil && e.User.Password != "" {
		s := e.User.Sanitized()
		e.User = &s
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses data and checks that the event carries the payload its type
// requires.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("protocol: failed to unmarshal event: %w", err)
	}

	switch e.Type {
	case TypeMessage:
		if e.Message == nil {
			return Event{}, fmt.Errorf("protocol: %s without message", e.Type)
		}
	case TypeJoin, TypePresence, TypeLeave, TypeUserUpdate:
		if e.User == nil {
			return Event{}, fmt.Errorf("protocol: %s without user", e.Type)
		}
		if e.User.ID == "" {
			return Event{}, fmt.Errorf("protocol: %s with empty user id", e.Type)
		}
	case "":
		return Event{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	default:
		return Event{}, fmt.Errorf("protocol: unknown event type %q", e.Type)
	}
	return e, nil
}
