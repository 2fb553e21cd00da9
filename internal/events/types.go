// Package events carries received messages and sent commands from the
// network loop to the optional sinks (MQTT relay, transcript, monitor API).
package events

import (
	"time"

	"github.com/energizer-project/chatforwarder/internal/protocol"
)

// EventType represents the type of event emitted through the Bus.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventCommandSent     EventType = "command_sent"
	EventShutdown        EventType = "shutdown"
)

// Event is a single notification on the Bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// MessageReceived describes a datagram that passed the allow-list.
type MessageReceived struct {
	SessionID  string       `json:"session_id"`
	ReceivedAt time.Time    `json:"received_at"`
	From       string       `json:"from"`
	Tag        protocol.Tag `json:"tag"`
	Label      string       `json:"label"`
	Text       string       `json:"text"`
	Raw        []byte       `json:"-"`
}

// NewMessageReceived builds the payload for a received datagram.
func NewMessageReceived(session, from string, at time.Time, dg protocol.Datagram) MessageReceived {
	return MessageReceived{
		SessionID:  session,
		ReceivedAt: at,
		From:       from,
		Tag:        dg.Tag,
		Label:      dg.Tag.Label(),
		Text:       protocol.Strip(dg.Payload),
		Raw:        dg.Payload,
	}
}

// CommandSent describes a command forwarded to the game.
type CommandSent struct {
	SessionID string    `json:"session_id"`
	SentAt    time.Time `json:"sent_at"`
	Source    string    `json:"source"`
	Command   string    `json:"command"`
	Error     string    `json:"error,omitempty"`
}
