package models

import "encoding/json"

// EventType is the discriminator of a realtime frame.
type EventType string

const (
	EventReady      EventType = "ws_ready"
	EventSubscribed EventType = "subscribed"
	EventMessage    EventType = "message"
	EventPresence   EventType = "presence"
)

// IsAck reports whether the event only acknowledges the connection lifecycle.
func (t EventType) IsAck() bool {
	return t == EventReady || t == EventSubscribed
}

// Event is a decoded realtime frame. Raw keeps the original JSON for
// consumers that want fields this package does not model.
type Event struct {
	Type        EventType       `json:"type"`
	WorkspaceID int64           `json:"workspaceId,omitempty"`
	UserID      int64           `json:"userId,omitempty"`
	Online      bool            `json:"online,omitempty"`
	Message     *Message        `json:"message,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}
