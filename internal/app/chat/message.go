/*
Package chat contains the real-time messaging core: per-room coordinators,
session lifecycle management, message fanout, and the canonical room key scheme.

This file defines the message record, the closed set of inbound frame kinds, and
the outbound event envelope shared by fanout, targeted notifications, and the
signaling relay.
*/
package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxContentBytes is the maximum allowed size (in bytes) for message body text.
	MaxContentBytes = 5000
)

// Identity is the immutable sender identity embedded in every message.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// DeliveryStatus is the per-message delivery state.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Valid reports whether s is one of the recognized delivery states.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// Attachment describes a file stored in object storage and referenced by a message.
type Attachment struct {
	Key      string `json:"fileKey"`
	Name     string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"fileSize"`
}

// Message is a single persisted room message. Identity and sender fields are
// immutable after append; the reaction map, pinned flag, and delivery status
// are mutated through the store only.
type Message struct {
	ID         string              `json:"id"`
	RoomKey    string              `json:"room"`
	Sender     Identity            `json:"sender"`
	Body       string              `json:"text"`
	Attachment *Attachment         `json:"attachment,omitempty"`
	Reactions  map[string][]string `json:"reactions"`
	Pinned     bool                `json:"pinned"`
	Status     DeliveryStatus      `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// NewMessage builds an unpersisted message record for the given room and sender.
// The store assigns the authoritative timestamps on append.
func NewMessage(roomKey string, sender Identity, body string, attachment *Attachment) Message {
	return Message{
		ID:         uuid.New().String(),
		RoomKey:    roomKey,
		Sender:     sender,
		Body:       body,
		Attachment: attachment,
		Reactions:  map[string][]string{},
		Status:     StatusSent,
	}
}

// HasReaction reports whether userID already reacted with emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			return true
		}
	}
	return false
}

// FrameType discriminates the closed set of inbound frame kinds.
type FrameType string

const (
	FrameAuth           FrameType = "auth"
	FrameMessage        FrameType = "message"
	FrameStatusUpdate   FrameType = "message_status_update"
	FrameReaction       FrameType = "reaction"
	FrameCallInvitation FrameType = "call_invitation"
)

// Frame is the decoded inbound wire frame. Only the fields belonging to the
// tagged variant are populated; everything else stays zero.
type Frame struct {
	Type       FrameType       `json:"type"`
	Token      string          `json:"token,omitempty"`
	Text       string          `json:"text,omitempty"`
	Attachment *Attachment     `json:"attachment,omitempty"`
	CallID     string          `json:"callId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// StatusUpdatePayload is the nested payload of a message_status_update frame.
type StatusUpdatePayload struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
	Room      string         `json:"room,omitempty"`
}

// ReactionPayload is the nested payload of a reaction frame.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// EventType discriminates outbound events pushed to sessions.
type EventType string

const (
	EventAuthOK         EventType = "auth_ok"
	EventAuthError      EventType = "auth_error"
	EventMessage        EventType = "message"
	EventMessageStatus  EventType = "message_status"
	EventReaction       EventType = "reaction"
	EventCallInvitation EventType = "call_invitation"
	EventError          EventType = "error"
)

// Event is the outbound envelope written to a session's send queue.
type Event struct {
	Type      EventType `json:"type"`
	Room      string    `json:"room,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewEvent constructs an event envelope stamped with the current time.
func NewEvent(eventType EventType, roomKey string, payload any) Event {
	return Event{
		Type:      eventType,
		Room:      roomKey,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// StatusEventPayload is broadcast to the original sender's sessions after a
// delivery-status mutation.
type StatusEventPayload struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
	UpdatedBy string         `json:"updatedBy"`
}

// ReactionEventPayload carries the full updated reacting-user set for one emoji.
type ReactionEventPayload struct {
	MessageID string   `json:"messageId"`
	Emoji     string   `json:"emoji"`
	Users     []string `json:"users"`
}

// CallInvitationPayload is relayed to the room without persistence.
type CallInvitationPayload struct {
	CallID string   `json:"callId"`
	From   Identity `json:"from"`
}

// ErrorEventPayload mirrors the errs code/message pair on the socket path.
type ErrorEventPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
