// Package gateway implements the Message Router (C6): a per-socket dispatcher that reads the flat JSON frame
// protocol of spec.md §6 and drives the direct-message, group-message, typing, read-receipt, and heartbeat handlers.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FrameType is the `type` discriminator on every wire frame, both inbound and outbound (spec §6).
type FrameType string

const (
	// Client -> server
	TypeMessageSend      FrameType = "message.send"
	TypeGroupMessageSend FrameType = "message.group.send"
	TypeMessageRead      FrameType = "message.read"
	TypeTyping           FrameType = "typing"
	TypePing             FrameType = "ping"

	// Server -> client
	TypeMessageNew      FrameType = "message.new"
	TypeGroupMessageNew FrameType = "message.group.new"
	TypeMessagesOffline FrameType = "messages.offline"
	TypeMessageAck      FrameType = "message.ack"
	TypePong            FrameType = "pong"
	TypeError           FrameType = "error"
)

// Envelope is the outer shape of every frame: a type discriminator plus a type-specific payload. Inbound frames are
// decoded in two passes (envelope, then payload by type) so an unrecognised type still yields a well-formed error
// response instead of a parse failure (spec §9: "Dynamic dict frames -> tagged variants").
type Envelope struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"-"`
}

// inboundEnvelope is used only to read the type discriminator before re-unmarshaling the whole frame into the
// type-specific struct, since the payload fields are flat (not nested under a "data" key) per spec §6's frame table.
type inboundEnvelope struct {
	Type FrameType `json:"type"`
}

// MessageSendFrame is the inbound message.send payload.
type MessageSendFrame struct {
	Type        FrameType `json:"type"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type,omitempty"`
}

// GroupMessageSendFrame is the inbound message.group.send payload.
type GroupMessageSendFrame struct {
	Type        FrameType `json:"type"`
	GroupID     uuid.UUID `json:"group_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type,omitempty"`
}

// MessageReadFrame is the inbound message.read payload.
type MessageReadFrame struct {
	Type      FrameType `json:"type"`
	MessageID uuid.UUID `json:"message_id"`
}

// TypingFrame is the inbound typing payload. Exactly one of RecipientID/GroupID must be set.
type TypingFrame struct {
	Type        FrameType  `json:"type"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
}

// MessageNewFrame is the outbound frame delivered to a direct-message recipient.
type MessageNewFrame struct {
	Type           FrameType `json:"type"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	Content        string    `json:"content"`
	MessageType    string    `json:"message_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// GroupMessageNewFrame is the outbound frame delivered to a group-message recipient.
type GroupMessageNewFrame struct {
	Type        FrameType `json:"type"`
	MessageID   uuid.UUID `json:"message_id"`
	GroupID     uuid.UUID `json:"group_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// OfflineMessage is one entry in a messages.offline batch. Kind distinguishes which other frame shape Payload holds.
type OfflineMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MessagesOfflineFrame is the outbound replay batch sent once on successful registration (spec §4.5).
type MessagesOfflineFrame struct {
	Type     FrameType        `json:"type"`
	Messages []OfflineMessage `json:"messages"`
	Count    int              `json:"count"`
}

// AckStatus is the status field of a message.ack frame.
type AckStatus string

const (
	AckDelivered AckStatus = "delivered"
	AckQueued    AckStatus = "queued"
	AckError     AckStatus = "error"
)

// MessageAckFrame is the outbound acknowledgement sent to a message's sender.
type MessageAckFrame struct {
	Type      FrameType `json:"type"`
	MessageID uuid.UUID `json:"message_id"`
	Status    AckStatus `json:"status"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageReadNotifyFrame is the outbound read-receipt notification sent to the original sender.
type MessageReadNotifyFrame struct {
	Type      FrameType `json:"type"`
	MessageID uuid.UUID `json:"message_id"`
	ReaderID  uuid.UUID `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

// TypingNotifyFrame is the outbound typing indicator forwarded to recipients.
type TypingNotifyFrame struct {
	Type        FrameType  `json:"type"`
	UserID      uuid.UUID  `json:"user_id"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
}

// PongFrame is the outbound heartbeat reply.
type PongFrame struct {
	Type      FrameType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame is the outbound protocol/validation error frame. The connection stays open (spec §7): only
// auth-expired closes the socket, and that happens via a close frame, not an ErrorFrame.
type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every outbound frame type here is a plain struct of JSON-safe fields; a marshal failure would mean a
		// programming error (e.g. an unsupported field type), not a runtime condition to recover from.
		panic("gateway: marshal outbound frame: " + err.Error())
	}
	return data
}
