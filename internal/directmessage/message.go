// Package directmessage implements the one-to-one half of the durable log (C1): DirectMessage rows and the queries
// the message router and REST surface need against them (spec §3, §4.4, §4.6).
package directmessage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a message_id has no matching row.
var ErrNotFound = errors.New("direct message not found")

// MaxContentLength is the upper bound on message content length (spec §3: "1-10 000 chars").
const MaxContentLength = 10000

// Message is a single direct message row.
type Message struct {
	ID          uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Content     string
	Type        string
	CreatedAt   time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// ConversationSummary is one row of GET /conversations: a peer plus a preview of the most recent message and the
// caller's unread count against that peer (spec §4.6).
type ConversationSummary struct {
	PeerID        uuid.UUID
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
}

// CreateParams groups the inputs for Create.
type CreateParams struct {
	ID          uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Content     string
	Type        string
	CreatedAt   time.Time
	// DeliveredAt is non-nil when the message is created already-delivered (the online fan-out branch of spec
	// §4.4 sets this to CreatedAt at persistence time); nil means the offline branch (queued, delivered_at NULL).
	DeliveredAt *time.Time
}

// Repository defines the data-access contract for direct messages.
type Repository interface {
	// Create inserts a new direct message row.
	Create(ctx context.Context, params CreateParams) error
	// MarkDeliveredBatch sets delivered_at = now() for every id in ids still having a null delivered_at (spec §4.5
	// step 4, offline replay hydration).
	MarkDeliveredBatch(ctx context.Context, ids []uuid.UUID) error
	// MarkRead sets read_at = now() on messageID if readerID is the recipient and read_at is currently null.
	// Returns (message, true, nil) if the update took effect, (message, false, nil) if the message was already
	// read (so the caller can suppress a duplicate notification), or ErrNotFound/ErrForbidden otherwise.
	MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*Message, bool, error)
	// GetByIDs fetches the messages referenced by ids, in no particular order; used to hydrate an offline-queue
	// batch (spec §4.5 step 2).
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Message, error)
	// ListConversations returns one ConversationSummary per peer userID has exchanged messages with, most recent
	// first (spec §4.6: GET /conversations).
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*ConversationSummary, error)
	// ListConversation returns messages between userID and peerID, descending by created_at, page-limited (spec
	// §4.6: GET /conversation/{peer}).
	ListConversation(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]*Message, error)
	// CountConversation returns the total number of messages between userID and peerID, for pagination totals on
	// GET /conversation/{peer}.
	CountConversation(ctx context.Context, userID, peerID uuid.UUID) (int, error)
}

// ErrForbidden is returned by MarkRead when the caller is not the message's recipient.
var ErrForbidden = errors.New("caller is not the recipient of this message")
