// Package groupmessage implements GroupMessage and GroupMessageRead (spec §3) and the repository contract the
// group-message handler and REST surface need.
package groupmessage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a message_id has no matching row.
var ErrNotFound = errors.New("group message not found")

// MaxContentLength is the upper bound on message content length (spec §3, same bound as direct messages).
const MaxContentLength = 10000

// Message is a single group message row. Per-recipient read state lives separately in GroupMessageRead.
type Message struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	SenderID  uuid.UUID
	Content   string
	Type      string
	CreatedAt time.Time
}

// Read is a single GroupMessageRead row.
type Read struct {
	MessageID uuid.UUID
	UserID    uuid.UUID
	ReadAt    time.Time
}

// CreateParams groups the inputs for Create.
type CreateParams struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	SenderID  uuid.UUID
	Content   string
	Type      string
	CreatedAt time.Time
}

// Repository defines the data-access contract for group messages and read receipts.
type Repository interface {
	// Create inserts a new group message row, stored once regardless of member count (spec §3).
	Create(ctx context.Context, params CreateParams) error
	// GetByIDs fetches the messages referenced by ids; used to hydrate an offline-queue batch (spec §4.5 step 2).
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Message, error)
	// MarkRead upserts a GroupMessageRead row for (messageID, userID). Returns true if this call created the row
	// (first read), false if a read receipt already existed, so the caller can suppress a duplicate notification.
	MarkRead(ctx context.Context, messageID, userID uuid.UUID) (senderID uuid.UUID, created bool, err error)
	// ListForGroup returns messages in groupID, descending by created_at, page-limited (spec §4.6: GET
	// /groups/{id}/messages).
	ListForGroup(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*Message, error)
	// CountForGroup returns the total number of messages in groupID, for pagination totals.
	CountForGroup(ctx context.Context, groupID uuid.UUID) (int, error)
}
