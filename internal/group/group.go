// Package group implements Group and GroupMember (spec §3) and the repository contract the group-message handler
// and REST surface need.
package group

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a group_id has no matching row.
var ErrNotFound = errors.New("group not found")

// ErrNotMember is returned when the caller is not a current member of the group (spec §4.4: NOT_GROUP_MEMBER).
var ErrNotMember = errors.New("user is not a member of this group")

// MemberRole is a group member's role.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

// Group is a chat group row.
type Group struct {
	ID        uuid.UUID
	Name      string
	CreatorID uuid.UUID
	CreatedAt time.Time
}

// Member is a single GroupMember row.
type Member struct {
	GroupID  uuid.UUID
	UserID   uuid.UUID
	Role     MemberRole
	JoinedAt time.Time
}

// Repository defines the data-access contract for groups and membership.
type Repository interface {
	// Create inserts a new group and implicitly adds creatorID as a member with role=admin (spec §3).
	Create(ctx context.Context, name string, creatorID uuid.UUID) (*Group, error)
	// GetByID returns the group matching id, or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Group, error)
	// IsMember reports whether userID is a current member of groupID (spec §4.4 step 1).
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	// MemberIDs returns the user IDs of every current member of groupID, including the creator.
	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	// ListForUser returns every group userID is a current member of (spec §4.6: GET /groups/my).
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Group, error)
}
