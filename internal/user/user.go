// Package user defines the User entity and repository contract (part of C1).
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the user package.
var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("email or username already taken")
)

// Role is a user's authorization role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User holds the core identity fields read from the database.
type User struct {
	ID        uuid.UUID
	Email     string
	Username  string
	Role      Role
	CreatedAt time.Time
}

// Credentials extends User with the password hash. Only repository methods that serve the authentication path
// return this type; all other read methods return *User to prevent credential leakage at the type level.
type Credentials struct {
	User
	PasswordHash string
}

// CreateParams groups the inputs for creating a new user.
type CreateParams struct {
	Email        string
	Username     string
	PasswordHash string
	Role         Role
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByUsernameOrEmail looks up a user by either their username or email, returning credentials for login.
	GetByUsernameOrEmail(ctx context.Context, identifier string) (*Credentials, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
}
