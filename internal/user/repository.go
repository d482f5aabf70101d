package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pulsechat/pulsechat-server/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a *User.
const selectColumns = `id, email, username, role, created_at`

// selectCredentialsColumns lists the columns returned by queries that produce a *Credentials.
const selectCredentialsColumns = `id, email, username, role, created_at, password_hash`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func scanCredentials(row pgx.Row) (*Credentials, error) {
	var c Credentials
	if err := row.Scan(&c.ID, &c.Email, &c.Username, &c.Role, &c.CreatedAt, &c.PasswordHash); err != nil {
		return nil, fmt.Errorf("scan credentials: %w", err)
	}
	return &c, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new user. Email/username uniqueness is enforced at the store (spec §3).
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	role := params.Role
	if role == "" {
		role = RoleUser
	}

	u, err := scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (email, username, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+selectColumns,
		params.Email, params.Username, params.PasswordHash, role,
	))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID returns the user matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByUsername returns the user matching the given username, or ErrNotFound.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

// GetByUsernameOrEmail returns credentials for the user whose username or email matches identifier, for the login
// path (spec §4.2: "looks up by username or email").
func (r *PGRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (*Credentials, error) {
	c, err := scanCredentials(r.db.QueryRow(ctx,
		`SELECT `+selectCredentialsColumns+` FROM users WHERE username = $1 OR email = $1`, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username or email: %w", err)
	}
	return c, nil
}

// UpdatePasswordHash updates the stored password hash for a user, used both by password-reset confirmation and by
// lazy rehash-on-login when the configured bcrypt cost changes.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}
