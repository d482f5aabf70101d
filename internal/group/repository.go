package group

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

const selectColumns = `id, name, creator_id, created_at`

func scanGroup(row pgx.Row) (*Group, error) {
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.CreatorID, &g.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	return &g, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed group repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new group and its creator's admin membership row in a single transaction, so a failure partway
// through never leaves a group with no members.
func (r *PGRepository) Create(ctx context.Context, name string, creatorID uuid.UUID) (*Group, error) {
	var g *Group
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		g, err = scanGroup(tx.QueryRow(ctx,
			`INSERT INTO groups (name, creator_id) VALUES ($1, $2) RETURNING `+selectColumns, name, creatorID))
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)`, g.ID, creatorID, RoleAdmin); err != nil {
			return fmt.Errorf("insert creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetByID returns the group matching id, or ErrNotFound.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Group, error) {
	g, err := scanGroup(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM groups WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query group by id: %w", err)
	}
	return g, nil
}

// IsMember reports whether userID is a current member of groupID (spec §4.4 step 1).
func (r *PGRepository) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`, groupID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check group membership: %w", err)
	}
	return exists, nil
}

// MemberIDs returns the user IDs of every current member of groupID.
func (r *PGRepository) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group member ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListForUser returns every group userID is a current member of (spec §4.6: GET /groups/my).
func (r *PGRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Group, error) {
	rows, err := r.db.Query(ctx, `
		SELECT g.id, g.name, g.creator_id, g.created_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups for user: %w", err)
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
