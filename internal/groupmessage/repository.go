package groupmessage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/pulsechat/pulsechat-server/internal/resilience"
)

const selectColumns = `id, group_id, sender_id, content, type, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan group message: %w", err)
	}
	return &m, nil
}

// PGRepository implements Repository using PostgreSQL. Create is wrapped in a circuit breaker (SPEC_FULL.md §4.10),
// mirroring directmessage.PGRepository.
type PGRepository struct {
	db      *pgxpool.Pool
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker
}

// NewPGRepository creates a new PostgreSQL-backed group-message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	breaker := resilience.NewLogWriteBreaker("group_message_write", func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	})
	return &PGRepository{db: db, log: logger, breaker: breaker}
}

// Create inserts a new group message row (spec §4.4 group-message handler step 2).
func (r *PGRepository) Create(ctx context.Context, params CreateParams) error {
	return resilience.Do(r.breaker, func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO group_messages (id, group_id, sender_id, content, type, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			params.ID, params.GroupID, params.SenderID, params.Content, params.Type, params.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert group message: %w", err)
		}
		return nil
	})
}

// GetByIDs fetches the messages referenced by ids (spec §4.5 step 2).
func (r *PGRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM group_messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query group messages by ids: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkRead upserts a GroupMessageRead row for (messageID, userID) (spec §4.4 read-receipt handler, group branch).
// The sender_id of the referenced message is returned so the caller can notify them if online.
func (r *PGRepository) MarkRead(ctx context.Context, messageID, userID uuid.UUID) (uuid.UUID, bool, error) {
	var senderID uuid.UUID
	if err := r.db.QueryRow(ctx, `SELECT sender_id FROM group_messages WHERE id = $1`, messageID).Scan(&senderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, ErrNotFound
		}
		return uuid.Nil, false, fmt.Errorf("query group message sender: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO group_message_reads (message_id, user_id, read_at) VALUES ($1, $2, now())
		 ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upsert group message read: %w", err)
	}

	return senderID, tag.RowsAffected() > 0, nil
}

// ListForGroup returns messages in groupID, descending by created_at, page-limited (spec §4.6).
func (r *PGRepository) ListForGroup(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM group_messages WHERE group_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query group messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountForGroup returns the total number of messages in groupID (spec §4.6 pagination totals).
func (r *PGRepository) CountForGroup(ctx context.Context, groupID uuid.UUID) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM group_messages WHERE group_id = $1`, groupID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count group messages: %w", err)
	}
	return count, nil
}

var _ Repository = (*PGRepository)(nil)
