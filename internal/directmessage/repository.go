package directmessage

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

const selectColumns = `id, sender_id, recipient_id, content, type, created_at, delivered_at, read_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Type, &m.CreatedAt, &m.DeliveredAt, &m.ReadAt); err != nil {
		return nil, fmt.Errorf("scan direct message: %w", err)
	}
	return &m, nil
}

// PGRepository implements Repository using PostgreSQL. Create is wrapped in a circuit breaker (SPEC_FULL.md §4.10)
// so a struggling pool surfaces PERSIST_FAILED quickly instead of hanging every router goroutine.
type PGRepository struct {
	db      *pgxpool.Pool
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker
}

// NewPGRepository creates a new PostgreSQL-backed direct-message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	breaker := resilience.NewLogWriteBreaker("direct_message_write", func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	})
	return &PGRepository{db: db, log: logger, breaker: breaker}
}

// Create inserts a new direct message row, fire-and-forget on the caller's side (spec §4.4): the router calls this
// synchronously on the offline branch and asynchronously (in its own goroutine) on the online branch.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) error {
	return resilience.Do(r.breaker, func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO direct_messages (id, sender_id, recipient_id, content, type, created_at, delivered_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			params.ID, params.SenderID, params.RecipientID, params.Content, params.Type, params.CreatedAt, params.DeliveredAt,
		)
		if err != nil {
			return fmt.Errorf("insert direct message: %w", err)
		}
		return nil
	})
}

// MarkDeliveredBatch sets delivered_at = now() for every message in ids still having a null delivered_at (spec §4.5
// step 4).
func (r *PGRepository) MarkDeliveredBatch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE direct_messages SET delivered_at = now() WHERE id = ANY($1) AND delivered_at IS NULL`, ids)
	if err != nil {
		return fmt.Errorf("mark direct messages delivered: %w", err)
	}
	return nil
}

// MarkRead sets read_at = now() if readerID is the recipient and read_at is currently null (spec §4.4 read-receipt
// handler). The returned bool is false (with no error) when the message was already read, letting the caller
// suppress a duplicate notification per spec §8's idempotence property.
func (r *PGRepository) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*Message, bool, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM direct_messages WHERE id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("query direct message: %w", err)
	}
	if m.RecipientID != readerID {
		return nil, false, ErrForbidden
	}
	if m.ReadAt != nil {
		return m, false, nil
	}

	updated, err := scanMessage(r.db.QueryRow(ctx,
		`UPDATE direct_messages SET read_at = now() WHERE id = $1 AND read_at IS NULL RETURNING `+selectColumns,
		messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a race with a concurrent read-receipt; re-fetch so the caller still gets a consistent view.
			m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM direct_messages WHERE id = $1`, messageID))
			if err != nil {
				return nil, false, fmt.Errorf("re-query direct message after race: %w", err)
			}
			return m, false, nil
		}
		return nil, false, fmt.Errorf("mark direct message read: %w", err)
	}
	return updated, true, nil
}

// GetByIDs fetches the messages referenced by ids (spec §4.5 step 2).
func (r *PGRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM direct_messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query direct messages by ids: %w", err)
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

// ListConversations returns one summary per peer userID has exchanged messages with, most recent first (spec §4.6).
func (r *PGRepository) ListConversations(ctx context.Context, userID uuid.UUID) ([]*ConversationSummary, error) {
	rows, err := r.db.Query(ctx, `
		WITH peers AS (
			SELECT recipient_id AS peer_id, content, created_at
			FROM direct_messages WHERE sender_id = $1
			UNION ALL
			SELECT sender_id AS peer_id, content, created_at
			FROM direct_messages WHERE recipient_id = $1
		),
		latest AS (
			SELECT DISTINCT ON (peer_id) peer_id, content, created_at
			FROM peers ORDER BY peer_id, created_at DESC
		),
		unread AS (
			SELECT sender_id AS peer_id, count(*) AS unread_count
			FROM direct_messages
			WHERE recipient_id = $1 AND read_at IS NULL
			GROUP BY sender_id
		)
		SELECT latest.peer_id, latest.content, latest.created_at, COALESCE(unread.unread_count, 0)
		FROM latest
		LEFT JOIN unread ON unread.peer_id = latest.peer_id
		ORDER BY latest.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []*ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		if err := rows.Scan(&s.PeerID, &s.LastMessage, &s.LastMessageAt, &s.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ListConversation returns messages between userID and peerID, descending by created_at, page-limited (spec §4.6).
func (r *PGRepository) ListConversation(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]*Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+selectColumns+` FROM direct_messages
		WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, userID, peerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
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

// CountConversation returns the total number of messages between userID and peerID (spec §4.6 pagination totals).
func (r *PGRepository) CountConversation(ctx context.Context, userID, peerID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM direct_messages
		 WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)`,
		userID, peerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count conversation: %w", err)
	}
	return count, nil
}

var _ Repository = (*PGRepository)(nil)
