package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsechat/pulsechat-server/internal/metrics"
)

// hashToken returns the hex-encoded SHA-256 of an opaque refresh token, the form stored in the refresh_tokens table
// (spec §3: "Stored as SHA-256 hash only").
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// newOpaqueToken generates a high-entropy opaque token suitable for a refresh or reset token.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RefreshStore persists refresh tokens in PostgreSQL, substituting the teacher's Redis-backed rotateScript with a
// single compare-and-set SQL statement (spec §4.1: "a compare-and-set on the revoked flag or a row-level lock").
type RefreshStore struct {
	db  *pgxpool.Pool
	ttl time.Duration
}

// NewRefreshStore constructs a RefreshStore backed by db, issuing tokens with the given lifetime.
func NewRefreshStore(db *pgxpool.Pool, ttl time.Duration) *RefreshStore {
	return &RefreshStore{db: db, ttl: ttl}
}

// Issue creates and stores a new refresh token for userID, returning the opaque (unhashed) token to hand to the
// client.
func (s *RefreshStore) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, expires_at, revoked)
		 VALUES ($1, $2, $3, false)`,
		hashToken(token), userID, time.Now().Add(s.ttl),
	)
	if err != nil {
		return "", fmt.Errorf("insert refresh token: %w", err)
	}

	return token, nil
}

// Rotate atomically consumes presented and issues a replacement, per spec §4.1's refresh contract: look up by hash,
// verify not-expired and not-revoked, revoke it, insert a new hashed token. The UPDATE's WHERE clause (revoked =
// false AND expires_at > now()) combined with its RETURNING clause gives exactly-one-winner semantics under
// concurrent presentation of the same token without needing a Lua script or explicit row lock — Postgres' MVCC
// serializes the conflicting UPDATEs and only the first to commit sees revoked = false.
func (s *RefreshStore) Rotate(ctx context.Context, presented string) (string, uuid.UUID, error) {
	var userID uuid.UUID
	err := s.db.QueryRow(ctx,
		`UPDATE refresh_tokens SET revoked = true
		 WHERE token_hash = $1 AND revoked = false AND expires_at > now()
		 RETURNING user_id`,
		hashToken(presented),
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.RefreshRotations.WithLabelValues("reused").Inc()
		return "", uuid.Nil, ErrRefreshTokenReused
	}
	if err != nil {
		metrics.RefreshRotations.WithLabelValues("error").Inc()
		return "", uuid.Nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	newToken, err := s.Issue(ctx, userID)
	if err != nil {
		metrics.RefreshRotations.WithLabelValues("error").Inc()
		return "", uuid.Nil, err
	}

	metrics.RefreshRotations.WithLabelValues("success").Inc()
	return newToken, userID, nil
}

// Revoke marks presented as revoked, used by logout. Idempotent: revoking an already-revoked or unknown token is not
// an error (spec §4.2: "logout ... idempotent").
func (s *RefreshStore) Revoke(ctx context.Context, presented string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE token_hash = $1`,
		hashToken(presented),
	)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll revokes every outstanding refresh token for userID.
func (s *RefreshStore) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return nil
}

// PruneExpired deletes refresh token rows that expired more than gracePeriod ago, keeping the table from growing
// unboundedly. Intended to be run periodically by the backoff-restarted sweep goroutine in cmd/pulsechatd.
func (s *RefreshStore) PruneExpired(ctx context.Context, gracePeriod time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`,
		time.Now().Add(-gracePeriod),
	)
	if err != nil {
		return 0, fmt.Errorf("prune expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
