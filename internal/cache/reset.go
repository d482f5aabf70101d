package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrResetTokenNotFound is returned when a presented reset token has no matching cache entry (never issued,
// already redeemed, or expired).
var ErrResetTokenNotFound = errors.New("reset token not found")

// ResetStore holds single-use password-reset tokens keyed by the SHA-256 of the opaque token value, per spec: the
// cache never stores the plaintext token, only its digest.
type ResetStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResetStore creates a ResetStore with the given TTL (spec default 1 hour).
func NewResetStore(rdb *redis.Client, ttl time.Duration) *ResetStore {
	return &ResetStore{rdb: rdb, ttl: ttl}
}

func resetKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "reset:" + hex.EncodeToString(sum[:])
}

// Issue stores userID under the hash of a freshly generated opaque token and returns that token to the caller.
func (s *ResetStore) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	token := uuid.NewString() + uuid.NewString()
	if err := s.rdb.Set(ctx, resetKey(token), userID.String(), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return token, nil
}

// redeemScript atomically reads and deletes the reset-token key so the same token cannot be redeemed twice even
// under concurrent requests.
//
//	KEYS[1] = reset:{sha256(token)}
var redeemScript = redis.NewScript(`
local userId = redis.call('GET', KEYS[1])
if not userId then
    return false
end
redis.call('DEL', KEYS[1])
return userId
`)

// Redeem looks up and deletes the reset token in one atomic step, returning the associated user id. Returns
// ErrResetTokenNotFound if the token was never issued, already redeemed, or has expired.
func (s *ResetStore) Redeem(ctx context.Context, token string) (uuid.UUID, error) {
	result, err := redeemScript.Run(ctx, s.rdb, []string{resetKey(token)}).Text()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrResetTokenNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("redeem reset token: %w", err)
	}

	userID, err := uuid.Parse(result)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user id from reset token: %w", err)
	}
	return userID, nil
}
