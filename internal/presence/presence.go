// Package presence tracks which users currently have at least one live socket, backed by short-TTL cache keys (C2).
// It is the derived, eventually-consistent view the message router consults to decide deliver-vs-queue; the
// Connection Registry (internal/registry) remains the authoritative local-node truth of "who can receive a frame
// right now on this node."
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store reads and writes presence state in the cache.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a new presence store with the given heartbeat TTL (spec default 60s).
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Set marks userID online with a fresh TTL. Called on successful registration and on every heartbeat.
func (s *Store) Set(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Set(ctx, presenceKey(userID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's presence key. Called by the Connection Registry when a user's socket set becomes empty.
func (s *Store) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete presence for %s: %w", userID, err)
	}
	return nil
}

// IsOnline reports whether userID currently holds a live presence key.
func (s *Store) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := s.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("check presence for %s: %w", userID, err)
	}
	return n > 0, nil
}

// ManyOnline batch-checks presence for a set of users in a single round trip, returning the subset that are online.
// Used by the group-message handler to partition members by presence.
func (s *Store) ManyOnline(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(userIDs) == 0 {
		return map[uuid.UUID]bool{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget presence: %w", err)
	}

	online := make(map[uuid.UUID]bool, len(userIDs))
	for i, v := range vals {
		online[userIDs[i]] = v != nil
	}
	return online, nil
}

// TryMarkTyping records a typing event from sender toward pairKey (a recipient id or group id) using SET NX with a
// 1-second TTL, so at most one typing event per (sender, target) pair is forwarded per second. Returns true when the
// event should be forwarded (key was newly set), false when it should be silently dropped.
func (s *Store) TryMarkTyping(ctx context.Context, senderID, pairKey uuid.UUID) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, typingKey(senderID, pairKey), 1, time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("set typing marker: %w", err)
	}
	return ok, nil
}

func presenceKey(userID uuid.UUID) string {
	return "user:online:" + userID.String()
}

func typingKey(senderID, pairKey uuid.UUID) string {
	return "typing:" + senderID.String() + ":" + pairKey.String()
}
