// Package offlinequeue stores per-user reference lists of messages delivered while the user had no live socket (C2).
// Entries carry only {message_id, kind}; canonical content always lives in the durable log (C1) — the queue never
// duplicates message bodies, per the source's ambiguity resolved in favor of a pure reference list.
package offlinequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Kind identifies which log table a queued entry's message_id resolves against.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Entry is a single queued reference.
type Entry struct {
	MessageID uuid.UUID `json:"message_id"`
	Kind      Kind      `json:"kind"`
}

// Store manages the offline queue in the cache.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates an offline-queue Store with the given TTL (spec default 7 days).
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func queueKey(userID uuid.UUID) string { return "user:offline:" + userID.String() }

// Push appends an entry to userID's offline queue, refreshing the TTL. Order is preserved for replay (oldest first).
func (s *Store) Push(ctx context.Context, userID uuid.UUID, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal offline queue entry: %w", err)
	}

	key := queueKey(userID)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push offline queue entry: %w", err)
	}
	return nil
}

// drainScript atomically reads the entire list and deletes the key, so a Push racing with a Drain either lands
// before the read (and is drained) or after the delete (and starts a fresh queue) — it can never be silently lost
// between the read and the delete, which two separate round trips could allow.
//
//	KEYS[1] = user:offline:{userID}
var drainScript = redis.NewScript(`
local entries = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return entries
`)

// Drain atomically snapshots and clears userID's offline queue, returning the entries in their original (oldest
// first) order. Called once per socket on successful registration (C7 step 1).
func (s *Store) Drain(ctx context.Context, userID uuid.UUID) ([]Entry, error) {
	raw, err := drainScript.Run(ctx, s.rdb, []string{queueKey(userID)}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("drain offline queue: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
