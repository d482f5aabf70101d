package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestIssueAndRedeem(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, time.Hour)
	ctx := context.Background()
	userID := uuid.New()

	token, err := store.Issue(ctx, userID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := store.Redeem(ctx, token)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if got != userID {
		t.Errorf("Redeem() = %v, want %v", got, userID)
	}
}

func TestRedeemIsSingleUse(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := store.Redeem(ctx, token); err != nil {
		t.Fatalf("first Redeem() error = %v", err)
	}

	_, err = store.Redeem(ctx, token)
	if !errors.Is(err, ErrResetTokenNotFound) {
		t.Errorf("second Redeem() error = %v, want ErrResetTokenNotFound", err)
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, time.Hour)

	_, err := store.Redeem(context.Background(), "never-issued")
	if !errors.Is(err, ErrResetTokenNotFound) {
		t.Errorf("Redeem() error = %v, want ErrResetTokenNotFound", err)
	}
}

func TestResetTokenExpires(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	store := NewResetStore(rdb, time.Hour)
	ctx := context.Background()

	token, err := store.Issue(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	mr.FastForward(time.Hour + time.Minute)

	_, err = store.Redeem(ctx, token)
	if !errors.Is(err, ErrResetTokenNotFound) {
		t.Errorf("Redeem() after expiry error = %v, want ErrResetTokenNotFound", err)
	}
}
