package user

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedRepository wraps a Repository with a read-through LRU cache over username lookups, the hot path for both
// lookup_user and the direct-message handler's recipient-existence check. The cache is purely an accelerator in
// front of the durable log — it is never consulted for writes, and only successful lookups are cached.
type CachedRepository struct {
	Repository
	byUsername *lru.Cache[string, *User]
}

// NewCachedRepository wraps repo with an LRU cache holding up to size username->User entries.
func NewCachedRepository(repo Repository, size int) *CachedRepository {
	cache, _ := lru.New[string, *User](size)
	return &CachedRepository{Repository: repo, byUsername: cache}
}

// GetByUsername returns the cached user for username if present, otherwise falls through to the wrapped repository
// and populates the cache on success.
func (c *CachedRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	if u, ok := c.byUsername.Get(username); ok {
		return u, nil
	}
	u, err := c.Repository.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	c.byUsername.Add(username, u)
	return u, nil
}

// Create invalidates nothing (a fresh username cannot already be cached) and delegates to the wrapped repository.
func (c *CachedRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	return c.Repository.Create(ctx, params)
}

var _ Repository = (*CachedRepository)(nil)
