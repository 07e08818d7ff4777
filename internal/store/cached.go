package store

import (
	"context"
	"maps"
	"time"

	"github.com/patrickmn/go-cache"
)

const postKeyPrefix = "post:"

// Cached serves post reads from memory and keeps the cache current on writes that go
// through it.
type Cached struct {
	Repository
	cache *cache.Cache
}

// NewCached wraps repo with a read cache whose entries live for ttl.
func NewCached(repo Repository, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{Repository: repo, cache: cache.New(ttl, 2*ttl)}
}

func copyPost(p Post) Post {
	p.Metadata = maps.Clone(p.Metadata)
	return p
}

func (c *Cached) remember(p Post) {
	c.cache.Set(postKeyPrefix+p.ID, copyPost(p), cache.DefaultExpiration)
}

func (c *Cached) GetPost(ctx context.Context, id string) (Post, error) {
	if v, ok := c.cache.Get(postKeyPrefix + id); ok {
		if p, ok := v.(Post); ok {
			return copyPost(p), nil
		}
	}
	p, err := c.Repository.GetPost(ctx, id)
	if err != nil {
		return Post{}, err
	}
	c.remember(p)
	return p, nil
}

func (c *Cached) InsertPost(ctx context.Context, post Post) (Post, error) {
	p, err := c.Repository.InsertPost(ctx, post)
	if err != nil {
		return Post{}, err
	}
	c.remember(p)
	return p, nil
}

func (c *Cached) UpdatePost(ctx context.Context, id string, patch PostPatch) (Post, error) {
	p, err := c.Repository.UpdatePost(ctx, id, patch)
	if err != nil {
		c.Invalidate(id)
		return Post{}, err
	}
	c.remember(p)
	return p, nil
}

func (c *Cached) MutatePost(ctx context.Context, id string, fn func(Post) (PostPatch, error)) (Post, error) {
	p, err := c.Repository.MutatePost(ctx, id, fn)
	if err != nil {
		c.Invalidate(id)
		return Post{}, err
	}
	c.remember(p)
	return p, nil
}

// Invalidate drops the cached copy of a post.
func (c *Cached) Invalidate(id string) {
	c.cache.Delete(postKeyPrefix + id)
}

// Len is the number of cached entries.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}
