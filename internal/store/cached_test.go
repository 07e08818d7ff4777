package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogdesk/api/internal/errs"
)

type countingRepo struct {
	*Memory
	gets int
}

func (c *countingRepo) GetPost(ctx context.Context, id string) (Post, error) {
	c.gets++
	return c.Memory.GetPost(ctx, id)
}

func TestCachedReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{Memory: NewMemory()}
	_, err := repo.InsertPost(ctx, Post{ID: "p1", BlogID: "b", Title: "one"})
	require.NoError(t, err)

	cached := NewCached(repo, time.Minute)
	for range 3 {
		p, err := cached.GetPost(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "one", p.Title)
	}
	assert.Equal(t, 1, repo.gets)
}

func TestCachedWritesRefreshEntry(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{Memory: NewMemory()}
	cached := NewCached(repo, time.Minute)

	_, err := cached.InsertPost(ctx, Post{ID: "p1", BlogID: "b", Title: "one"})
	require.NoError(t, err)
	title := "two"
	_, err = cached.UpdatePost(ctx, "p1", PostPatch{Title: &title})
	require.NoError(t, err)

	p, err := cached.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "two", p.Title)
	assert.Equal(t, 0, repo.gets)

	// A write that bypasses the cache is invisible until the entry is dropped.
	other := "three"
	_, err = repo.UpdatePost(ctx, "p1", PostPatch{Title: &other})
	require.NoError(t, err)
	p, _ = cached.GetPost(ctx, "p1")
	assert.Equal(t, "two", p.Title)
	cached.Invalidate("p1")
	p, _ = cached.GetPost(ctx, "p1")
	assert.Equal(t, "three", p.Title)
}

func TestCachedCopiesMetadata(t *testing.T) {
	ctx := context.Background()
	cached := NewCached(NewMemory(), time.Minute)
	_, err := cached.InsertPost(ctx, Post{ID: "p1", Metadata: map[string]any{"k": "v"}})
	require.NoError(t, err)

	p, err := cached.GetPost(ctx, "p1")
	require.NoError(t, err)
	p.Metadata["k"] = "changed"

	again, err := cached.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestCachedMissIsNotCached(t *testing.T) {
	cached := NewCached(NewMemory(), time.Minute)
	_, err := cached.GetPost(context.Background(), "missing")
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.Equal(t, 0, cached.Len())
}

func TestMemoryMutatePost(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.InsertPost(ctx, Post{ID: "p1", ContentHTML: "<p>a</p>"})
	require.NoError(t, err)

	p, err := m.MutatePost(ctx, "p1", func(p Post) (PostPatch, error) {
		html := p.ContentHTML + "<p>b</p>"
		return PostPatch{ContentHTML: &html}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>a</p><p>b</p>", p.ContentHTML)

	_, err = m.MutatePost(ctx, "nope", func(Post) (PostPatch, error) { return PostPatch{}, nil })
	assert.True(t, errs.Is(err, errs.NotFound))
}
