package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"blogdesk/api/internal/errs"
)

// MemoryURL selects the in-memory repository instead of Postgres.
const MemoryURL = "memory://"

// Memory is a Repository held in process memory, for local development and tests.
type Memory struct {
	mu        sync.Mutex
	posts     map[string]Post
	templates map[string]Template
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		posts:     make(map[string]Post),
		templates: make(map[string]Template),
		now:       time.Now,
	}
}

func (m *Memory) InsertPost(_ context.Context, post Post) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[post.ID]; ok {
		return Post{}, fmt.Errorf("insert post: duplicate id %s", post.ID)
	}
	if post.Status == "" {
		post.Status = StatusDraft
	}
	if post.Metadata == nil {
		post.Metadata = map[string]any{}
	}
	now := m.now()
	post.CreatedAt, post.UpdatedAt = now, now
	m.posts[post.ID] = copyPost(post)
	return copyPost(post), nil
}

func (m *Memory) GetPost(_ context.Context, id string) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok {
		return Post{}, errs.E(errs.NotFound, "get post", fmt.Sprintf("post %s not found", id), nil)
	}
	return copyPost(post), nil
}

func (m *Memory) ListPosts(_ context.Context, filter PostFilter) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	posts := make([]Post, 0, len(m.posts))
	for _, post := range m.posts {
		if filter.BlogID != "" && post.BlogID != filter.BlogID {
			continue
		}
		if filter.Status != "" && post.Status != filter.Status {
			continue
		}
		posts = append(posts, copyPost(post))
	}
	slices.SortFunc(posts, func(a, b Post) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	start := min(max(filter.Offset, 0), len(posts))
	end := min(start+limit, len(posts))
	return posts[start:end], nil
}

func (m *Memory) patchLocked(id string, patch PostPatch) (Post, error) {
	post, ok := m.posts[id]
	if !ok {
		return Post{}, errs.E(errs.NotFound, "update post", fmt.Sprintf("post %s not found", id), nil)
	}
	post = copyPost(post)
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&post.Title, patch.Title)
	set(&post.Slug, patch.Slug)
	set(&post.Status, patch.Status)
	set(&post.ContentHTML, patch.ContentHTML)
	set(&post.ContentText, patch.ContentText)
	maps.Copy(post.Metadata, patch.Metadata)
	post.UpdatedAt = m.now()
	m.posts[id] = post
	return copyPost(post), nil
}

func (m *Memory) UpdatePost(_ context.Context, id string, patch PostPatch) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patchLocked(id, patch)
}

func (m *Memory) MutatePost(_ context.Context, id string, fn func(Post) (PostPatch, error)) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.posts[id]
	if !ok {
		return Post{}, errs.E(errs.NotFound, "lock post", fmt.Sprintf("post %s not found", id), nil)
	}
	patch, err := fn(copyPost(current))
	if err != nil {
		return Post{}, err
	}
	if patch.Empty() {
		return copyPost(current), nil
	}
	return m.patchLocked(id, patch)
}

func (m *Memory) InsertTemplate(_ context.Context, tpl Template) (Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.templates {
		if existing.BlogID == tpl.BlogID && existing.Name == tpl.Name {
			return Template{}, fmt.Errorf("insert template: %s already exists", tpl.Name)
		}
	}
	tpl.CreatedAt = m.now()
	m.templates[tpl.ID] = tpl
	return tpl, nil
}

func (m *Memory) GetTemplate(_ context.Context, id string) (Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, ok := m.templates[id]
	if !ok {
		return Template{}, errs.E(errs.NotFound, "get template", fmt.Sprintf("template %s not found", id), nil)
	}
	return tpl, nil
}

func (m *Memory) ListTemplates(_ context.Context, blogID string) ([]Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	templates := make([]Template, 0, len(m.templates))
	for _, tpl := range m.templates {
		if blogID == "" || tpl.BlogID == blogID {
			templates = append(templates, tpl)
		}
	}
	slices.SortFunc(templates, func(a, b Template) int { return strings.Compare(a.Name, b.Name) })
	return templates, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}
