package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"blogdesk/api/internal/errs"
)

// Repository is the post and template persistence the service depends on.
type Repository interface {
	InsertPost(ctx context.Context, post Post) (Post, error)
	GetPost(ctx context.Context, id string) (Post, error)
	ListPosts(ctx context.Context, filter PostFilter) ([]Post, error)
	UpdatePost(ctx context.Context, id string, patch PostPatch) (Post, error)
	MutatePost(ctx context.Context, id string, fn func(Post) (PostPatch, error)) (Post, error)
	InsertTemplate(ctx context.Context, tpl Template) (Template, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	ListTemplates(ctx context.Context, blogID string) ([]Template, error)
	Ping(ctx context.Context) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const postColumns = `id, blog_id, title, slug, status, content_html, content_text, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var post Post
	var metadata []byte
	if err := row.Scan(&post.ID, &post.BlogID, &post.Title, &post.Slug, &post.Status,
		&post.ContentHTML, &post.ContentText, &metadata, &post.CreatedAt, &post.UpdatedAt); err != nil {
		return Post{}, err
	}
	post.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &post.Metadata); err != nil {
			return Post{}, fmt.Errorf("decode post metadata: %w", err)
		}
	}
	return post, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode post metadata: %w", err)
	}
	return string(raw), nil
}

func notFound(op, what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.E(errs.NotFound, op, fmt.Sprintf("%s %s not found", what, id), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) (Post, error) {
	metadata, err := encodeMetadata(post.Metadata)
	if err != nil {
		return Post{}, err
	}
	if post.Status == "" {
		post.Status = StatusDraft
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (id, blog_id, title, slug, status, content_html, content_text, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+postColumns,
		post.ID, post.BlogID, post.Title, post.Slug, post.Status, post.ContentHTML, post.ContentText, metadata)
	created, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (Post, error) {
	post, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, id))
	if err != nil {
		return Post{}, notFound("get post", "post", id, err)
	}
	return post, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, filter PostFilter) ([]Post, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE ($1 = '' OR blog_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC, id
		LIMIT $3 OFFSET $4
	`, filter.BlogID, filter.Status, limit, max(filter.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

const updatePost = `
	UPDATE posts SET
		title = COALESCE($2, title),
		slug = COALESCE($3, slug),
		status = COALESCE($4, status),
		content_html = COALESCE($5, content_html),
		content_text = COALESCE($6, content_text),
		metadata = CASE WHEN $7::jsonb IS NULL THEN metadata ELSE metadata || $7::jsonb END,
		updated_at = NOW()
	WHERE id = $1
	RETURNING ` + postColumns

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func applyPatch(ctx context.Context, q queryRower, id string, patch PostPatch) (Post, error) {
	var metadata any
	if len(patch.Metadata) > 0 {
		raw, err := encodeMetadata(patch.Metadata)
		if err != nil {
			return Post{}, err
		}
		metadata = raw
	}
	post, err := scanPost(q.QueryRowContext(ctx, updatePost, id,
		patch.Title, patch.Slug, patch.Status, patch.ContentHTML, patch.ContentText, metadata))
	if err != nil {
		return Post{}, notFound("update post", "post", id, err)
	}
	return post, nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, id string, patch PostPatch) (Post, error) {
	return applyPatch(ctx, s.db, id, patch)
}

// MutatePost reads a post under a row lock, asks fn for a patch and applies it in the same
// transaction. Concurrent mutations of one post are serialized.
func (s *PostgresStore) MutatePost(ctx context.Context, id string, fn func(Post) (PostPatch, error)) (Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, fmt.Errorf("begin post tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanPost(tx.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Post{}, notFound("lock post", "post", id, err)
	}
	patch, err := fn(current)
	if err != nil {
		return Post{}, err
	}
	if patch.Empty() {
		return current, nil
	}
	updated, err := applyPatch(ctx, tx, id, patch)
	if err != nil {
		return Post{}, err
	}
	if err := tx.Commit(); err != nil {
		return Post{}, fmt.Errorf("commit post tx: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, tpl Template) (Template, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO templates (id, blog_id, name, content_html)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, tpl.ID, tpl.BlogID, tpl.Name, tpl.ContentHTML).Scan(&tpl.CreatedAt)
	if err != nil {
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	return tpl, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (Template, error) {
	var tpl Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, blog_id, name, content_html, created_at FROM templates WHERE id=$1
	`, id).Scan(&tpl.ID, &tpl.BlogID, &tpl.Name, &tpl.ContentHTML, &tpl.CreatedAt)
	if err != nil {
		return Template{}, notFound("get template", "template", id, err)
	}
	return tpl, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context, blogID string) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, blog_id, name, content_html, created_at
		FROM templates
		WHERE ($1 = '' OR blog_id = $1)
		ORDER BY name
	`, blogID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]Template, 0)
	for rows.Next() {
		var tpl Template
		if err := rows.Scan(&tpl.ID, &tpl.BlogID, &tpl.Name, &tpl.ContentHTML, &tpl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
