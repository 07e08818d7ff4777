package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements search over the posts table's generated tsvector column.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgftsWhere = `
	p.fts @@ plainto_tsquery('english', $1)
	AND ($2 = '' OR p.blog_id = $2)
	AND ($3 = '' OR p.status = $3)`

// Search ranks posts with ts_rank and builds snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	args := []any{q.Text, q.BlogID, q.Status}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM posts p WHERE `+pgftsWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.blog_id, p.title, p.slug, p.status,
			ts_headline('english', p.content_text, plainto_tsquery('english', $1),
				'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet
		FROM posts p
		WHERE %s
		ORDER BY ts_rank(p.fts, plainto_tsquery('english', $1)) DESC, p.updated_at DESC
		LIMIT %d OFFSET %d`, pgftsWhere, q.limit(), max(q.Offset, 0)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.BlogID, &r.Title, &r.Slug, &r.Status, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every post for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, blog_id, title, slug, status, content_text
		FROM posts
	`)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	defer rows.Close()

	records := make([]PostRecord, 0)
	for rows.Next() {
		var r PostRecord
		if err := rows.Scan(&r.ID, &r.BlogID, &r.Title, &r.Slug, &r.Status, &r.Body); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		r.Body = Truncate(r.Body, maxIndexedBody)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return records, nil
}
