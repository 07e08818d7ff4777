package store

import "time"

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// ValidStatus reports whether status is a known post status.
func ValidStatus(status string) bool {
	switch status {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Post is one blog post. ContentHTML is the editor document; ContentText is its plain text,
// kept for full-text search.
type Post struct {
	ID          string         `json:"id"`
	BlogID      string         `json:"blogId"`
	Title       string         `json:"title"`
	Slug        string         `json:"slug"`
	Status      string         `json:"status"`
	ContentHTML string         `json:"contentHtml"`
	ContentText string         `json:"-"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// PostPatch changes some fields of a post. Nil fields stay as they are; Metadata keys are
// merged into the stored metadata.
type PostPatch struct {
	Title       *string
	Slug        *string
	Status      *string
	ContentHTML *string
	ContentText *string
	Metadata    map[string]any
}

// Empty reports whether the patch changes nothing.
func (p PostPatch) Empty() bool {
	return p.Title == nil && p.Slug == nil && p.Status == nil && p.ContentHTML == nil &&
		p.ContentText == nil && len(p.Metadata) == 0
}

type PostFilter struct {
	BlogID string
	Status string
	Limit  int
	Offset int
}

// Template is reusable starting content for new posts.
type Template struct {
	ID          string    `json:"id"`
	BlogID      string    `json:"blogId"`
	Name        string    `json:"name"`
	ContentHTML string    `json:"contentHtml"`
	CreatedAt   time.Time `json:"createdAt"`
}
