package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"blogdesk/api/internal/ai"
	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/poll"
	"blogdesk/api/internal/store"
)

// NewPost is the body of a post creation request.
type NewPost struct {
	BlogID      string         `json:"blogId"`
	Title       string         `json:"title"`
	Slug        string         `json:"slug,omitempty"`
	Status      string         `json:"status,omitempty"`
	ContentHTML string         `json:"contentHtml,omitempty"`
	TemplateID  string         `json:"templateId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PostUpdate is the body of a post patch request. Nil fields are left unchanged.
type PostUpdate struct {
	Title       *string        `json:"title,omitempty"`
	Slug        *string        `json:"slug,omitempty"`
	Status      *string        `json:"status,omitempty"`
	ContentHTML *string        `json:"contentHtml,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (c *Client) CreatePost(ctx context.Context, in NewPost) (store.Post, error) {
	var out store.Post
	err := c.doJSON(ctx, "client.CreatePost", http.MethodPost, "/api/posts", in, &out)
	return out, err
}

func (c *Client) GetPost(ctx context.Context, id string) (store.Post, error) {
	var out store.Post
	err := c.doJSON(ctx, "client.GetPost", http.MethodGet, "/api/posts/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) UpdatePost(ctx context.Context, id string, in PostUpdate) (store.Post, error) {
	var out store.Post
	err := c.doJSON(ctx, "client.UpdatePost", http.MethodPatch, "/api/posts/"+url.PathEscape(id), in, &out)
	return out, err
}

// Rewrite implements ai.Rewriter.
func (c *Client) Rewrite(ctx context.Context, req ai.RewriteRequest) (string, error) {
	var out struct {
		Result string `json:"result"`
	}
	if err := c.doJSON(ctx, "client.Rewrite", http.MethodPost, "/api/ai/rewrite", req, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}

// Enhance implements ai.Enhancer.
func (c *Client) Enhance(ctx context.Context, req ai.EnhanceRequest) (string, error) {
	var out struct {
		Enhanced string `json:"enhanced"`
	}
	if err := c.doJSON(ctx, "client.Enhance", http.MethodPost, "/api/ai/enhance", req, &out); err != nil {
		return "", err
	}
	return out.Enhanced, nil
}

// SubmitVote implements poll.Submitter.
func (c *Client) SubmitVote(ctx context.Context, req poll.VoteRequest) (poll.Tally, error) {
	body := struct {
		SelectedIndexes []int  `json:"selectedIndexes"`
		ParentDocID     string `json:"parentDocId"`
	}{req.SelectedIndexes, req.ParentDocID}
	var out poll.Tally
	err := c.doJSON(ctx, "client.SubmitVote", http.MethodPost, "/api/polls/"+url.PathEscape(req.PollID)+"/vote", body, &out)
	return out, err
}

// Upload implements editor.Uploader. The image is sent as the raw request body.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	const op = "client.Upload"
	if len(data) == 0 {
		return "", errs.Validationf(op, "empty image")
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, op, http.MethodPost, "/api/uploads/images", contentType, data, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", errs.E(errs.Network, op, "upload response carries no url", nil)
	}
	return out.URL, nil
}

// Draft persists one editor document as a post: the first save creates it, later saves
// patch its content. It implements autosave.Persister.
type Draft struct {
	client *Client
	blogID string
	title  string

	mu sync.Mutex
	id string
}

// NewDraft returns a persister for a new post, or for the existing post id when it is set.
func (c *Client) NewDraft(blogID, title, id string) *Draft {
	return &Draft{client: c, blogID: blogID, title: title, id: id}
}

// ID returns the post id, empty until the first save succeeds.
func (d *Draft) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

func (d *Draft) Persist(ctx context.Context, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.id == "" {
		post, err := d.client.CreatePost(ctx, NewPost{BlogID: d.blogID, Title: d.title, ContentHTML: content})
		if err != nil {
			return err
		}
		d.id = post.ID
		return nil
	}
	_, err := d.client.UpdatePost(ctx, d.id, PostUpdate{ContentHTML: &content})
	return err
}
