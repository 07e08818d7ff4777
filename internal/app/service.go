package app

import (
	"context"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/ai"
	"blogdesk/api/internal/config"
	"blogdesk/api/internal/editor"
	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/export"
	"blogdesk/api/internal/logging"
	"blogdesk/api/internal/nodes"
	"blogdesk/api/internal/poll"
	"blogdesk/api/internal/revisions"
	"blogdesk/api/internal/search"
	"blogdesk/api/internal/store"
	"blogdesk/api/internal/util"
)

// SearchIndex is the post search facade. *search.Service implements it.
type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPost(record search.PostRecord)
	DeletePost(id string)
}

// RevisionLog keeps post history. *revisions.Service implements it.
type RevisionLog interface {
	Record(postID string, snap revisions.Snapshot, author, message string) (revisions.Revision, bool, error)
	History(postID string, limit int) ([]revisions.Revision, error)
	Get(postID, hash string) (revisions.Snapshot, revisions.Revision, error)
}

// Deps are the collaborators of a Service. Only Posts is required; a missing collaborator
// disables the routes that need it.
type Deps struct {
	Posts     store.Repository
	Search    SearchIndex
	Revisions RevisionLog
	PDF       export.PDFRenderer
	Images    editor.Uploader
	Rewriter  ai.Rewriter
	Enhancer  ai.Enhancer
	// Votes returns the vote record store of one voter.
	Votes  func(voter string) poll.Store
	Logger logrus.FieldLogger
}

type Service struct {
	cfg       config.Config
	posts     store.Repository
	search    SearchIndex
	revisions RevisionLog
	exporter  *export.Service
	images    editor.Uploader
	rewriter  ai.Rewriter
	enhancer  ai.Enhancer
	votes     func(voter string) poll.Store
	log       *logrus.Entry
}

func New(cfg config.Config, deps Deps) *Service {
	var revSource export.RevisionSource
	if deps.Revisions != nil {
		revSource = deps.Revisions
	}
	return &Service{
		cfg:       cfg,
		posts:     deps.Posts,
		search:    deps.Search,
		revisions: deps.Revisions,
		exporter:  export.NewService(deps.Posts, revSource, deps.PDF, deps.Logger),
		images:    deps.Images,
		rewriter:  deps.Rewriter,
		enhancer:  deps.Enhancer,
		votes:     deps.Votes,
		log:       logging.Component(deps.Logger, "app"),
	}
}

type CreatePostInput struct {
	BlogID      string         `json:"blogId"`
	Title       string         `json:"title"`
	Slug        string         `json:"slug"`
	Status      string         `json:"status"`
	ContentHTML string         `json:"contentHtml"`
	TemplateID  string         `json:"templateId"`
	Metadata    map[string]any `json:"metadata"`
}

type UpdatePostInput struct {
	Title       *string        `json:"title"`
	Slug        *string        `json:"slug"`
	Status      *string        `json:"status"`
	ContentHTML *string        `json:"contentHtml"`
	Metadata    map[string]any `json:"metadata"`
}

type CreateTemplateInput struct {
	BlogID      string `json:"blogId"`
	Name        string `json:"name"`
	ContentHTML string `json:"contentHtml"`
}

type VoteInput struct {
	SelectedIndexes []int  `json:"selectedIndexes"`
	ParentDocID     string `json:"parentDocId"`
}

func (s *Service) Ping(ctx context.Context) error {
	return s.posts.Ping(ctx)
}

// normalizeContent runs stored HTML through the editor model so that every post is saved in
// the canonical form the editor produces.
func (s *Service) normalizeContent(postID, html string) string {
	doc, issues := editor.Parse(html)
	for _, issue := range issues {
		s.log.WithError(issue).WithField("post_id", postID).Warn("recovered malformed node")
	}
	return doc.HTML()
}

func (s *Service) CreatePost(ctx context.Context, in CreatePostInput, actor string) (store.Post, error) {
	const op = "app.CreatePost"
	in.BlogID = strings.TrimSpace(in.BlogID)
	in.Title = strings.TrimSpace(in.Title)
	if in.BlogID == "" {
		return store.Post{}, errs.Validationf(op, "blogId is required")
	}
	if in.Title == "" {
		return store.Post{}, errs.Validationf(op, "title is required")
	}
	if in.Status == "" {
		in.Status = store.StatusDraft
	}
	if !store.ValidStatus(in.Status) {
		return store.Post{}, errs.Validationf(op, "unknown status %q", in.Status)
	}
	if in.Slug = slugify(in.Slug); in.Slug == "" {
		in.Slug = slugify(in.Title)
	}

	if in.TemplateID != "" {
		tpl, err := s.posts.GetTemplate(ctx, in.TemplateID)
		if err != nil {
			return store.Post{}, err
		}
		if tpl.BlogID != in.BlogID {
			return store.Post{}, errs.Validationf(op, "template %s belongs to another blog", tpl.ID)
		}
		if strings.TrimSpace(in.ContentHTML) == "" {
			in.ContentHTML = tpl.ContentHTML
		}
	}

	id := util.NewID("post")
	content := s.normalizeContent(id, in.ContentHTML)
	post, err := s.posts.InsertPost(ctx, store.Post{
		ID:          id,
		BlogID:      in.BlogID,
		Title:       in.Title,
		Slug:        in.Slug,
		Status:      in.Status,
		ContentHTML: content,
		ContentText: search.PlainText(content),
		Metadata:    in.Metadata,
	})
	if err != nil {
		return store.Post{}, err
	}
	s.recordRevision(post, actor, "Create post")
	s.index(post)
	s.log.WithFields(logrus.Fields{"post_id": post.ID, "blog_id": post.BlogID}).Info("post created")
	return post, nil
}

func (s *Service) GetPost(ctx context.Context, id string) (store.Post, error) {
	return s.posts.GetPost(ctx, id)
}

func (s *Service) ListPosts(ctx context.Context, filter store.PostFilter) ([]store.Post, error) {
	if filter.Status != "" && !store.ValidStatus(filter.Status) {
		return nil, errs.Validationf("app.ListPosts", "unknown status %q", filter.Status)
	}
	return s.posts.ListPosts(ctx, filter)
}

func (s *Service) UpdatePost(ctx context.Context, id string, in UpdatePostInput, actor string) (store.Post, error) {
	const op = "app.UpdatePost"
	patch := store.PostPatch{Metadata: in.Metadata}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return store.Post{}, errs.Validationf(op, "title cannot be empty")
		}
		patch.Title = &title
	}
	if in.Slug != nil {
		slug := slugify(*in.Slug)
		if slug == "" {
			return store.Post{}, errs.Validationf(op, "slug cannot be empty")
		}
		patch.Slug = &slug
	}
	if in.Status != nil {
		if !store.ValidStatus(*in.Status) {
			return store.Post{}, errs.Validationf(op, "unknown status %q", *in.Status)
		}
		patch.Status = in.Status
	}
	if in.ContentHTML != nil {
		content := s.normalizeContent(id, *in.ContentHTML)
		text := search.PlainText(content)
		patch.ContentHTML, patch.ContentText = &content, &text
	}
	if patch.Empty() {
		return s.posts.GetPost(ctx, id)
	}

	post, err := s.posts.UpdatePost(ctx, id, patch)
	if err != nil {
		return store.Post{}, err
	}
	s.recordRevision(post, actor, "")
	s.index(post)
	return post, nil
}

func (s *Service) recordRevision(post store.Post, actor, message string) {
	if s.revisions == nil {
		return
	}
	snap := revisions.Snapshot{Title: post.Title, Slug: post.Slug, Status: post.Status, ContentHTML: post.ContentHTML}
	rev, changed, err := s.revisions.Record(post.ID, snap, actor, message)
	if err != nil {
		s.log.WithError(err).WithField("post_id", post.ID).Warn("record revision")
		return
	}
	if changed {
		s.log.WithFields(logrus.Fields{"post_id": post.ID, "revision": rev.Hash}).Debug("revision recorded")
	}
}

func (s *Service) index(post store.Post) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:     post.ID,
		BlogID: post.BlogID,
		Title:  post.Title,
		Slug:   post.Slug,
		Status: post.Status,
		Body:   post.ContentText,
	})
}

func (s *Service) PostRevisions(ctx context.Context, id string, limit int) ([]revisions.Revision, error) {
	if _, err := s.posts.GetPost(ctx, id); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []revisions.Revision{}, nil
	}
	return s.revisions.History(id, limit)
}

func (s *Service) PostRevision(ctx context.Context, id, hash string) (revisions.Snapshot, revisions.Revision, error) {
	if _, err := s.posts.GetPost(ctx, id); err != nil {
		return revisions.Snapshot{}, revisions.Revision{}, err
	}
	if s.revisions == nil {
		return revisions.Snapshot{}, revisions.Revision{}, errs.E(errs.NotFound, "app.PostRevision", "revision history is not configured", nil)
	}
	return s.revisions.Get(id, hash)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil || strings.TrimSpace(q.Text) == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) CreateTemplate(ctx context.Context, in CreateTemplateInput) (store.Template, error) {
	const op = "app.CreateTemplate"
	in.BlogID = strings.TrimSpace(in.BlogID)
	in.Name = strings.TrimSpace(in.Name)
	if in.BlogID == "" {
		return store.Template{}, errs.Validationf(op, "blogId is required")
	}
	if in.Name == "" {
		return store.Template{}, errs.Validationf(op, "name is required")
	}
	id := util.NewID("tpl")
	return s.posts.InsertTemplate(ctx, store.Template{
		ID:          id,
		BlogID:      in.BlogID,
		Name:        in.Name,
		ContentHTML: s.normalizeContent(id, in.ContentHTML),
	})
}

func (s *Service) ListTemplates(ctx context.Context, blogID string) ([]store.Template, error) {
	if strings.TrimSpace(blogID) == "" {
		return nil, errs.Validationf("app.ListTemplates", "blogId is required")
	}
	return s.posts.ListTemplates(ctx, blogID)
}

func (s *Service) Rewrite(ctx context.Context, req ai.RewriteRequest) (string, error) {
	const op = "app.Rewrite"
	if strings.TrimSpace(req.Text) == "" {
		return "", errs.Validationf(op, "text is required")
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return "", errs.Validationf(op, "instruction is required")
	}
	if s.rewriter == nil {
		return "", errs.E(errs.Network, op, "AI generation is not configured", nil)
	}
	out, err := s.rewriter.Rewrite(ctx, req)
	if err != nil {
		return "", asNetwork(op, err)
	}
	if out = ai.SanitizeText(out); out == "" {
		return "", errs.E(errs.Network, op, "model returned no text", nil)
	}
	return out, nil
}

func (s *Service) Enhance(ctx context.Context, req ai.EnhanceRequest) (string, error) {
	const op = "app.Enhance"
	if strings.TrimSpace(req.Content) == "" {
		return "", errs.Validationf(op, "content is required")
	}
	if s.enhancer == nil {
		return "", errs.E(errs.Network, op, "AI generation is not configured", nil)
	}
	out, err := s.enhancer.Enhance(ctx, req)
	if err != nil {
		return "", asNetwork(op, err)
	}
	if out = ai.SanitizeDocument(out); out == "" {
		return "", errs.E(errs.Network, op, "model returned no content", nil)
	}
	return out, nil
}

func asNetwork(op string, err error) error {
	if errs.KindOf(err) != "" {
		return err
	}
	return errs.E(errs.Network, op, "AI request failed", err)
}

// Vote counts one vote on a poll embedded in a post and answers the new tally. The post is
// rewritten under a row lock so concurrent votes never lose a count. When voter is set the
// vote is also recorded for that voter, and a second vote from the same voter is refused.
func (s *Service) Vote(ctx context.Context, pollID string, in VoteInput, voter string) (poll.Tally, error) {
	const op = "app.Vote"
	pollID = strings.TrimSpace(pollID)
	if pollID == "" {
		return poll.Tally{}, errs.Validationf(op, "pollId is required")
	}
	if strings.TrimSpace(in.ParentDocID) == "" {
		return poll.Tally{}, errs.Validationf(op, "parentDocId is required")
	}

	var records poll.Store
	if voter != "" && s.votes != nil {
		records = s.votes(voter)
		if _, voted, err := records.Load(ctx, pollID); err != nil {
			return poll.Tally{}, errs.E(errs.Network, op, "load vote record", err)
		} else if voted {
			return poll.Tally{}, errs.E(errs.StateConflict, op, "already voted on this poll", nil)
		}
	}

	var tally poll.Tally
	post, err := s.posts.MutatePost(ctx, in.ParentDocID, func(p store.Post) (store.PostPatch, error) {
		doc, _ := editor.Parse(p.ContentHTML)
		ref, ok := findPoll(doc, pollID)
		if !ok {
			return store.PostPatch{}, errs.E(errs.NotFound, op, "poll "+pollID+" not found in post", nil)
		}
		updated, err := poll.ApplyVote(ref.Attrs.(nodes.PollAttrs), in.SelectedIndexes)
		if err != nil {
			return store.PostPatch{}, err
		}
		if err := doc.SetAttrs(ref.ID, updated); err != nil {
			return store.PostPatch{}, err
		}
		content := doc.HTML()
		text := search.PlainText(content)
		tally = poll.TallyOf(updated)
		return store.PostPatch{ContentHTML: &content, ContentText: &text}, nil
	})
	if err != nil {
		return poll.Tally{}, err
	}

	if records != nil {
		if _, err := records.Save(ctx, poll.VoteRecord{PollID: pollID, SelectedIndexes: in.SelectedIndexes}); err != nil {
			s.log.WithError(err).WithField("poll_id", pollID).Warn("store vote record")
		}
	}
	s.index(post)
	s.log.WithFields(logrus.Fields{"poll_id": pollID, "post_id": post.ID, "total_votes": tally.TotalVotes}).Info("vote counted")
	return tally, nil
}

// VoteRecord returns what voter chose on a poll, if they voted.
func (s *Service) VoteRecord(ctx context.Context, pollID, voter string) (poll.VoteRecord, bool, error) {
	if voter == "" {
		return poll.VoteRecord{}, false, errs.Validationf("app.VoteRecord", "voter id is required")
	}
	if s.votes == nil {
		return poll.VoteRecord{}, false, nil
	}
	return s.votes(voter).Load(ctx, pollID)
}

func findPoll(doc *editor.Document, pollID string) (editor.NodeRef, bool) {
	for _, ref := range doc.Nodes() {
		if attrs, ok := ref.Attrs.(nodes.PollAttrs); ok && attrs.PollID == pollID {
			return ref, true
		}
	}
	return editor.NodeRef{}, false
}

func (s *Service) UploadImage(ctx context.Context, data []byte, contentType string) (string, error) {
	if s.images == nil {
		return "", errs.E(errs.Network, "app.UploadImage", "image storage is not configured", nil)
	}
	return s.images.Upload(ctx, data, contentType)
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
