package export

import (
	"context"
	"errors"
	"html/template"
	"time"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
	"blogdesk/api/internal/revisions"
	"blogdesk/api/internal/store"
)

// PostSource loads the current version of a post.
type PostSource interface {
	GetPost(ctx context.Context, id string) (store.Post, error)
}

// RevisionSource loads a post as it was at a revision.
type RevisionSource interface {
	Get(postID, hash string) (revisions.Snapshot, revisions.Revision, error)
}

// Service provides post export functionality
type Service struct {
	posts     PostSource
	revisions RevisionSource
	pdf       PDFRenderer
	log       *logrus.Entry
}

// NewService creates an export service. revs may be nil, in which case only current posts
// can be exported.
func NewService(posts PostSource, revs RevisionSource, pdf PDFRenderer, logger logrus.FieldLogger) *Service {
	return &Service{posts: posts, revisions: revs, pdf: pdf, log: logging.Component(logger, "export")}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	const op = "export.Export"

	post, err := s.posts.GetPost(ctx, req.PostID)
	if err != nil {
		return nil, err
	}
	data := TemplateData{Title: post.Title, Status: post.Status, UpdatedAt: post.UpdatedAt}
	body := post.ContentHTML

	if req.Revision != "" {
		if s.revisions == nil {
			return nil, errs.E(errs.NotFound, op, "revision history is not configured", nil)
		}
		snap, rev, err := s.revisions.Get(req.PostID, req.Revision)
		if err != nil {
			return nil, err
		}
		data.Title, data.Status, data.UpdatedAt, data.Revision = snap.Title, snap.Status, rev.CreatedAt, rev.Hash
		body = snap.ContentHTML
	}

	static, err := StaticHTML(body)
	if err != nil {
		return nil, errs.E(errs.Parse, op, "flatten post content", err)
	}
	data.ContentHTML = template.HTML(static)

	page, err := RenderPostHTML(data)
	if err != nil {
		return nil, errs.E(errs.Parse, op, "render template", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		if s.pdf == nil {
			return nil, errs.E(errs.Network, op, "pdf export is not configured", ErrPDFDependencyMissing)
		}
		started := time.Now()
		pdf, err := s.pdf.RenderPDF(ctx, page)
		if err != nil {
			if errors.Is(err, ErrPDFDependencyMissing) {
				s.log.WithError(err).Warn("pdf export unavailable")
			}
			return nil, errs.E(errs.Network, op, "render pdf", err)
		}
		s.log.WithFields(logrus.Fields{"post_id": req.PostID, "bytes": len(pdf), "took": time.Since(started)}).Info("pdf exported")
		return &Result{
			Data:     pdf,
			Filename: sanitizeFilename(data.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, errs.Validationf(op, "unsupported format: %s", req.Format)
	}
}
