package editor

import (
	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/nodes"
)

// PreviewSurface shows a provisional image width while a drag is in progress.
type PreviewSurface interface {
	PreviewWidth(width int)
}

// ResizeController turns a pointer drag on an image's handle into one width update.
// Moves only touch the preview surface; the document changes once, on release.
type ResizeController struct {
	s          *Session
	blockID    string
	surface    PreviewSurface
	dragging   bool
	startX     int
	startWidth int
	width      int
}

// ImageResizer returns the resize controller for the image starting at pos.
func (s *Session) ImageResizer(pos int, surface PreviewSurface) (*ResizeController, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.doc.NodeAt(pos)
	if !ok || b.Kind() != nodes.KindResizableImage {
		return nil, errs.Validationf("editor.image_resizer", "no image at %d", pos)
	}
	return &ResizeController{s: s, blockID: b.ID, surface: surface}, nil
}

// HandleVisible reports whether the resize affordance may show, which it may not while
// another drag is running.
func (r *ResizeController) HandleVisible() bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.drag == nil || r.s.drag == r
}

// Dragging reports whether a drag is in progress.
func (r *ResizeController) Dragging() bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.dragging
}

// DragStart captures the image's width and the pointer position.
func (r *ResizeController) DragStart(x int) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag != nil && s.drag != r {
		return errs.E(errs.Concurrency, "editor.resize", "another resize is in progress", nil)
	}
	pos, ok := s.doc.Find(r.blockID)
	if !ok {
		return errs.E(errs.StateConflict, "editor.resize", "image no longer exists", nil)
	}
	b, _ := s.doc.NodeAt(pos)
	attrs, _ := b.Attrs.(nodes.ImageAttrs)
	r.dragging = true
	r.startX = x
	r.startWidth = nodes.Clamp(attrs.Width, nodes.MinImageWidth, nodes.MaxImageWidth)
	r.width = r.startWidth
	s.drag = r
	return nil
}

func (r *ResizeController) widthAt(x int) int {
	return nodes.Clamp(r.startWidth+(x-r.startX), nodes.MinImageWidth, nodes.MaxImageWidth)
}

// DragMove previews the width for pointer x. The document is not touched.
func (r *ResizeController) DragMove(x int) {
	r.s.mu.Lock()
	if !r.dragging {
		r.s.mu.Unlock()
		return
	}
	r.width = r.widthAt(x)
	width, surface := r.width, r.surface
	r.s.mu.Unlock()

	if surface != nil {
		surface.PreviewWidth(width)
	}
}

// DragEnd commits the final width as a single attribute update and returns it. committed is
// false when no drag was running or the image was deleted during the drag.
func (r *ResizeController) DragEnd(x int) (width int, committed bool) {
	s := r.s
	s.mu.Lock()
	if !r.dragging {
		s.mu.Unlock()
		return 0, false
	}
	width = r.widthAt(x)
	r.dragging = false
	s.drag = nil

	pos, ok := s.doc.Find(r.blockID)
	if !ok {
		s.mu.Unlock()
		s.log.WithField("width", width).Debug("resize dropped, image deleted during drag")
		return width, false
	}
	b, _ := s.doc.NodeAt(pos)
	attrs, _ := b.Attrs.(nodes.ImageAttrs)
	if err := s.doc.SetAttrs(r.blockID, attrs.WithWidth(width)); err != nil {
		s.mu.Unlock()
		s.log.WithError(err).Warnf("resize commit at %d failed", pos)
		return width, false
	}
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()
	return width, true
}

// Cancel abandons the drag and restores the preview to the committed width.
func (r *ResizeController) Cancel() {
	r.s.mu.Lock()
	if !r.dragging {
		r.s.mu.Unlock()
		return
	}
	r.dragging = false
	r.s.drag = nil
	width, surface := r.startWidth, r.surface
	r.s.mu.Unlock()

	if surface != nil {
		surface.PreviewWidth(width)
	}
}
