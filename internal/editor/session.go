package editor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
	"blogdesk/api/internal/nodes"
	"blogdesk/api/internal/util"
)

// Selection is a range of document positions. From == To is a cursor.
type Selection struct {
	From int
	To   int
}

// Empty reports whether the selection is a cursor.
func (s Selection) Empty() bool {
	return s.From == s.To
}

// ScreenPoint is a position on the rendering surface.
type ScreenPoint struct {
	X float64
	Y float64
}

// OverlayPositioner maps a document position to screen coordinates. It is called with the
// session locked and must not call back into the session.
type OverlayPositioner interface {
	Coords(pos int) (ScreenPoint, bool)
}

// Uploader stores image bytes and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// ChangeListener receives the rendered document after every mutation.
type ChangeListener func(html string)

// Session is one open editor: the document, its selection, the node toolbar and the active
// drag. All reads and mutations go through the session mutex, which stands in for the UI
// event loop.
type Session struct {
	mu         sync.Mutex
	doc        *Document
	sel        Selection
	positioner OverlayPositioner
	toolbar    *ToolbarController
	drag       *ResizeController
	mutations  int
	listeners  []ChangeListener
	log        *logrus.Entry
}

// NewSession opens doc for editing. positioner may be nil when nothing is displayed.
func NewSession(doc *Document, positioner OverlayPositioner, logger logrus.FieldLogger) *Session {
	if doc == nil {
		doc = NewDocument()
	}
	s := &Session{
		doc:        doc,
		positioner: positioner,
		log:        logging.Component(logger, "editor"),
	}
	s.toolbar = &ToolbarController{s: s}
	return s
}

// Load parses html and opens it. Parse diagnostics are logged and returned; they never
// prevent loading.
func Load(html string, positioner OverlayPositioner, logger logrus.FieldLogger) (*Session, []*errs.Error) {
	doc, issues := Parse(html)
	s := NewSession(doc, positioner, logger)
	s.logIssues(issues)
	return s, issues
}

func (s *Session) logIssues(issues []*errs.Error) {
	for _, issue := range issues {
		s.log.WithField("op", issue.Op).Warnf("recovered malformed markup: %s", issue.Message)
	}
}

// OnChange registers a listener called after every mutation, outside the session lock.
func (s *Session) OnChange(fn ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// changedLocked counts a mutation and returns the notification to run once unlocked.
func (s *Session) changedLocked() func() {
	s.mutations++
	html := s.doc.HTML()
	listeners := append([]ChangeListener(nil), s.listeners...)
	return func() {
		for _, fn := range listeners {
			fn(html)
		}
	}
}

// mapSelectionLocked carries the selection across steps recorded since version.
func (s *Session) mapSelectionLocked(version int) {
	from, _ := s.doc.MapSince(version, s.sel.From, 1)
	to, _ := s.doc.MapSince(version, s.sel.To, 1)
	if from > to {
		from, to = to, from
	}
	s.sel = Selection{From: from, To: to}
}

// Mutations counts committed document mutations.
func (s *Session) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// HTML renders the current document.
func (s *Session) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.HTML()
}

// Snapshot returns a copy of the current document.
func (s *Session) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Nodes lists the custom nodes of the document.
func (s *Session) Nodes() []NodeRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Nodes()
}

// Selection returns the current selection.
func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// Select moves the selection and recomputes the node toolbar.
func (s *Session) Select(from, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from > to {
		from, to = to, from
	}
	size := s.doc.Size()
	s.sel = Selection{From: min(max(from, 0), size), To: min(max(to, 0), size)}
	s.toolbar.refreshLocked()
}

// SelectNode selects the whole block starting at pos.
func (s *Session) SelectNode(pos int) error {
	s.mu.Lock()
	b, ok := s.doc.NodeAt(pos)
	s.mu.Unlock()
	if !ok {
		return errs.Validationf("editor.select_node", "no node at %d", pos)
	}
	s.Select(pos, pos+b.Size())
	return nil
}

// SelectedText returns the text covered by the selection.
func (s *Session) SelectedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.TextBetween(s.sel.From, s.sel.To)
}

// TrackSelection captures the selection as a range that follows later edits.
func (s *Session) TrackSelection() TrackedRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Track(s.sel.From, s.sel.To)
}

// InsertText replaces the selection with typed text, which takes the marks of the text
// before the cursor.
func (s *Session) InsertText(text string) error {
	s.mu.Lock()
	from, to := s.sel.From, s.sel.To
	var marks []Mark
	if loc, err := s.doc.resolve(from); err == nil && loc.inText() {
		marks = marksAt(s.doc.blocks[loc.index].Spans, loc.offset)
	}
	if err := s.doc.ReplaceText(from, to, text, marks); err != nil {
		s.mu.Unlock()
		return err
	}
	cursor := from + len([]rune(text))
	s.sel = Selection{From: cursor, To: cursor}
	s.toolbar.refreshLocked()
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()
	return nil
}

// DeleteSelection removes the selected text.
func (s *Session) DeleteSelection() error {
	if s.Selection().Empty() {
		return nil
	}
	return s.InsertText("")
}

// InsertNode inserts a custom node at the cursor. Polls get their identity here, once.
// Poll, chart and market widget nodes are followed by an empty paragraph so typing can
// continue below them. It returns the position of the new node.
func (s *Session) InsertNode(attrs nodes.Attrs) (int, error) {
	if attrs == nil {
		return 0, errs.Validationf("editor.insert_node", "missing node attributes")
	}
	spec, ok := nodes.Lookup(attrs.Kind())
	if !ok {
		return 0, errs.Validationf("editor.insert_node", "unknown node kind %q", attrs.Kind())
	}
	attrs = nodes.Clone(attrs)
	if poll, ok := attrs.(nodes.PollAttrs); ok && poll.PollID == "" {
		poll.PollID = util.NewID("poll")
		attrs = poll
	}
	if image, ok := attrs.(nodes.ImageAttrs); ok {
		attrs = image.WithWidth(image.Width)
	}
	node := NewNode(attrs)
	blocks := []Block{node}
	if spec.TrapsCursor() {
		blocks = append(blocks, NewParagraph(""))
	}

	s.mu.Lock()
	pos, err := s.doc.InsertBlocks(s.sel.To, blocks)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	cursor := pos + node.Size()
	if spec.TrapsCursor() {
		cursor++
	}
	s.sel = Selection{From: cursor, To: cursor}
	s.toolbar.refreshLocked()
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()

	s.log.WithFields(logrus.Fields{"kind": attrs.Kind(), "pos": pos}).Debug("node inserted")
	return pos, nil
}

// InsertPoll inserts a new unvoted poll and returns its attributes.
func (s *Session) InsertPoll(question string, labels []string, allowMultiple bool) (nodes.PollAttrs, int, error) {
	var options []string
	for _, label := range labels {
		if label != "" {
			options = append(options, label)
		}
	}
	if question == "" {
		return nodes.PollAttrs{}, 0, errs.Validationf("editor.insert_poll", "question is required")
	}
	if len(options) < 2 {
		return nodes.PollAttrs{}, 0, errs.Validationf("editor.insert_poll", "a poll needs at least two options")
	}
	attrs := nodes.NewPollAttrs(util.NewID("poll"), question, options, allowMultiple)
	pos, err := s.InsertNode(attrs)
	if err != nil {
		return nodes.PollAttrs{}, 0, err
	}
	return attrs, pos, nil
}

// InsertImage uploads data and inserts the stored image at the cursor.
func (s *Session) InsertImage(ctx context.Context, uploader Uploader, data []byte, contentType, alt string) (int, error) {
	if len(data) == 0 {
		return 0, errs.Validationf("editor.insert_image", "empty image")
	}
	url, err := uploader.Upload(ctx, data, contentType)
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.Network, "editor.insert_image", "upload image", err)
		}
		return 0, err
	}
	return s.InsertNode(nodes.ImageAttrs{
		Src:   url,
		Alt:   alt,
		Width: nodes.DefaultImageWidth,
		Align: nodes.AlignCenter,
	})
}

// DeleteNode removes the block starting at pos.
func (s *Session) DeleteNode(pos int) error {
	s.mu.Lock()
	version := s.doc.Version()
	if err := s.doc.DeleteBlock(pos); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mapSelectionLocked(version)
	s.toolbar.refreshLocked()
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()
	return nil
}

// ReplaceRange replaces the content a tracked range captured, wherever later edits moved it.
// It fails with StateConflict when that content no longer exists.
func (s *Session) ReplaceRange(r TrackedRange, text string) error {
	s.mu.Lock()
	from, to, ok := s.doc.Resolve(r)
	if !ok {
		s.mu.Unlock()
		return errs.E(errs.StateConflict, "editor.replace_range", "captured range no longer exists", nil)
	}
	version := s.doc.Version()
	if err := s.doc.ReplaceText(from, to, text, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mapSelectionLocked(version)
	s.toolbar.refreshLocked()
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()
	return nil
}

// ReplaceDocument swaps the whole content for html.
func (s *Session) ReplaceDocument(html string) []*errs.Error {
	parsed, issues := Parse(html)
	s.logIssues(issues)

	s.mu.Lock()
	s.doc.ReplaceAll(parsed.blocks)
	s.sel = Selection{}
	s.toolbar.refreshLocked()
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()
	return issues
}

// UpdateNode replaces the attributes of the custom node with the given id.
func (s *Session) UpdateNode(id string, attrs nodes.Attrs) error {
	s.mu.Lock()
	if err := s.doc.SetAttrs(id, attrs); err != nil {
		s.mu.Unlock()
		return err
	}
	notify := s.changedLocked()
	s.mu.Unlock()
	notify()
	return nil
}

// Toolbar returns the session's node toolbar.
func (s *Session) Toolbar() *ToolbarController {
	return s.toolbar
}
