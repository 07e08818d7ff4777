// Package editor holds the document model of the post editor and the session state around
// it: selection, the contextual node toolbar and image resizing.
package editor

import (
	"fmt"
	"unicode/utf8"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/nodes"
	"blogdesk/api/internal/util"
)

// BlockType is the structural kind of a top-level block.
type BlockType string

const (
	Paragraph BlockType = "paragraph"
	Heading   BlockType = "heading"
	// Custom blocks carry one of the node kinds from package nodes.
	Custom BlockType = "custom"
	// Raw blocks keep markup the editor does not model (lists, tables, code) verbatim.
	Raw BlockType = "raw"
)

// Block is one top-level node of a document.
type Block struct {
	ID    string
	Type  BlockType
	Level int
	Spans []Span
	Attrs nodes.Attrs
	HTML  string
}

// NewParagraph returns a paragraph holding plain text.
func NewParagraph(text string) Block {
	b := Block{ID: util.NewID("blk"), Type: Paragraph}
	if text != "" {
		b.Spans = []Span{{Text: text}}
	}
	return b
}

// NewHeading returns a heading of the given level holding plain text.
func NewHeading(level int, text string) Block {
	b := NewParagraph(text)
	b.Type = Heading
	b.Level = min(max(level, 1), 6)
	return b
}

// NewNode returns a custom node block.
func NewNode(attrs nodes.Attrs) Block {
	return Block{ID: util.NewID("blk"), Type: Custom, Attrs: attrs}
}

// NewRaw returns a block that renders html verbatim.
func NewRaw(html string) Block {
	return Block{ID: util.NewID("blk"), Type: Raw, HTML: html}
}

// Kind returns the custom node kind, or "" for other blocks.
func (b Block) Kind() nodes.Kind {
	if b.Type != Custom || b.Attrs == nil {
		return ""
	}
	return b.Attrs.Kind()
}

// Textual reports whether the block holds inline text and so spans len(text)+2 positions.
func (b Block) Textual() bool {
	switch b.Type {
	case Paragraph, Heading:
		return true
	case Custom:
		spec, ok := nodes.Lookup(b.Kind())
		return ok && spec.HasContent()
	}
	return false
}

// Text returns the block's plain text.
func (b Block) Text() string {
	return spansText(b.Spans)
}

// Size is the number of positions the block occupies.
func (b Block) Size() int {
	if b.Textual() {
		return spansLen(b.Spans) + 2
	}
	return 1
}

func (b Block) clone() Block {
	b.Spans = cloneSpans(b.Spans)
	b.Attrs = nodes.Clone(b.Attrs)
	return b
}

// Document is an ordered list of blocks plus the step log of every mutation applied to it.
// Positions count a text block as its characters plus an opening and a closing token and
// every other block as a single token. Document is not safe for concurrent use; Session
// serializes access.
type Document struct {
	blocks []Block
	steps  []StepMap
}

// NewDocument returns a document holding copies of blocks.
func NewDocument(blocks ...Block) *Document {
	d := &Document{}
	for _, b := range blocks {
		b = b.clone()
		if b.ID == "" {
			b.ID = util.NewID("blk")
		}
		d.blocks = append(d.blocks, b)
	}
	return d
}

// Blocks returns a deep copy of the blocks.
func (d *Document) Blocks() []Block {
	out := make([]Block, len(d.blocks))
	for i, b := range d.blocks {
		out[i] = b.clone()
	}
	return out
}

// Version is the number of position-changing steps applied so far.
func (d *Document) Version() int {
	return len(d.steps)
}

// Size is the total number of positions.
func (d *Document) Size() int {
	n := 0
	for _, b := range d.blocks {
		n += b.Size()
	}
	return n
}

// Clone returns an independent copy with the same step log.
func (d *Document) Clone() *Document {
	out := NewDocument(d.blocks...)
	out.steps = append([]StepMap(nil), d.steps...)
	return out
}

func (d *Document) blockStart(index int) int {
	pos := 0
	for i := 0; i < index && i < len(d.blocks); i++ {
		pos += d.blocks[i].Size()
	}
	return pos
}

// location is a resolved position. Inside a text block, index is the block and offset the
// character offset. Otherwise the position is the boundary before block index and offset is -1.
type location struct {
	index  int
	offset int
}

func (l location) inText() bool { return l.offset >= 0 }

func (d *Document) resolve(pos int) (location, error) {
	if pos < 0 {
		return location{}, errs.Validationf("editor.resolve", "position %d out of range", pos)
	}
	start := 0
	for i, b := range d.blocks {
		if pos == start {
			return location{index: i, offset: -1}, nil
		}
		end := start + b.Size()
		if pos < end {
			return location{index: i, offset: pos - start - 1}, nil
		}
		start = end
	}
	if pos == start {
		return location{index: len(d.blocks), offset: -1}, nil
	}
	return location{}, errs.Validationf("editor.resolve", "position %d out of range", pos)
}

// NodeAt returns the block starting at pos.
func (d *Document) NodeAt(pos int) (Block, bool) {
	loc, err := d.resolve(pos)
	if err != nil || loc.inText() || loc.index >= len(d.blocks) {
		return Block{}, false
	}
	return d.blocks[loc.index].clone(), true
}

// Find returns the position of the block with the given id.
func (d *Document) Find(id string) (int, bool) {
	pos := 0
	for _, b := range d.blocks {
		if b.ID == id {
			return pos, true
		}
		pos += b.Size()
	}
	return 0, false
}

// MapSince maps a position captured at version through every later step.
func (d *Document) MapSince(version, pos, assoc int) (int, bool) {
	if version < 0 || version > len(d.steps) {
		return pos, true
	}
	deleted := false
	for _, step := range d.steps[version:] {
		var gone bool
		pos, gone = step.Map(pos, assoc)
		deleted = deleted || gone
	}
	return pos, deleted
}

// Track captures [from, to) at the current version.
func (d *Document) Track(from, to int) TrackedRange {
	return TrackedRange{From: from, To: to, Version: d.Version()}
}

// Resolve maps a tracked range to current positions. ok is false when either end was deleted
// or the range collapsed.
func (d *Document) Resolve(r TrackedRange) (from, to int, ok bool) {
	from, fromGone := d.MapSince(r.Version, r.From, 1)
	to, toGone := d.MapSince(r.Version, r.To, -1)
	if fromGone || toGone || from >= to {
		return from, to, false
	}
	return from, to, true
}

// TextBetween returns the text of the text blocks between from and to, one line per block.
func (d *Document) TextBetween(from, to int) string {
	var out []rune
	start := 0
	first := true
	for _, b := range d.blocks {
		end := start + b.Size()
		if b.Textual() && end > from && start < to {
			lo := max(from-start-1, 0)
			hi := min(to-start-1, spansLen(b.Spans))
			if lo < hi {
				if !first {
					out = append(out, '\n')
				}
				out = append(out, []rune(spansText(sliceSpans(b.Spans, lo, hi)))...)
				first = false
			}
		}
		start = end
	}
	return string(out)
}

// splice replaces blocks [i, j) and records step.
func (d *Document) splice(i, j int, with []Block, step StepMap) {
	out := make([]Block, 0, len(d.blocks)-(j-i)+len(with))
	out = append(out, d.blocks[:i]...)
	out = append(out, with...)
	out = append(out, d.blocks[j:]...)
	d.blocks = out
	d.steps = append(d.steps, step)
}

func sizeOf(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		n += b.Size()
	}
	return n
}

// ReplaceText replaces the content between two text positions with plain text carrying marks.
// When the range crosses blocks they are joined into the first one, as deleting a selection
// does. Both ends must lie inside text blocks.
func (d *Document) ReplaceText(from, to int, text string, marks []Mark) error {
	if from > to {
		from, to = to, from
	}
	start, err := d.resolve(from)
	if err != nil {
		return err
	}
	end, err := d.resolve(to)
	if err != nil {
		return err
	}
	if !start.inText() || !end.inText() {
		return errs.Validationf("editor.replace_text", "range %d-%d does not start and end inside text", from, to)
	}
	first := d.blocks[start.index]
	last := d.blocks[end.index]

	spans := sliceSpans(first.Spans, 0, start.offset)
	spans = append(spans, Span{Text: text, Marks: marks})
	spans = append(spans, sliceSpans(last.Spans, end.offset, spansLen(last.Spans))...)
	joined := first.clone()
	joined.Spans = normalizeSpans(spans)

	d.splice(start.index, end.index+1, []Block{joined}, StepMap{
		Start:   from,
		OldSize: to - from,
		NewSize: utf8.RuneCountInString(text),
	})
	return nil
}

// InsertBlocks inserts blocks at pos. Inside a text block the block is split around them;
// an empty paragraph at the cursor is replaced. It returns the position of the first
// inserted block.
func (d *Document) InsertBlocks(pos int, blocks []Block) (int, error) {
	if len(blocks) == 0 {
		return pos, nil
	}
	loc, err := d.resolve(pos)
	if err != nil {
		return 0, err
	}
	inserted := sizeOf(blocks)
	if !loc.inText() {
		d.splice(loc.index, loc.index, blocks, StepMap{Start: pos, NewSize: inserted})
		return pos, nil
	}

	b := d.blocks[loc.index]
	blockPos := d.blockStart(loc.index)
	length := spansLen(b.Spans)
	switch {
	case b.Type == Paragraph && length == 0:
		d.splice(loc.index, loc.index+1, blocks, StepMap{Start: blockPos, OldSize: b.Size(), NewSize: inserted})
		return blockPos, nil
	case loc.offset == 0:
		d.splice(loc.index, loc.index, blocks, StepMap{Start: blockPos, NewSize: inserted})
		return blockPos, nil
	case loc.offset == length:
		after := blockPos + b.Size()
		d.splice(loc.index+1, loc.index+1, blocks, StepMap{Start: after, NewSize: inserted})
		return after, nil
	}

	head := b.clone()
	head.Spans = normalizeSpans(sliceSpans(b.Spans, 0, loc.offset))
	tail := b.clone()
	tail.ID = util.NewID("blk")
	tail.Spans = normalizeSpans(sliceSpans(b.Spans, loc.offset, length))

	with := append([]Block{head}, blocks...)
	with = append(with, tail)
	// Splitting adds a closing and an opening token around the inserted blocks.
	d.splice(loc.index, loc.index+1, with, StepMap{Start: pos, NewSize: inserted + 2})
	return pos + 1, nil
}

// DeleteBlock removes the block starting at pos.
func (d *Document) DeleteBlock(pos int) error {
	loc, err := d.resolve(pos)
	if err != nil {
		return err
	}
	if loc.inText() || loc.index >= len(d.blocks) {
		return errs.Validationf("editor.delete_block", "no block starts at %d", pos)
	}
	size := d.blocks[loc.index].Size()
	d.splice(loc.index, loc.index+1, nil, StepMap{Start: pos, OldSize: size})
	return nil
}

// ReplaceAll swaps the whole content for blocks.
func (d *Document) ReplaceAll(blocks []Block) {
	old := d.Size()
	d.splice(0, len(d.blocks), blocks, StepMap{Start: 0, OldSize: old, NewSize: sizeOf(blocks)})
}

// SetAttrs replaces the attributes of the custom node with the given id. Positions do not
// move, so no step is recorded.
func (d *Document) SetAttrs(id string, attrs nodes.Attrs) error {
	for i := range d.blocks {
		b := &d.blocks[i]
		if b.ID != id {
			continue
		}
		if b.Kind() == "" || attrs == nil || attrs.Kind() != b.Kind() {
			return errs.Validationf("editor.set_attrs", "block %s is not a %v node", id, kindOf(attrs))
		}
		b.Attrs = nodes.Clone(attrs)
		return nil
	}
	return errs.E(errs.NotFound, "editor.set_attrs", fmt.Sprintf("block %s not found", id), nil)
}

// NodeRef locates a custom node.
type NodeRef struct {
	Pos   int
	ID    string
	Attrs nodes.Attrs
}

// Nodes lists every custom node in document order.
func (d *Document) Nodes() []NodeRef {
	var out []NodeRef
	pos := 0
	for _, b := range d.blocks {
		if b.Type == Custom {
			out = append(out, NodeRef{Pos: pos, ID: b.ID, Attrs: nodes.Clone(b.Attrs)})
		}
		pos += b.Size()
	}
	return out
}

func kindOf(attrs nodes.Attrs) nodes.Kind {
	if attrs == nil {
		return ""
	}
	return attrs.Kind()
}
