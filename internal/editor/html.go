package editor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/nodes"
)

var inlineElements = map[string]bool{
	"a": true, "abbr": true, "b": true, "br": true, "code": true, "del": true, "em": true,
	"i": true, "ins": true, "mark": true, "s": true, "small": true, "span": true,
	"strike": true, "strong": true, "sub": true, "sup": true, "u": true,
}

var breakingElements = map[string]bool{
	"p": true, "div": true, "li": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true,
}

// markElements map onto span marks. Every other inline element has no span form.
var markElements = map[string]bool{
	"a": true, "b": true, "code": true, "del": true, "em": true, "i": true, "s": true,
	"strike": true, "strong": true, "u": true,
}

const parseOp = "editor.parse"

// Parse loads stored post HTML. It never fails: custom nodes with malformed attributes load
// with defaults, markup the block model cannot hold is kept verbatim as a raw block, and every
// such recovery comes back as a Parse diagnostic.
func Parse(src string) (*Document, []*errs.Error) {
	doc := NewDocument()
	if strings.TrimSpace(src) == "" {
		return doc, nil
	}
	root, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return doc, []*errs.Error{errs.E(errs.Parse, parseOp, "read document", err)}
	}

	var issues []*errs.Error
	var pending []Span
	flush := func() {
		spans := normalizeSpans(pending)
		pending = nil
		if len(spans) == 0 {
			return
		}
		b := NewParagraph("")
		b.Spans = spans
		doc.blocks = append(doc.blocks, b)
	}

	root.Find("body").Contents().Each(func(_ int, sel *goquery.Selection) {
		name := goquery.NodeName(sel)
		switch {
		case name == "#text":
			if strings.TrimSpace(sel.Text()) == "" && len(pending) == 0 {
				return
			}
			pending = append(pending, Span{Text: sel.Text()})
			return
		case name == "#comment":
			return
		case name == "br":
			pending = append(pending, Span{Text: "\n"})
			return
		case inlineElements[name]:
			reason := unsupportedNode(sel)
			if reason == "" {
				pending = appendInline(pending, sel, nil)
				return
			}
			flush()
			doc.blocks = append(doc.blocks, rawBlock(sel))
			issues = append(issues, keptRaw(name, reason))
			return
		}
		flush()
		blocks, blockIssues := parseBlock(sel, name)
		issues = append(issues, blockIssues...)
		doc.blocks = append(doc.blocks, blocks...)
	})
	flush()
	return doc, issues
}

func parseBlock(sel *goquery.Selection, name string) ([]Block, []*errs.Error) {
	if spec, ok := nodes.Match(sel); ok {
		if spec.HasContent() {
			if reason := unsupportedMarkup(sel); reason != "" {
				return []Block{rawBlock(sel)}, []*errs.Error{keptRaw(name, reason)}
			}
		}
		attrs, issues := spec.Parse(sel)
		b := NewNode(attrs)
		if spec.HasContent() {
			b.Spans = normalizeSpans(inlineSpans(sel, nil))
		}
		return []Block{b}, issues
	}
	switch name {
	case "p", "h1", "h2", "h3", "h4", "h5", "h6":
		return textBlocks(sel, name)
	}
	if dataType, ok := sel.Attr("data-type"); ok && goquery.NodeName(sel) == "div" {
		// Foreign node markup stays verbatim and is never coerced into a known kind.
		return []Block{rawBlock(sel)}, []*errs.Error{errs.E(errs.Parse, parseOp,
			fmt.Sprintf("unknown node type %q kept as raw markup", dataType), nil)}
	}
	return []Block{rawBlock(sel)}, nil
}

// textBlocks loads a paragraph or heading. Images directly inside it become image blocks of
// their own and split the text around them. A block carrying attributes or inline markup with
// no span form is kept raw instead.
func textBlocks(sel *goquery.Selection, name string) ([]Block, []*errs.Error) {
	if attr := extraAttr(sel, name); attr != "" {
		return []Block{rawBlock(sel)}, []*errs.Error{keptRaw(name, fmt.Sprintf("attribute %q", attr))}
	}
	var reason string
	hasImage := false
	sel.Contents().EachWithBreak(func(_ int, child *goquery.Selection) bool {
		if isImage(child) {
			hasImage = true
			return true
		}
		reason = unsupportedNode(child)
		return reason == ""
	})
	if reason != "" {
		return []Block{rawBlock(sel)}, []*errs.Error{keptRaw(name, reason)}
	}

	newBlock := func(spans []Span) Block {
		b := NewParagraph("")
		if name != "p" {
			b = NewHeading(int(name[1]-'0'), "")
		}
		b.Spans = normalizeSpans(spans)
		return b
	}
	var (
		blocks  []Block
		issues  []*errs.Error
		pending []Span
	)
	flush := func() {
		spans := normalizeSpans(pending)
		pending = nil
		if len(spans) == 0 || hasImage && strings.TrimSpace(spansText(spans)) == "" {
			return
		}
		blocks = append(blocks, newBlock(spans))
	}
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if !isImage(child) {
			pending = appendInline(pending, child, nil)
			return
		}
		flush()
		spec, _ := nodes.Match(child)
		attrs, imageIssues := spec.Parse(child)
		blocks = append(blocks, NewNode(attrs))
		issues = append(issues, imageIssues...)
		issues = append(issues, errs.E(errs.Parse, parseOp,
			fmt.Sprintf("inline image inside <%s> moved to its own block", name), nil))
	})
	flush()
	if len(blocks) == 0 {
		blocks = append(blocks, newBlock(nil))
	}
	return blocks, issues
}

func isImage(sel *goquery.Selection) bool {
	if goquery.NodeName(sel) != "img" {
		return false
	}
	spec, ok := nodes.Match(sel)
	return ok && spec.Kind() == nodes.KindResizableImage
}

// unsupportedMarkup describes the first child of sel the span model would lose, or "".
func unsupportedMarkup(sel *goquery.Selection) string {
	var reason string
	sel.Contents().EachWithBreak(func(_ int, child *goquery.Selection) bool {
		reason = unsupportedNode(child)
		return reason == ""
	})
	return reason
}

func unsupportedNode(sel *goquery.Selection) string {
	name := goquery.NodeName(sel)
	switch {
	case name == "#text", name == "#comment", name == "br":
		return ""
	case markElements[name], breakingElements[name], name == "span":
		if attr := extraAttr(sel, name); attr != "" {
			return fmt.Sprintf("<%s %s>", name, attr)
		}
		return unsupportedMarkup(sel)
	}
	return "<" + name + ">"
}

// extraAttr names an attribute of sel the block model has no place for.
func extraAttr(sel *goquery.Selection, name string) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	for _, a := range sel.Nodes[0].Attr {
		if name == "a" && a.Key == "href" {
			continue
		}
		return a.Key
	}
	return ""
}

func keptRaw(name, reason string) *errs.Error {
	return errs.E(errs.Parse, parseOp, fmt.Sprintf("<%s> with %s kept as raw markup", name, reason), nil)
}

func rawBlock(sel *goquery.Selection) Block {
	markup, err := goquery.OuterHtml(sel)
	if err != nil {
		markup = ""
	}
	return NewRaw(markup)
}

// inlineSpans flattens the inline content of sel into marked spans.
func inlineSpans(sel *goquery.Selection, marks []Mark) []Span {
	var out []Span
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		out = appendInline(out, child, marks)
	})
	return out
}

func appendInline(out []Span, sel *goquery.Selection, marks []Mark) []Span {
	name := goquery.NodeName(sel)
	switch name {
	case "#text":
		return append(out, Span{Text: sel.Text(), Marks: marks})
	case "#comment":
		return out
	case "br":
		return append(out, Span{Text: "\n", Marks: marks})
	}
	if breakingElements[name] && len(out) > 0 && !strings.HasSuffix(spansText(out), "\n") {
		out = append(out, Span{Text: "\n"})
	}
	return append(out, inlineSpans(sel, withMark(marks, sel, name))...)
}

func withMark(marks []Mark, sel *goquery.Selection, name string) []Mark {
	var mark Mark
	switch name {
	case "strong", "b":
		mark = Mark{Type: MarkBold}
	case "em", "i":
		mark = Mark{Type: MarkItalic}
	case "u":
		mark = Mark{Type: MarkUnderline}
	case "s", "strike", "del":
		mark = Mark{Type: MarkStrike}
	case "code":
		mark = Mark{Type: MarkCode}
	case "a":
		href, _ := sel.Attr("href")
		mark = Mark{Type: MarkLink, Href: href}
	default:
		return marks
	}
	out := append(append([]Mark(nil), marks...), mark)
	return sortMarks(out)
}

// HTML renders the document in the persisted wire format.
func (d *Document) HTML() string {
	var b strings.Builder
	for _, block := range d.blocks {
		b.WriteString(renderBlock(block))
	}
	return b.String()
}

func renderBlock(b Block) string {
	switch b.Type {
	case Paragraph:
		return "<p>" + renderSpans(b.Spans) + "</p>"
	case Heading:
		return fmt.Sprintf("<h%d>%s</h%d>", b.Level, renderSpans(b.Spans), b.Level)
	case Custom:
		if b.Attrs == nil {
			return ""
		}
		return nodes.Render(b.Attrs, renderSpans(b.Spans))
	case Raw:
		return b.HTML
	}
	return ""
}
