// Package nodes defines the custom document node kinds of the editor: their attribute schemas,
// the HTML parse rules that recognise them and the renderers that persist them.
package nodes

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// Kind names a custom node kind. The value doubles as the data-type marker in HTML.
type Kind string

const (
	KindPoll           Kind = "poll"
	KindMarketWidget   Kind = "marketWidget"
	KindChart          Kind = "chart"
	KindResizableImage Kind = "resizableImage"
	KindBlockquote     Kind = "blockquote"
	KindHorizontalRule Kind = "horizontalRule"
)

// Attrs is the attribute set of one node kind. Implementations live in this package only.
type Attrs interface {
	Kind() Kind
	clone() Attrs
}

// Spec is the schema extension for one node kind.
type Spec interface {
	Kind() Kind
	// Defaults returns the attribute set used for anything missing or malformed.
	Defaults() Attrs
	// Match reports whether an HTML element is this kind.
	Match(sel *goquery.Selection) bool
	// Parse reads attributes from a matching element. It never fails; malformed values are
	// replaced by defaults and reported as Parse errors.
	Parse(sel *goquery.Selection) (Attrs, []*errs.Error)
	// Render returns the HTML for the node. inner is the rendered inline content of text
	// kinds and is ignored by atoms.
	Render(attrs Attrs, inner string) string
	// HasContent reports whether the node carries inline text (blockquote).
	HasContent() bool
	// TrapsCursor reports whether an empty paragraph must follow the node on insertion.
	TrapsCursor() bool
}

var registry = []Spec{
	pollSpec{},
	marketWidgetSpec{},
	chartSpec{},
	imageSpec{},
	blockquoteSpec{},
	dividerSpec{},
}

// Specs returns every registered kind in parse priority order.
func Specs() []Spec {
	out := make([]Spec, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds the spec for a kind.
func Lookup(kind Kind) (Spec, bool) {
	for _, spec := range registry {
		if spec.Kind() == kind {
			return spec, true
		}
	}
	return nil, false
}

// Match returns the spec recognising sel, if any.
func Match(sel *goquery.Selection) (Spec, bool) {
	for _, spec := range registry {
		if spec.Match(sel) {
			return spec, true
		}
	}
	return nil, false
}

// Render renders attrs with the spec of their kind.
func Render(attrs Attrs, inner string) string {
	spec, ok := Lookup(attrs.Kind())
	if !ok {
		return ""
	}
	return spec.Render(attrs, inner)
}

// Clone returns a deep copy of attrs.
func Clone(attrs Attrs) Attrs {
	if attrs == nil {
		return nil
	}
	return attrs.clone()
}

func dataType(sel *goquery.Selection) string {
	value, _ := sel.Attr("data-type")
	return value
}

func isDiv(sel *goquery.Selection, kind Kind) bool {
	return goquery.NodeName(sel) == "div" && dataType(sel) == string(kind)
}

// tag accumulates an element's attributes in a fixed order.
type tag struct {
	b strings.Builder
}

func openTag(name string, kind Kind) *tag {
	t := &tag{}
	t.b.WriteString("<")
	t.b.WriteString(name)
	t.attr("data-type", string(kind))
	return t
}

func (t *tag) attr(name, value string) *tag {
	t.b.WriteString(" ")
	t.b.WriteString(name)
	t.b.WriteString(`="`)
	t.b.WriteString(html.EscapeString(value))
	t.b.WriteString(`"`)
	return t
}

func (t *tag) attrIf(name, value string) *tag {
	if value == "" {
		return t
	}
	return t.attr(name, value)
}

func (t *tag) void() string {
	t.b.WriteString(">")
	return t.b.String()
}

func (t *tag) wrap(name, inner string) string {
	t.b.WriteString(">")
	t.b.WriteString(inner)
	t.b.WriteString("</")
	t.b.WriteString(name)
	t.b.WriteString(">")
	return t.b.String()
}
