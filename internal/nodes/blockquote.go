package nodes

import (
	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// Blockquote variants.
const (
	QuoteDefault  = "default"
	QuoteAccent   = "accent"
	QuotePull     = "pull"
	QuoteBordered = "bordered"
)

var quoteVariants = []string{QuoteDefault, QuoteAccent, QuotePull, QuoteBordered}

// BlockquoteAttrs style a blockquote. The quoted text is inline content, not an attribute.
type BlockquoteAttrs struct {
	Variant string
	Cite    string
}

func (BlockquoteAttrs) Kind() Kind { return KindBlockquote }

func (a BlockquoteAttrs) clone() Attrs { return a }

type blockquoteSpec struct{}

func (blockquoteSpec) Kind() Kind        { return KindBlockquote }
func (blockquoteSpec) HasContent() bool  { return true }
func (blockquoteSpec) TrapsCursor() bool { return false }

func (blockquoteSpec) Defaults() Attrs {
	return BlockquoteAttrs{Variant: QuoteDefault}
}

// Match accepts every <blockquote>; unmarked ones take the default variant.
func (blockquoteSpec) Match(sel *goquery.Selection) bool {
	return goquery.NodeName(sel) == "blockquote"
}

func (blockquoteSpec) Parse(sel *goquery.Selection) (Attrs, []*errs.Error) {
	r := newReader(sel, KindBlockquote)
	cite := r.str("data-cite", "")
	if cite == "" {
		cite = r.str("cite", "")
	}
	attrs := BlockquoteAttrs{
		Variant: r.enum("data-variant", quoteVariants, QuoteDefault),
		Cite:    cite,
	}
	return attrs, r.issues
}

func (blockquoteSpec) Render(a Attrs, inner string) string {
	attrs, _ := a.(BlockquoteAttrs)
	variant := attrs.Variant
	if !oneOf(variant, quoteVariants) {
		variant = QuoteDefault
	}
	return openTag("blockquote", KindBlockquote).
		attr("data-variant", variant).
		attrIf("data-cite", attrs.Cite).
		wrap("blockquote", inner)
}
