package nodes

import (
	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// Divider line styles.
const (
	RuleSolid  = "solid"
	RuleDashed = "dashed"
	RuleDotted = "dotted"
	RuleDouble = "double"
)

var ruleVariants = []string{RuleSolid, RuleDashed, RuleDotted, RuleDouble}

// DividerAttrs style an aligned horizontal rule.
type DividerAttrs struct {
	Align   string
	Variant string
}

func (DividerAttrs) Kind() Kind { return KindHorizontalRule }

func (a DividerAttrs) clone() Attrs { return a }

type dividerSpec struct{}

func (dividerSpec) Kind() Kind        { return KindHorizontalRule }
func (dividerSpec) HasContent() bool  { return false }
func (dividerSpec) TrapsCursor() bool { return false }

func (dividerSpec) Defaults() Attrs {
	return DividerAttrs{Align: AlignCenter, Variant: RuleSolid}
}

func (dividerSpec) Match(sel *goquery.Selection) bool {
	return goquery.NodeName(sel) == "hr"
}

func (dividerSpec) Parse(sel *goquery.Selection) (Attrs, []*errs.Error) {
	r := newReader(sel, KindHorizontalRule)
	attrs := DividerAttrs{
		Align:   r.enum("data-align", alignments, AlignCenter),
		Variant: r.enum("data-variant", ruleVariants, RuleSolid),
	}
	return attrs, r.issues
}

func (dividerSpec) Render(a Attrs, _ string) string {
	attrs, _ := a.(DividerAttrs)
	align := attrs.Align
	if !oneOf(align, alignments) {
		align = AlignCenter
	}
	variant := attrs.Variant
	if !oneOf(variant, ruleVariants) {
		variant = RuleSolid
	}
	return openTag("hr", KindHorizontalRule).
		attr("data-align", align).
		attr("data-variant", variant).
		void()
}
