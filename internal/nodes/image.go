package nodes

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// Image width bounds in CSS pixels.
const (
	MinImageWidth     = 100
	MaxImageWidth     = 800
	DefaultImageWidth = 500
)

// Alignment values shared by images and dividers.
const (
	AlignLeft   = "left"
	AlignCenter = "center"
	AlignRight  = "right"
)

var alignments = []string{AlignLeft, AlignCenter, AlignRight}

var styleWidth = regexp.MustCompile(`(?i)(?:^|;)\s*width\s*:\s*([0-9.]+)px`)

// ImageAttrs are the attributes of a resizable image.
type ImageAttrs struct {
	Src   string
	Alt   string
	Title string
	Width int
	Align string
}

func (ImageAttrs) Kind() Kind { return KindResizableImage }

func (a ImageAttrs) clone() Attrs { return a }

// WithWidth returns a copy with the width clamped to the allowed range.
func (a ImageAttrs) WithWidth(width int) ImageAttrs {
	a.Width = Clamp(width, MinImageWidth, MaxImageWidth)
	return a
}

type imageSpec struct{}

func (imageSpec) Kind() Kind        { return KindResizableImage }
func (imageSpec) HasContent() bool  { return false }
func (imageSpec) TrapsCursor() bool { return false }

func (imageSpec) Defaults() Attrs {
	return ImageAttrs{Width: DefaultImageWidth, Align: AlignCenter}
}

// Match accepts every <img> with a source; legacy images without the marker still load.
func (imageSpec) Match(sel *goquery.Selection) bool {
	if goquery.NodeName(sel) != "img" {
		return false
	}
	src, ok := sel.Attr("src")
	return ok && src != ""
}

func (imageSpec) Parse(sel *goquery.Selection) (Attrs, []*errs.Error) {
	r := newReader(sel, KindResizableImage)
	width := r.integer("data-width", 0)
	if width == 0 {
		width = r.integer("width", 0)
	}
	if width == 0 {
		if style, ok := sel.Attr("style"); ok {
			if m := styleWidth.FindStringSubmatch(style); m != nil {
				width = DecodeInt(m[1], 0)
			}
		}
	}
	if width == 0 {
		width = DefaultImageWidth
	}
	attrs := ImageAttrs{
		Src:   r.str("src", ""),
		Alt:   r.str("alt", ""),
		Title: r.str("title", ""),
		Width: Clamp(width, MinImageWidth, MaxImageWidth),
		Align: r.enum("data-align", alignments, AlignCenter),
	}
	return attrs, r.issues
}

func (imageSpec) Render(a Attrs, _ string) string {
	attrs, _ := a.(ImageAttrs)
	width := Clamp(attrs.Width, MinImageWidth, MaxImageWidth)
	align := attrs.Align
	if !oneOf(align, alignments) {
		align = AlignCenter
	}
	return openTag("img", KindResizableImage).
		attr("src", attrs.Src).
		attrIf("alt", attrs.Alt).
		attrIf("title", attrs.Title).
		attr("data-width", strconv.Itoa(width)).
		attr("data-align", align).
		attr("style", fmt.Sprintf("width: %dpx", width)).
		void()
}
