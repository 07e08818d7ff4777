package editor

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"
)

// MarkType is an inline formatting mark.
type MarkType string

const (
	MarkLink      MarkType = "link"
	MarkBold      MarkType = "bold"
	MarkItalic    MarkType = "italic"
	MarkUnderline MarkType = "underline"
	MarkStrike    MarkType = "strike"
	MarkCode      MarkType = "code"
)

// markRank orders marks from outermost to innermost when rendered.
var markRank = map[MarkType]int{
	MarkLink:      0,
	MarkBold:      1,
	MarkItalic:    2,
	MarkUnderline: 3,
	MarkStrike:    4,
	MarkCode:      5,
}

// Mark is a formatting mark on a run of text. Href is set for links only.
type Mark struct {
	Type MarkType
	Href string
}

// Span is a run of text sharing one set of marks. A "\n" in Text is a hard break.
type Span struct {
	Text  string
	Marks []Mark
}

func sortMarks(marks []Mark) []Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]Mark, 0, len(marks))
	seen := map[MarkType]bool{}
	for _, mark := range marks {
		if seen[mark.Type] {
			continue
		}
		seen[mark.Type] = true
		out = append(out, mark)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return markRank[out[i].Type] < markRank[out[j].Type]
	})
	return out
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func spansText(spans []Span) string {
	var b strings.Builder
	for _, span := range spans {
		b.WriteString(span.Text)
	}
	return b.String()
}

func spansLen(spans []Span) int {
	n := 0
	for _, span := range spans {
		n += utf8.RuneCountInString(span.Text)
	}
	return n
}

// sliceSpans returns the spans covering rune offsets [from, to).
func sliceSpans(spans []Span, from, to int) []Span {
	var out []Span
	offset := 0
	for _, span := range spans {
		runes := []rune(span.Text)
		start, end := offset, offset+len(runes)
		offset = end
		if end <= from || start >= to {
			continue
		}
		lo := max(from, start) - start
		hi := min(to, end) - start
		out = append(out, Span{Text: string(runes[lo:hi]), Marks: span.Marks})
	}
	return out
}

// marksAt returns the marks a character typed at offset inherits: those of the preceding
// character, or of the first character at the start of the block.
func marksAt(spans []Span, offset int) []Mark {
	offset--
	if offset < 0 {
		offset = 0
	}
	pos := 0
	for _, span := range spans {
		n := utf8.RuneCountInString(span.Text)
		if offset < pos+n {
			return span.Marks
		}
		pos += n
	}
	return nil
}

// normalizeSpans drops empty runs and merges neighbours with identical marks.
func normalizeSpans(spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, span := range spans {
		if span.Text == "" {
			continue
		}
		span.Marks = sortMarks(span.Marks)
		if n := len(out); n > 0 && sameMarks(out[n-1].Marks, span.Marks) {
			out[n-1].Text += span.Text
			continue
		}
		out = append(out, span)
	}
	return out
}

func cloneSpans(spans []Span) []Span {
	if spans == nil {
		return nil
	}
	out := make([]Span, len(spans))
	for i, span := range spans {
		out[i] = Span{Text: span.Text, Marks: append([]Mark(nil), span.Marks...)}
	}
	return out
}

// renderSpans renders runs of marked text. Marks are kept sorted, so neighbouring spans that
// share a leading run of marks share the enclosing elements too.
func renderSpans(spans []Span) string {
	var b strings.Builder
	var open []Mark
	for _, span := range spans {
		if span.Text == "" {
			continue
		}
		common := 0
		for common < len(open) && common < len(span.Marks) && open[common] == span.Marks[common] {
			common++
		}
		for i := len(open) - 1; i >= common; i-- {
			b.WriteString(closeMark(open[i]))
		}
		for _, mark := range span.Marks[common:] {
			b.WriteString(openMark(mark))
		}
		open = append(open[:common:common], span.Marks[common:]...)

		text := html.EscapeString(span.Text)
		b.WriteString(strings.ReplaceAll(text, "\n", "<br>"))
	}
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString(closeMark(open[i]))
	}
	return b.String()
}

func openMark(mark Mark) string {
	switch mark.Type {
	case MarkBold:
		return "<strong>"
	case MarkItalic:
		return "<em>"
	case MarkCode:
		return "<code>"
	case MarkLink:
		return fmt.Sprintf(`<a href="%s">`, html.EscapeString(mark.Href))
	case MarkStrike:
		return "<s>"
	case MarkUnderline:
		return "<u>"
	}
	return ""
}

func closeMark(mark Mark) string {
	switch mark.Type {
	case MarkBold:
		return "</strong>"
	case MarkItalic:
		return "</em>"
	case MarkCode:
		return "</code>"
	case MarkLink:
		return "</a>"
	case MarkStrike:
		return "</s>"
	case MarkUnderline:
		return "</u>"
	}
	return ""
}
