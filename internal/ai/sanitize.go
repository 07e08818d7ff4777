package ai

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plainPolicy = bluemonday.StrictPolicy()
	richPolicy  = newRichPolicy()
	fence       = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")
)

func newRichPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// Custom nodes carry their attributes in data-* attributes.
	p.AllowDataAttributes()
	return p
}

// stripFence removes a Markdown code fence wrapped around a whole response.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// SanitizeText reduces model output to plain text for replacing a selection.
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(plainPolicy.Sanitize(stripFence(s))))
}

// SanitizeDocument keeps safe markup, custom node attributes included, for replacing a
// whole document.
func SanitizeDocument(s string) string {
	return strings.TrimSpace(richPolicy.Sanitize(stripFence(s)))
}
