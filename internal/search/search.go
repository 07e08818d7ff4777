package search

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	BlogID  string `json:"blogId"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Status  string `json:"status"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	BlogID string
	Status string
	Limit  int
	Offset int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	// Engine names the backend that answered.
	Engine string `json:"engine"`
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID     string `json:"id"`
	BlogID string `json:"blogId"`
	Title  string `json:"title"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
	Body   string `json:"body"`
}

const maxIndexedBody = 20000

// PlainText extracts the readable text of a post's HTML, one block per line.
func PlainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	doc.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre, br, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	// Poll questions are the only readable text custom nodes carry.
	doc.Find(`div[data-type="poll"]`).Each(func(_ int, s *goquery.Selection) {
		if q, ok := s.Attr("data-question"); ok {
			s.SetText(q + "\n")
		}
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Truncate cuts s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
