package export

import (
	"fmt"
	"html"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/nodes"
	"blogdesk/api/internal/poll"
)

// StaticHTML replaces polls, market widgets and charts in a post's HTML with printable
// markup. Everything else is kept as stored.
func StaticHTML(postHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(postHTML))
	if err != nil {
		return "", fmt.Errorf("parse post html: %w", err)
	}
	doc.Find("[data-type]").Each(func(_ int, sel *goquery.Selection) {
		spec, ok := nodes.Match(sel)
		if !ok {
			return
		}
		attrs, _ := spec.Parse(sel)
		switch a := attrs.(type) {
		case nodes.PollAttrs:
			sel.ReplaceWithHtml(renderPoll(a))
		case nodes.MarketWidgetAttrs:
			sel.ReplaceWithHtml(renderMarket(a))
		case nodes.ChartAttrs:
			sel.ReplaceWithHtml(renderChart(a))
		}
	})
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render post html: %w", err)
	}
	return body, nil
}

func renderPoll(a nodes.PollAttrs) string {
	var b strings.Builder
	b.WriteString(`<section class="poll"><p class="poll-question">`)
	b.WriteString(html.EscapeString(a.Question))
	b.WriteString(`</p><ul>`)
	for i, opt := range a.Options {
		fmt.Fprintf(&b, `<li>%s <span class="poll-result">%d%% (%d)</span></li>`,
			html.EscapeString(opt.Text), poll.Percent(a, i), opt.Votes)
	}
	fmt.Fprintf(&b, `</ul><p class="poll-total">%d votes</p></section>`, a.TotalVotes)
	return b.String()
}

func renderMarket(a nodes.MarketWidgetAttrs) string {
	var b strings.Builder
	b.WriteString(`<section class="market">`)
	if a.Title != "" {
		fmt.Fprintf(&b, `<p class="market-title">%s</p>`, html.EscapeString(a.Title))
	}
	symbols := make([]string, 0, len(a.Symbols))
	for _, s := range a.Symbols {
		symbols = append(symbols, html.EscapeString(s))
	}
	fmt.Fprintf(&b, `<p class="market-symbols">%s</p></section>`, strings.Join(symbols, ", "))
	return b.String()
}

func renderChart(a nodes.ChartAttrs) string {
	series := a.Series()
	labels := labelColumns(a.Data, series)

	var b strings.Builder
	b.WriteString(`<table class="chart">`)
	if a.Title != "" {
		fmt.Fprintf(&b, `<caption>%s</caption>`, html.EscapeString(a.Title))
	}
	b.WriteString(`<thead><tr>`)
	for _, key := range labels {
		fmt.Fprintf(&b, `<th>%s</th>`, html.EscapeString(key))
	}
	for _, key := range series {
		head := key
		if unit := a.Units[key]; unit != "" {
			head += " (" + unit + ")"
		}
		fmt.Fprintf(&b, `<th>%s</th>`, html.EscapeString(head))
	}
	b.WriteString(`</tr></thead><tbody>`)
	columns := append(slices.Clone(labels), series...)
	for _, row := range a.Data {
		b.WriteString(`<tr>`)
		for _, key := range columns {
			fmt.Fprintf(&b, `<td>%s</td>`, html.EscapeString(cell(row[key])))
		}
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table>`)
	return b.String()
}

func labelColumns(rows []nodes.ChartRecord, series []string) []string {
	numeric := make(map[string]bool, len(series))
	for _, key := range series {
		numeric[key] = true
	}
	seen := map[string]bool{}
	var labels []string
	for _, row := range rows {
		for key := range row {
			if !numeric[key] && !seen[key] {
				seen[key] = true
				labels = append(labels, key)
			}
		}
	}
	sort.Strings(labels)
	return labels
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
