package nodes

import (
	"encoding/json"
	"sort"

	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// Chart types.
const (
	ChartBar  = "bar"
	ChartLine = "line"
	ChartPie  = "pie"
	ChartArea = "area"
)

var chartTypes = []string{ChartBar, ChartLine, ChartPie, ChartArea}

// ChartRecord is one data row. Values are strings, float64 numbers or booleans, the shapes
// that survive a JSON round trip unchanged.
type ChartRecord map[string]any

// ChartAttrs configure an embedded chart.
type ChartAttrs struct {
	ChartType string
	Title     string
	Data      []ChartRecord
	// Units and Colors are keyed by data series name.
	Units  map[string]string
	Colors map[string]string
}

func (ChartAttrs) Kind() Kind { return KindChart }

func (a ChartAttrs) clone() Attrs {
	data := make([]ChartRecord, 0, len(a.Data))
	for _, row := range a.Data {
		copied := make(ChartRecord, len(row))
		for k, v := range row {
			copied[k] = v
		}
		data = append(data, copied)
	}
	a.Data = data
	a.Units = cloneStrings(a.Units)
	a.Colors = cloneStrings(a.Colors)
	return a
}

// Series returns the numeric keys of the data rows in sorted order, which is how the chart
// view decides which columns to plot.
func (a ChartAttrs) Series() []string {
	seen := map[string]struct{}{}
	for _, row := range a.Data {
		for key, value := range row {
			if _, ok := value.(float64); ok {
				seen[key] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type chartSpec struct{}

func (chartSpec) Kind() Kind        { return KindChart }
func (chartSpec) HasContent() bool  { return false }
func (chartSpec) TrapsCursor() bool { return true }

func (chartSpec) Defaults() Attrs {
	return ChartAttrs{
		ChartType: ChartBar,
		Data:      []ChartRecord{},
		Units:     map[string]string{},
		Colors:    map[string]string{},
	}
}

func (chartSpec) Match(sel *goquery.Selection) bool {
	return isDiv(sel, KindChart)
}

func (chartSpec) Parse(sel *goquery.Selection) (Attrs, []*errs.Error) {
	r := newReader(sel, KindChart)
	attrs := ChartAttrs{
		ChartType: r.enum("data-chart-type", chartTypes, ChartBar),
		Title:     r.str("data-chart-title", ""),
		Data:      readList[ChartRecord](r, "data-chart-data"),
		Units:     readRecord[string](r, "data-chart-units"),
		Colors:    readRecord[string](r, "data-chart-colors"),
	}
	for i, row := range attrs.Data {
		if row == nil {
			attrs.Data[i] = ChartRecord{}
		}
	}
	return attrs, r.issues
}

func (chartSpec) Render(a Attrs, _ string) string {
	attrs, _ := a.(ChartAttrs)
	data := attrs.Data
	if data == nil {
		data = []ChartRecord{}
	}
	chartType := attrs.ChartType
	if !oneOf(chartType, chartTypes) {
		chartType = ChartBar
	}
	return openTag("div", KindChart).
		attr("data-chart-type", chartType).
		attrIf("data-chart-title", attrs.Title).
		attr("data-chart-data", EncodeJSON(data)).
		attr("data-chart-units", encodeStrings(attrs.Units)).
		attr("data-chart-colors", encodeStrings(attrs.Colors)).
		wrap("div", "")
}

func encodeStrings(m map[string]string) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func cloneStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
