package nodes

import (
	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// Market widget display modes.
const (
	WidgetTicker = "ticker"
	WidgetQuote  = "quote"
	WidgetChart  = "chart"
)

var widgetTypes = []string{WidgetTicker, WidgetQuote, WidgetChart}

// MarketWidgetAttrs configure an embedded market-data widget.
type MarketWidgetAttrs struct {
	Symbols    []string
	WidgetType string
	Title      string
	ShowChange bool
}

func (MarketWidgetAttrs) Kind() Kind { return KindMarketWidget }

func (a MarketWidgetAttrs) clone() Attrs {
	a.Symbols = append([]string{}, a.Symbols...)
	return a
}

type marketWidgetSpec struct{}

func (marketWidgetSpec) Kind() Kind        { return KindMarketWidget }
func (marketWidgetSpec) HasContent() bool  { return false }
func (marketWidgetSpec) TrapsCursor() bool { return true }

func (marketWidgetSpec) Defaults() Attrs {
	return MarketWidgetAttrs{Symbols: []string{}, WidgetType: WidgetTicker, ShowChange: true}
}

func (marketWidgetSpec) Match(sel *goquery.Selection) bool {
	return isDiv(sel, KindMarketWidget)
}

func (marketWidgetSpec) Parse(sel *goquery.Selection) (Attrs, []*errs.Error) {
	r := newReader(sel, KindMarketWidget)
	attrs := MarketWidgetAttrs{
		Symbols:    readList[string](r, "data-symbols"),
		WidgetType: r.enum("data-widget-type", widgetTypes, WidgetTicker),
		Title:      r.str("data-title", ""),
		ShowChange: r.boolean("data-show-change", true),
	}
	return attrs, r.issues
}

func (marketWidgetSpec) Render(a Attrs, _ string) string {
	attrs, _ := a.(MarketWidgetAttrs)
	symbols := attrs.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	widgetType := attrs.WidgetType
	if !oneOf(widgetType, widgetTypes) {
		widgetType = WidgetTicker
	}
	return openTag("div", KindMarketWidget).
		attr("data-symbols", EncodeJSON(symbols)).
		attr("data-widget-type", widgetType).
		attrIf("data-title", attrs.Title).
		attr("data-show-change", EncodeBool(attrs.ShowChange)).
		wrap("div", "")
}
