package nodes

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"blogdesk/api/internal/errs"
)

// attrReader reads element attributes with defaulting and collects Parse diagnostics.
type attrReader struct {
	sel    *goquery.Selection
	kind   Kind
	issues []*errs.Error
}

func newReader(sel *goquery.Selection, kind Kind) *attrReader {
	return &attrReader{sel: sel, kind: kind}
}

func (r *attrReader) report(name, format string, args ...any) {
	r.issues = append(r.issues, errs.E(errs.Parse, "nodes.parse."+string(r.kind),
		fmt.Sprintf("%s: %s", name, fmt.Sprintf(format, args...)), nil))
}

func (r *attrReader) str(name, fallback string) string {
	value, ok := r.sel.Attr(name)
	if !ok {
		return fallback
	}
	return value
}

func (r *attrReader) boolean(name string, fallback bool) bool {
	value, ok := r.sel.Attr(name)
	if !ok {
		return fallback
	}
	if value != "true" && value != "false" {
		r.report(name, "expected true or false, got %q", value)
	}
	return DecodeBool(value)
}

func (r *attrReader) integer(name string, fallback int) int {
	value, ok := r.sel.Attr(name)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, ok := decodeInt(value)
	if !ok {
		r.report(name, "not a number: %q", value)
		return fallback
	}
	return parsed
}

func (r *attrReader) enum(name string, allowed []string, fallback string) string {
	value, ok := r.sel.Attr(name)
	if !ok || value == "" {
		return fallback
	}
	if !oneOf(value, allowed) {
		r.report(name, "unsupported value %q", value)
		return fallback
	}
	return value
}

func readList[T any](r *attrReader, name string) []T {
	value, _ := r.sel.Attr(name)
	out, ok := decodeList[T](value)
	if !ok {
		r.report(name, "malformed JSON list")
	}
	return out
}

func readRecord[V any](r *attrReader, name string) map[string]V {
	value, _ := r.sel.Attr(name)
	out, ok := decodeRecord[V](value)
	if !ok {
		r.report(name, "malformed JSON object")
	}
	return out
}
