package expr

import (
	"sort"
	"strings"

	"github.com/ohler55/ojg/oj"
)

// RenderValue replaces every expression found in v. A string that is exactly
// one expression renders to the raw result; expressions embedded in longer
// strings are interpolated. Maps and lists are rendered recursively. All
// failures are collected; failed parts render as nil.
func RenderValue(ev Evaluator, v any, ctx map[string]any) (any, []error) {
	switch t := v.(type) {
	case string:
		return renderString(ev, t, ctx)
	case map[string]any:
		return RenderMap(ev, t, ctx)
	case []any:
		var errs []error
		out := make([]any, len(t))
		for i, item := range t {
			r, e := RenderValue(ev, item, ctx)
			out[i] = r
			errs = append(errs, e...)
		}
		return out, errs
	default:
		return v, nil
	}
}

// RenderMap renders every value of m in key order.
func RenderMap(ev Evaluator, m map[string]any, ctx map[string]any) (map[string]any, []error) {
	if m == nil {
		return nil, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	out := make(map[string]any, len(m))
	for _, k := range keys {
		r, e := RenderValue(ev, m[k], ctx)
		out[k] = r
		errs = append(errs, e...)
	}
	return out, errs
}

func renderString(ev Evaluator, s string, ctx map[string]any) (any, []error) {
	if IsExpression(s) {
		v, err := ev.Evaluate(s, ctx)
		if err != nil {
			return nil, []error{err}
		}
		return v, nil
	}
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var (
		b    strings.Builder
		errs []error
		rest = s
	)
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[open:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		segment := rest[open : open+end+2]
		v, err := ev.Evaluate(segment, ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			b.WriteString(stringify(v))
		}
		rest = rest[open+end+2:]
	}
	return b.String(), errs
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	return oj.JSON(v, &oj.Options{Sort: true})
}
