package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"
)

// maxEvaluateDepth bounds nested evaluate calls.
const maxEvaluateDepth = 32

var helperNames = []string{"evaluate", "template_root", "source_format", "request_id"}

// bindHelpers adds the request-bound helpers to view. Each closure resolves
// through ctx, so concurrent renders only ever see their own Scope.
func bindHelpers(ctx context.Context, scope *Scope, view pongo2.Context) {
	view["evaluate"] = func(name string, data any) (*pongo2.Value, error) {
		return evaluate(ctx, name, data)
	}
	view["template_root"] = func() string {
		return scope.TemplateRoot
	}
	view["source_format"] = func() string {
		if scope.Handler == nil {
			return ""
		}
		return scope.Handler.Format()
	}
	view["request_id"] = func() string {
		return scope.RequestID
	}
}

// evaluate renders the named partial through the scope's own Instance with
// data bound to "msg".
func evaluate(ctx context.Context, name string, data any) (*pongo2.Value, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok || scope.Instance == nil {
		return nil, ErrNoScope
	}
	depth := evaluateDepth(ctx)
	if depth >= maxEvaluateDepth {
		return nil, fmt.Errorf("engine: evaluate %q: nesting deeper than %d", name, maxEvaluateDepth)
	}

	tpl, err := scope.Instance.Partial(name)
	if err != nil {
		return nil, err
	}
	out, err := tpl.Render(withEvaluateDepth(ctx, depth+1), map[string]any{"msg": data})
	if err != nil {
		return nil, err
	}
	return pongo2.AsSafeValue(out), nil
}

var (
	filtersOnce sync.Once
	sanitizer   = bluemonday.StrictPolicy()
)

// registerFilters installs the process-wide filters and turns off
// autoescaping; output is data, not HTML. None of these filters may depend on
// request state.
func registerFilters() {
	filtersOnce.Do(func() {
		pongo2.SetAutoescape(false)

		filters := map[string]pongo2.FilterFunction{
			"trim":             filterTrim,
			"lowerfirst":       filterLowerFirst,
			"b64encode":        filterBase64Encode,
			"b64decode":        filterBase64Decode,
			"tojson":           filterToJSON,
			"sanitize":         filterSanitize,
			"default_if_empty": filterDefaultIfEmpty,
		}
		for name, fn := range filters {
			if pongo2.FilterExists(name) {
				continue
			}
			_ = pongo2.RegisterFilter(name, fn)
		}
	})
}

func filterTrim(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(strings.TrimSpace(in.String())), nil
}

func filterLowerFirst(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	t := in.String()

	for i, r := range t {
		if strings.ContainsRune(" \t\n\r", r) {
			continue
		}
		size := utf8.RuneLen(r)
		return pongo2.AsValue(t[:i] + strings.ToLower(string(r)) + t[i+size:]), nil
	}
	return pongo2.AsValue(t), nil
}

func filterBase64Encode(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(base64.StdEncoding.EncodeToString([]byte(in.String()))), nil
}

func filterBase64Decode(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	out, err := base64.StdEncoding.DecodeString(strings.TrimSpace(in.String()))
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:b64decode", OrigError: err}
	}
	return pongo2.AsValue(string(out)), nil
}

func filterToJSON(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	out, err := json.Marshal(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:tojson", OrigError: err}
	}
	return pongo2.AsSafeValue(string(out)), nil
}

func filterSanitize(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(strings.TrimSpace(sanitizer.Sanitize(in.String()))), nil
}

func filterDefaultIfEmpty(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if in.IsNil() || strings.TrimSpace(in.String()) == "" {
		return param, nil
	}
	return in, nil
}
