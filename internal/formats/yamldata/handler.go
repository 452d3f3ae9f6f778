// Package yamldata implements the YAML source format.
package yamldata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/format"
)

// Name is the format identifier.
const Name = "yaml"

// Handler parses YAML documents. Templates for this format usually render
// YAML, so PostProcessResult parses the output back into structure.
type Handler struct {
	format.Base
}

var _ format.Handler = (*Handler)(nil)

// New builds a Handler. YAML has no format options.
func New(config.Formats) (format.Handler, error) {
	return &Handler{Base: format.Base{Name: Name}}, nil
}

// ParseSrcData decodes the first document in raw.
func (h *Handler) ParseSrcData(ctx context.Context, raw string) (any, error) {
	return format.Parse(ctx, Name, func() (any, error) {
		if strings.TrimSpace(raw) == "" {
			return nil, errors.New("empty document")
		}
		var out any
		if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
			return nil, err
		}
		return normalize(out), nil
	})
}

// PostProcessResult returns the structured form of rendered when it is a YAML
// mapping or sequence.
func (h *Handler) PostProcessResult(rendered string) any {
	var out any
	if err := yaml.Unmarshal([]byte(rendered), &out); err != nil {
		return rendered
	}
	switch out.(type) {
	case map[string]any, map[any]any, []any:
		return normalize(out)
	default:
		return rendered
	}
}

// ConversionResultMetadata reports the derived source id.
func (h *Handler) ConversionResultMetadata(data any) map[string]any {
	return map[string]any{"sourceId": format.SourceID(data)}
}

// normalize converts non-string-keyed mappings and non-finite floats so the
// tree is JSON-safe. NaN and the infinities keep their YAML spelling.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	case float64:
		switch {
		case math.IsNaN(t):
			return ".nan"
		case math.IsInf(t, 1):
			return ".inf"
		case math.IsInf(t, -1):
			return "-.inf"
		}
		return t
	default:
		return v
	}
}
