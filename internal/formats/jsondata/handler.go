// Package jsondata implements the JSON source format.
package jsondata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/format"
)

// Name is the format identifier.
const Name = "json"

// Handler parses a single JSON document. Numbers are kept as json.Number so
// large identifiers survive untouched.
type Handler struct {
	format.Base
}

var _ format.Handler = (*Handler)(nil)

// New builds a Handler. JSON has no format options.
func New(config.Formats) (format.Handler, error) {
	return &Handler{Base: format.Base{Name: Name}}, nil
}

// ParseSrcData decodes raw, rejecting trailing content.
func (h *Handler) ParseSrcData(ctx context.Context, raw string) (any, error) {
	return format.Parse(ctx, Name, func() (any, error) {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()

		var out any
		if err := dec.Decode(&out); err != nil {
			return nil, err
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, errors.New("unexpected data after top-level value")
		}
		return out, nil
	})
}

// PostProcessResult decodes JSON output.
func (h *Handler) PostProcessResult(rendered string) any {
	return format.DecodeJSONOutput(rendered)
}

// ConversionResultMetadata reports the derived source id.
func (h *Handler) ConversionResultMetadata(data any) map[string]any {
	return map[string]any{"sourceId": format.SourceID(data)}
}
