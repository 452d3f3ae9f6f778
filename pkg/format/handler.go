package format

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Handler is implemented once per supported source format.
type Handler interface {
	// Format returns the identifier the handler is registered under.
	Format() string
	// ParseSrcData converts source text into a generic tree of maps, slices and
	// scalars. Failures are reported as *ParseError.
	ParseSrcData(ctx context.Context, raw string) (any, error)
	// PreProcessTemplate rewrites template text before compilation.
	PreProcessTemplate(tpl string) string
	// PostProcessResult reshapes rendered output before assembly.
	PostProcessResult(rendered string) any
	// ConversionResultMetadata returns values merged into the reply payload.
	ConversionResultMetadata(data any) map[string]any
}

// Base provides the identity defaults. Variants embed it and override what
// they need.
type Base struct {
	Name string
}

// Format returns the registered identifier.
func (b Base) Format() string { return b.Name }

// PreProcessTemplate returns tpl unchanged.
func (Base) PreProcessTemplate(tpl string) string { return tpl }

// PostProcessResult returns rendered unchanged.
func (Base) PostProcessResult(rendered string) any { return rendered }

// ConversionResultMetadata returns an empty mapping.
func (Base) ConversionResultMetadata(any) map[string]any { return map[string]any{} }

// Parse runs fn and normalises its outcome: context cancellation is checked
// first, panics are recovered, and any failure is wrapped in a *ParseError.
// Variants call it from ParseSrcData so every parser fails the same way.
func Parse(ctx context.Context, format string, fn func() (any, error)) (data any, err error) {
	if ctx != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, &ParseError{Format: format, Err: cerr}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = &ParseError{Format: format, Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	data, err = fn()
	if err != nil {
		return nil, &ParseError{Format: format, Err: err}
	}
	return data, nil
}

// DecodeJSONOutput returns the decoded value when rendered is a JSON document
// and the rendered string otherwise.
func DecodeJSONOutput(rendered string) any {
	trimmed := strings.TrimSpace(rendered)
	if trimmed == "" {
		return rendered
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return rendered
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return rendered
	}
	if dec.More() {
		return rendered
	}
	return out
}

// SourceID derives a deterministic identifier from structured data. Map keys
// are sorted by encoding/json, so equal trees yield equal identifiers.
func SourceID(data any) string {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", data))
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, payload).String()
}
