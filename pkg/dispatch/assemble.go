package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-dataconv/pkg/format"
)

const (
	// DocumentKey holds the post-processed render output.
	DocumentKey = "document"
	// DataKey holds untemplated structured data that is not an object.
	DataKey = "data"
)

// assembleRendered merges the handler metadata with the post-processed
// output under DocumentKey.
func assembleRendered(h format.Handler, data any, rendered string) map[string]any {
	out := metadata(h, data)
	out[DocumentKey] = h.PostProcessResult(rendered)
	return out
}

// assembleUntemplated merges the handler metadata with a deep copy of the
// structured data. Keys of the structured data win over metadata keys.
func assembleUntemplated(h format.Handler, data any) (map[string]any, error) {
	out := metadata(h, data)
	copied, err := deepCopy(data)
	if err != nil {
		return nil, err
	}
	if fields, ok := copied.(map[string]any); ok {
		for key, value := range fields {
			out[key] = value
		}
		return out, nil
	}
	out[DataKey] = copied
	return out, nil
}

func metadata(h format.Handler, data any) map[string]any {
	out := make(map[string]any)
	for key, value := range h.ConversionResultMetadata(data) {
		out[key] = value
	}
	return out
}

func deepCopy(data any) (any, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("dispatch: copy structured data: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("dispatch: copy structured data: %w", err)
	}
	return out, nil
}
