// Package xmldata implements the markup source format. Documents become a
// tree of maps: attributes are stored under a configurable prefix, character
// data under "text", and repeated child elements collapse into lists.
package xmldata

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/format"
)

// Name is the format identifier.
const Name = "xml"

const textKey = "text"

var attrShorthand = regexp.MustCompile(`\.@([A-Za-z_][A-Za-z0-9_]*)`)

// Handler parses XML documents.
type Handler struct {
	format.Base
	attrPrefix string
}

var _ format.Handler = (*Handler)(nil)

// New builds a Handler from the xml section of opts.
func New(opts config.Formats) (format.Handler, error) {
	prefix := opts.XML.AttributePrefix
	if prefix == "" {
		prefix = "attr_"
	}
	if strings.ContainsAny(prefix, ".@ \t") {
		return nil, fmt.Errorf("xmldata: invalid attribute prefix %q", prefix)
	}
	return &Handler{
		Base:       format.Base{Name: Name},
		attrPrefix: prefix,
	}, nil
}

// ParseSrcData returns {"<root>": tree, "_originalData": raw}.
func (h *Handler) ParseSrcData(ctx context.Context, raw string) (any, error) {
	return format.Parse(ctx, Name, func() (any, error) {
		root, value, err := h.decode(raw)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			root:            value,
			"_originalData": raw,
		}, nil
	})
}

// PreProcessTemplate rewrites the attribute shorthand ".@id" into the
// prefixed key the parser produces, since template identifiers cannot hold
// "@".
func (h *Handler) PreProcessTemplate(tpl string) string {
	return attrShorthand.ReplaceAllString(tpl, "."+h.attrPrefix+"$1")
}

// PostProcessResult decodes JSON output.
func (h *Handler) PostProcessResult(rendered string) any {
	return format.DecodeJSONOutput(rendered)
}

// ConversionResultMetadata reports the derived source id and root element.
func (h *Handler) ConversionResultMetadata(data any) map[string]any {
	meta := map[string]any{"sourceId": format.SourceID(data)}
	tree, ok := data.(map[string]any)
	if !ok {
		return meta
	}
	for key := range tree {
		if key == "_originalData" {
			continue
		}
		meta["rootElement"] = key
		break
	}
	return meta
}

type element struct {
	name   string
	fields map[string]any
	text   strings.Builder
}

func (h *Handler) decode(raw string) (string, any, error) {
	dec := xml.NewDecoder(strings.NewReader(raw))
	dec.Strict = true

	var (
		stack    []*element
		rootName string
		rootVal  any
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && rootName != "" {
				return "", nil, fmt.Errorf("multiple root elements")
			}
			el := &element{name: t.Name.Local, fields: make(map[string]any)}
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				el.fields[h.attrPrefix+attr.Name.Local] = attr.Value
			}
			stack = append(stack, el)
		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return "", nil, fmt.Errorf("character data outside root element")
				}
				continue
			}
			stack[len(stack)-1].text.Write(t)
		case xml.EndElement:
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			value := el.value()
			if len(stack) == 0 {
				rootName, rootVal = el.name, value
				continue
			}
			appendChild(stack[len(stack)-1].fields, el.name, value)
		}
	}

	if rootName == "" {
		return "", nil, fmt.Errorf("no root element")
	}
	return rootName, rootVal, nil
}

func (e *element) value() any {
	text := strings.TrimSpace(e.text.String())
	if len(e.fields) == 0 {
		return text
	}
	if text != "" {
		e.fields[textKey] = text
	}
	return e.fields
}

func appendChild(fields map[string]any, name string, value any) {
	existing, ok := fields[name]
	if !ok {
		fields[name] = value
		return
	}
	if list, ok := existing.([]any); ok {
		fields[name] = append(list, value)
		return
	}
	fields[name] = []any{existing, value}
}
