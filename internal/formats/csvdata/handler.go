// Package csvdata implements the comma-separated source format.
package csvdata

import (
	"context"
	stdcsv "encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/format"
)

// Name is the format identifier.
const Name = "csv"

// Handler parses delimited text with a header row into
// {"headers": [...], "rows": [{header: value}], "rowCount": n}.
type Handler struct {
	format.Base
	delimiter rune
	comment   rune
	trim      bool
}

var _ format.Handler = (*Handler)(nil)

// New builds a Handler from the csv section of opts.
func New(opts config.Formats) (format.Handler, error) {
	h := &Handler{
		Base:      format.Base{Name: Name},
		delimiter: ',',
		trim:      opts.CSV.TrimLeadingSpace,
	}
	if d := opts.CSV.Delimiter; d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) {
			return nil, fmt.Errorf("csvdata: delimiter must be one character, got %q", d)
		}
		h.delimiter = r
	}
	if c := opts.CSV.Comment; c != "" {
		r, size := utf8.DecodeRuneInString(c)
		if size != len(c) {
			return nil, fmt.Errorf("csvdata: comment must be one character, got %q", c)
		}
		h.comment = r
	}
	return h, nil
}

// ParseSrcData reads every record. The first record names the columns; each
// following record becomes a row object. The raw input is kept under
// "_originalData".
func (h *Handler) ParseSrcData(ctx context.Context, raw string) (any, error) {
	return format.Parse(ctx, Name, func() (any, error) {
		reader := stdcsv.NewReader(strings.NewReader(strings.TrimPrefix(raw, "\ufeff")))
		reader.Comma = h.delimiter
		reader.Comment = h.comment
		reader.TrimLeadingSpace = h.trim

		records, err := reader.ReadAll()
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("no header row")
		}

		headers := columnNames(records[0])
		rows := make([]any, 0, len(records)-1)
		for _, record := range records[1:] {
			row := make(map[string]any, len(headers))
			for i, header := range headers {
				row[header] = record[i]
			}
			rows = append(rows, row)
		}

		headerList := make([]any, len(headers))
		for i, header := range headers {
			headerList[i] = header
		}

		return map[string]any{
			"headers":       headerList,
			"rows":          rows,
			"rowCount":      len(rows),
			"_originalData": raw,
		}, nil
	})
}

// PostProcessResult decodes JSON output.
func (h *Handler) PostProcessResult(rendered string) any {
	return format.DecodeJSONOutput(rendered)
}

// ConversionResultMetadata reports the derived source id, row count and columns.
func (h *Handler) ConversionResultMetadata(data any) map[string]any {
	meta := map[string]any{"sourceId": format.SourceID(data)}
	tree, ok := data.(map[string]any)
	if !ok {
		return meta
	}
	if n, ok := tree["rowCount"]; ok {
		meta["rowCount"] = n
	}
	if headers, ok := tree["headers"]; ok {
		meta["columns"] = headers
	}
	return meta
}

// columnNames trims headers, names blank ones by position and suffixes
// duplicates so every row key is unique.
func columnNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		names[i] = name
	}
	return names
}
