package csvdata_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dataconv/internal/formats/csvdata"
	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/format"
)

func newHandler(t *testing.T, mutate func(*config.Formats)) format.Handler {
	t.Helper()
	opts := config.Default().Formats
	if mutate != nil {
		mutate(&opts)
	}
	h, err := csvdata.New(opts)
	require.NoError(t, err)
	return h
}

func TestParseSrcData(t *testing.T) {
	h := newHandler(t, nil)

	data, err := h.ParseSrcData(context.Background(), "id,name\n1,Ada\n2,Grace\n")
	require.NoError(t, err)

	tree := data.(map[string]any)
	assert.Equal(t, []any{"id", "name"}, tree["headers"])
	assert.Equal(t, 2, tree["rowCount"])
	assert.Equal(t, []any{
		map[string]any{"id": "1", "name": "Ada"},
		map[string]any{"id": "2", "name": "Grace"},
	}, tree["rows"])
	assert.Equal(t, "id,name\n1,Ada\n2,Grace\n", tree["_originalData"])
}

func TestParseSrcDataOptions(t *testing.T) {
	h := newHandler(t, func(o *config.Formats) {
		o.CSV.Delimiter = ";"
		o.CSV.Comment = "#"
		o.CSV.TrimLeadingSpace = true
	})

	data, err := h.ParseSrcData(context.Background(), "# exported\nid; name;name\n1; Ada;Lovelace\n")
	require.NoError(t, err)

	rows := data.(map[string]any)["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"id": "1", "name": "Ada", "name_2": "Lovelace"}, rows[0])
}

func TestParseSrcDataFailures(t *testing.T) {
	h := newHandler(t, nil)

	for name, input := range map[string]string{
		"empty":      "",
		"ragged":     "a,b\n1,2,3\n",
		"bare quote": "a,b\n\"1,2\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.ParseSrcData(context.Background(), input)
			var perr *format.ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, csvdata.Name, perr.Format)
		})
	}
}

func TestMetadataAndPostProcess(t *testing.T) {
	h := newHandler(t, nil)
	data, err := h.ParseSrcData(context.Background(), "id\n7\n")
	require.NoError(t, err)

	meta := h.ConversionResultMetadata(data)
	assert.Equal(t, 1, meta["rowCount"])
	assert.Equal(t, []any{"id"}, meta["columns"])
	assert.NotEmpty(t, meta["sourceId"])

	assert.Equal(t, map[string]any{"ok": true}, h.PostProcessResult(`{"ok": true}`))
	assert.Equal(t, "{{ tpl }}", h.PreProcessTemplate("{{ tpl }}"))
}

func TestNewRejectsMultiCharDelimiter(t *testing.T) {
	opts := config.Default().Formats
	opts.CSV.Delimiter = "||"
	_, err := csvdata.New(opts)
	assert.Error(t, err)
}
