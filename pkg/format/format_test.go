package format_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/format"
)

type stubHandler struct {
	format.Base
}

func (stubHandler) ParseSrcData(context.Context, string) (any, error) { return map[string]any{}, nil }

func TestRegistryRejectsDuplicatesAndEmptyNames(t *testing.T) {
	reg := format.NewRegistry()
	ctor := func(config.Formats) (format.Handler, error) { return stubHandler{format.Base{Name: "stub"}}, nil }

	require.NoError(t, reg.Register("Stub", ctor))
	assert.Error(t, reg.Register(" stub ", ctor))
	assert.Error(t, reg.Register("", ctor))
	assert.Error(t, reg.Register("other", nil))

	assert.True(t, reg.Has("STUB"))
	assert.Equal(t, []string{"stub"}, reg.List())
}

func TestFactoryMemoisesHandlers(t *testing.T) {
	reg := format.NewRegistry()
	calls := 0
	reg.MustRegister("stub", func(config.Formats) (format.Handler, error) {
		calls++
		return stubHandler{format.Base{Name: "stub"}}, nil
	})

	factory := format.NewFactory(reg, config.Default().Formats)
	first, err := factory.Handler("stub")
	require.NoError(t, err)
	second, err := factory.Handler("STUB")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	fresh := format.NewFactory(reg, config.Default().Formats)
	_, err = fresh.Handler("stub")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFactoryUnknownFormat(t *testing.T) {
	factory := format.NewFactory(format.NewRegistry(), config.Formats{})
	_, err := factory.Handler("hl7v2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, format.ErrUnknownFormat))
}

func TestParseNormalisesFailures(t *testing.T) {
	_, err := format.Parse(context.Background(), "csv", func() (any, error) {
		panic("boom")
	})
	var perr *format.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "csv", perr.Format)

	cause := errors.New("bad row")
	_, err = format.Parse(context.Background(), "csv", func() (any, error) { return nil, cause })
	assert.ErrorIs(t, err, cause)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = format.Parse(ctx, "csv", func() (any, error) { t.Fatal("parser must not run"); return nil, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeJSONOutput(t *testing.T) {
	assert.Equal(t, map[string]any{"a": "b"}, format.DecodeJSONOutput(` {"a":"b"} `))
	assert.Equal(t, "plain", format.DecodeJSONOutput("plain"))
	assert.Equal(t, `{"a":`, format.DecodeJSONOutput(`{"a":`))
	assert.Equal(t, `{} {}`, format.DecodeJSONOutput(`{} {}`))
}

func TestSourceIDIsDeterministic(t *testing.T) {
	a := format.SourceID(map[string]any{"x": 1, "y": "z"})
	b := format.SourceID(map[string]any{"y": "z", "x": 1})
	c := format.SourceID(map[string]any{"x": 2})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
