package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dataconv/pkg/storage"
)

func TestCleanName(t *testing.T) {
	valid := map[string]string{
		"Patient.tpl":           "Patient.tpl",
		"/Resource/Patient.tpl": "Resource/Patient.tpl",
		`Resource\Patient.tpl`:  "Resource/Patient.tpl",
		"a/./b.tpl":             "a/b.tpl",
	}
	for in, want := range valid {
		got, err := storage.CleanName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "  ", "../secret", "a/../../b", "/"} {
		_, err := storage.CleanName(in)
		assert.True(t, errors.Is(err, storage.ErrInvalidName), "input %q: got %v", in, err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := storage.Memory{"csv": {"row.tpl": "{{ row }}"}}

	body, err := store.Read(context.Background(), "csv", "/row.tpl")
	require.NoError(t, err)
	assert.Equal(t, "{{ row }}", string(body))

	_, err = store.Read(context.Background(), "xml", "row.tpl")
	assert.ErrorIs(t, err, storage.ErrTemplateNotFound)
}
