// Package storage defines where named templates are read from. The engine
// asks a Store for template text by (root, name); implementations live under
// internal/storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

var (
	// ErrTemplateNotFound reports a missing template.
	ErrTemplateNotFound = errors.New("storage: template not found")
	// ErrInvalidName reports a name that escapes the template root or is
	// otherwise not a clean relative path.
	ErrInvalidName = errors.New("storage: invalid template name")
)

// Store reads template text.
type Store interface {
	Read(ctx context.Context, root, name string) ([]byte, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, root, name string) ([]byte, error)

// Read calls f.
func (f StoreFunc) Read(ctx context.Context, root, name string) ([]byte, error) {
	return f(ctx, root, name)
}

// CleanName normalises a template name to a slash-separated path relative to
// the template root. Leading slashes are dropped; names that would climb out
// of the root are rejected.
func CleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	trimmed = strings.TrimLeft(trimmed, "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	cleaned := path.Clean(trimmed)
	if !fs.ValidPath(cleaned) || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}

// Memory is an in-memory Store keyed by root and name, used for tests and for
// embedding fixed template sets.
type Memory map[string]map[string]string

// Read implements Store.
func (m Memory) Read(_ context.Context, root, name string) ([]byte, error) {
	clean, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	if set, ok := m[root]; ok {
		if body, ok := set[clean]; ok {
			return []byte(body), nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, root, clean)
}
