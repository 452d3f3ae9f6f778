// Package fsstore reads templates from the operating system filesystem or
// from an injected fs.FS.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-dataconv/pkg/storage"
)

// Option configures a Store.
type Option func(*Store)

// WithFS reads templates from files instead of the OS filesystem. Roots are
// then slash-separated paths inside files.
func WithFS(files fs.FS) Option {
	return func(s *Store) {
		s.fs = files
	}
}

// Store implements storage.Store.
type Store struct {
	fs fs.FS
}

var _ storage.Store = (*Store)(nil)

// New constructs a Store.
func New(options ...Option) *Store {
	s := &Store{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Read returns root/name. Missing files wrap storage.ErrTemplateNotFound.
func (s *Store) Read(ctx context.Context, root, name string) ([]byte, error) {
	clean, err := storage.CleanName(name)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var data []byte
	if s.fs != nil {
		data, err = fs.ReadFile(s.fs, fsPath(root, clean))
	} else {
		data, err = os.ReadFile(filepath.Join(root, filepath.FromSlash(clean)))
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrTemplateNotFound, path.Join(root, clean))
		}
		return nil, fmt.Errorf("fsstore: read %s: %w", path.Join(root, clean), err)
	}
	return data, nil
}

func fsPath(root, name string) string {
	root = strings.Trim(filepath.ToSlash(root), "/")
	if root == "" || root == "." {
		return name
	}
	return path.Join(root, name)
}
