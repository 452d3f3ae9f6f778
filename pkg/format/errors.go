package format

import (
	"errors"
	"fmt"
)

// ErrUnknownFormat is returned by the Factory for unregistered identifiers.
var ErrUnknownFormat = errors.New("format: unknown source format")

// ParseError wraps a source parser failure.
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("format: parse %s data: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
