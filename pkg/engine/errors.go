package engine

import (
	"errors"
	"fmt"
)

// ErrNoScope is returned when a render is attempted without a request scope.
var ErrNoScope = errors.New("engine: no request scope in context")

// CompileError reports a template that failed to compile. Compile failures are
// never cached.
type CompileError struct {
	Name string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("engine: compile %q: %v", e.Name, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// RenderError reports a failed template evaluation.
type RenderError struct {
	Name string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("engine: render %q: %v", e.Name, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
