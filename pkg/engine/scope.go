package engine

import (
	"context"

	"github.com/goliatone/go-dataconv/pkg/format"
)

// Scope is the per-request state read by helpers during rendering. A Scope is
// owned by exactly one dispatch and must not be shared.
type Scope struct {
	RequestID    string
	Handler      format.Handler
	Instance     *Instance
	TemplateRoot string
}

type scopeKey struct{}

type depthKey struct{}

// WithScope returns a child context carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the Scope stored by WithScope.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

func evaluateDepth(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}

func withEvaluateDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
