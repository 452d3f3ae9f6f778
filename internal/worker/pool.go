// Package worker runs dispatches on a fixed number of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned when submitting to a closed pool.
	ErrClosed = errors.New("worker: pool closed")
	// ErrQueueFull is returned by TrySubmit when the queue has no room.
	ErrQueueFull = errors.New("worker: queue full")
)

// Option configures a Pool.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Pool processes items of type T with a fixed number of workers.
type Pool[T any] struct {
	workers int
	process func(context.Context, T)
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan T
}

// NewPool creates a pool. Non-positive workers means one worker; a negative
// queue size means an unbuffered queue.
func NewPool[T any](workers, queueSize int, process func(context.Context, T), opts ...Option) *Pool[T] {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool[T]{
		workers: workers,
		process: process,
		logger:  o.logger,
		queue:   make(chan T, queueSize),
	}
}

// Run starts the workers and blocks until the pool is closed and every queued
// item has been processed. Cancelling ctx closes the pool; it never abandons
// queued items. ctx is passed to process.
func (p *Pool[T]) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.Close)
	defer stop()

	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for item := range p.queue {
				p.handle(ctx, item)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool[T]) handle(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic", "error", fmt.Errorf("%v", r))
		}
	}()
	p.process(ctx, item)
}

// Submit queues item, blocking until there is room or ctx is done.
func (p *Pool[T]) Submit(ctx context.Context, item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues item without blocking.
func (p *Pool[T]) TrySubmit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting items. Queued items are still processed by Run.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}
