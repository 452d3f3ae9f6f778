package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/goliatone/go-dataconv/pkg/dispatch"
)

// Dispatcher is the subset of *dispatch.Dispatcher a Runner needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg dispatch.Message) (dispatch.Reply, bool)
}

type call struct {
	ctx  context.Context
	msg  dispatch.Message
	done chan<- outcome
}

type outcome struct {
	reply   dispatch.Reply
	handled bool
}

// Runner puts dispatches on a Pool. It satisfies Dispatcher itself, so
// transports can use either.
type Runner struct {
	pool *Pool[call]
}

// NewRunner builds a Runner over d.
func NewRunner(d Dispatcher, workers, queueSize int, opts ...Option) *Runner {
	process := func(_ context.Context, c call) {
		reply, handled := d.Dispatch(c.ctx, c.msg)
		c.done <- outcome{reply: reply, handled: handled}
	}
	return &Runner{pool: NewPool(workers, queueSize, process, opts...)}
}

// Run processes queued dispatches until ctx is done or Close is called.
func (r *Runner) Run(ctx context.Context) error {
	return r.pool.Run(ctx)
}

// Close stops accepting dispatches.
func (r *Runner) Close() {
	r.pool.Close()
}

// Dispatch queues msg and waits for its reply. When the pool is closed or ctx
// ends first, the caller gets a 503 reply.
func (r *Runner) Dispatch(ctx context.Context, msg dispatch.Message) (dispatch.Reply, bool) {
	done := make(chan outcome, 1)
	if err := r.pool.Submit(ctx, call{ctx: ctx, msg: msg, done: done}); err != nil {
		return unavailable(err), true
	}
	select {
	case out := <-done:
		return out.reply, out.handled
	case <-ctx.Done():
		return unavailable(ctx.Err()), true
	}
}

func unavailable(err error) dispatch.Reply {
	message := "Worker unavailable."
	if errors.Is(err, context.DeadlineExceeded) {
		message = "Request timed out."
	}
	return dispatch.Reply{
		Status: http.StatusServiceUnavailable,
		Result: &dispatch.ErrorBody{Code: dispatch.CodeUnavailable, Message: message},
	}
}
