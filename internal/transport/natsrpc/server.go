// Package natsrpc serves dispatcher requests over NATS request/reply. Each
// request body is a JSON dispatch.Message; the reply body is a JSON
// dispatch.Reply.
package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goliatone/go-dataconv/pkg/dispatch"
)

// Dispatcher is satisfied by *dispatch.Dispatcher and *worker.Runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg dispatch.Message) (dispatch.Reply, bool)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds each dispatch.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// Server subscribes to a subject in a queue group and answers each request.
type Server struct {
	dispatcher Dispatcher
	subject    string
	queue      string
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a Server.
func New(d Dispatcher, subject, queue string, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		subject:    subject,
		queue:      queue,
		timeout:    time.Minute,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Connect dials url with reconnect logging.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsrpc: connect %s: %w", url, err)
	}
	return nc, nil
}

const (
	defaultDrainTimeout = 30 * time.Second
	drainPollInterval   = 10 * time.Millisecond
)

// Serve subscribes on nc and blocks until ctx is done. Buffered messages are
// drained and every in-flight request is answered before Serve returns.
func (s *Server) Serve(ctx context.Context, nc *nats.Conn) error {
	if nc == nil {
		return errors.New("natsrpc: connection is required")
	}
	inflight := &tracker{}
	sub, err := nc.QueueSubscribe(s.subject, s.queue, func(m *nats.Msg) {
		if !inflight.start() {
			s.logger.Warn("nats request dropped after shutdown", "subject", m.Subject)
			return
		}
		go func() {
			defer inflight.done()
			s.respond(ctx, m)
		}()
	})
	if err != nil {
		return fmt.Errorf("natsrpc: subscribe %s: %w", s.subject, err)
	}
	s.logger.Info("nats subscription started", "subject", s.subject, "queue", s.queue)

	<-ctx.Done()
	timeout := nc.Opts.DrainTimeout
	if timeout <= 0 {
		timeout = defaultDrainTimeout
	}
	if err := sub.Drain(); err != nil {
		s.logger.Warn("nats drain", "error", err)
	} else if !awaitDrained(sub.IsValid, timeout, drainPollInterval) {
		s.logger.Warn("nats drain timed out", "timeout", timeout)
	}
	inflight.closeAndWait()
	return nil
}

// tracker counts running requests. Once closed it admits no new ones, so
// start never runs concurrently with the final wait.
type tracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (t *tracker) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *tracker) done() {
	t.wg.Done()
}

func (t *tracker) closeAndWait() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// awaitDrained polls valid until it reports false, which nats.Subscription
// does once a drain has delivered every buffered message.
func awaitDrained(valid func() bool, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for valid() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
	return true
}

func (s *Server) respond(ctx context.Context, m *nats.Msg) {
	out, ok := s.Handle(ctx, m.Data)
	if !ok || m.Reply == "" {
		return
	}
	if err := m.Respond(out); err != nil {
		s.logger.Error("nats respond", "error", err)
	}
}

// Handle decodes data, dispatches it and encodes the reply. ok is false when
// no reply should be sent.
func (s *Server) Handle(ctx context.Context, data []byte) (out []byte, ok bool) {
	var msg dispatch.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return s.encode(dispatch.Reply{
			Status: http.StatusBadRequest,
			Result: &dispatch.ErrorBody{Code: dispatch.CodeBadRequest, Message: "Invalid message. " + err.Error()},
		})
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
	}
	reply, handled := s.dispatcher.Dispatch(ctx, msg)
	if !handled {
		s.logger.Debug("nats message not routed", "op", msg.OperationKind)
		return nil, false
	}
	return s.encode(reply)
}

func (s *Server) encode(reply dispatch.Reply) ([]byte, bool) {
	out, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("encode reply", "error", err)
		return nil, false
	}
	return out, true
}
