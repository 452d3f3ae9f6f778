package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-dataconv"
	"github.com/goliatone/go-dataconv/internal/transport/httpapi"
	"github.com/goliatone/go-dataconv/internal/transport/natsrpc"
	"github.com/goliatone/go-dataconv/internal/watch"
	"github.com/goliatone/go-dataconv/internal/worker"
	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/dispatch"
	"github.com/goliatone/go-dataconv/pkg/metrics"
	"github.com/goliatone/go-dataconv/pkg/storage"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion worker",
		Long: `Serve starts the HTTP API and, when nats.url is set, a NATS request/reply
subscriber. Template changes on disk (templates.watch) or on the Redis change
channel invalidate the template cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address override")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New(true)
	store := dataconv.NewStore(cfg)
	d, err := dataconv.New(cfg,
		dataconv.WithLogger(logger),
		dataconv.WithObserver(m),
		dataconv.WithStore(store),
	)
	if err != nil {
		return err
	}

	runner := worker.NewRunner(d, cfg.Worker.Concurrency, cfg.Worker.QueueSize,
		worker.WithLogger(logger.With("component", "worker")))

	handler, err := httpapi.NewHandler(ctx, runner,
		httpapi.WithLogger(logger.With("component", "http")),
		httpapi.WithMetrics(m.Handler()),
	)
	if err != nil {
		return err
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		if nc, err = natsrpc.Connect(cfg.NATS.URL, "dataconv", logger); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		defer nc.Close()
	}

	// The runner outlives the shutdown signal so requests the transports
	// already accepted are answered; it is closed once they have stopped.
	runCtx := context.WithoutCancel(ctx)
	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- runner.Run(runCtx)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Serve(ctx, cfg.Server.Listen, handler,
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, logger.With("component", "http"))
	})
	g.Go(func() error {
		return watchTemplates(ctx, cfg, store, d, logger)
	})
	if nc != nil {
		srv := natsrpc.New(runner, cfg.NATS.Subject, cfg.NATS.Queue,
			natsrpc.WithLogger(logger.With("component", "nats")))
		g.Go(func() error {
			return srv.Serve(ctx, nc)
		})
	}

	logger.Info("worker started",
		"listen", cfg.Server.Listen,
		"storage", cfg.Templates.Storage,
		"formats", d.Formats(),
	)
	err = g.Wait()
	runner.Close()
	if runErr := <-runnerDone; err == nil {
		err = runErr
	}
	return err
}

// subscriber is implemented by stores that publish template changes.
type subscriber interface {
	Subscribe(ctx context.Context, fn func(payload string)) error
}

// watchTemplates turns template change events into templatesUpdated
// dispatches. Invalidation bypasses the worker queue.
func watchTemplates(ctx context.Context, cfg *config.Config, store storage.Store, d *dataconv.Dispatcher, logger *slog.Logger) error {
	invalidate := func(source string) {
		d.Dispatch(ctx, dispatch.Message{OperationKind: dispatch.OpTemplatesUpdated})
		logger.Debug("templates invalidated", "source", source)
	}

	if sub, ok := store.(subscriber); ok {
		return sub.Subscribe(ctx, func(payload string) {
			invalidate("redis:" + payload)
		})
	}
	if !cfg.Templates.Watch {
		return nil
	}

	events, err := watch.New(cfg.Templates.Root,
		watch.WithLogger(logger.With("component", "watch"))).Watch(ctx)
	if err != nil {
		return fmt.Errorf("serve: watch %s: %w", cfg.Templates.Root, err)
	}
	go func() {
		for path := range events {
			invalidate(path)
		}
	}()
	return nil
}
