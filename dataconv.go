// Package dataconv wires the default format handlers, template storage and
// dispatcher from a configuration. Applications that need finer control can
// use pkg/dispatch and pkg/engine directly.
package dataconv

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/goliatone/go-dataconv/internal/formats/csvdata"
	"github.com/goliatone/go-dataconv/internal/formats/jsondata"
	"github.com/goliatone/go-dataconv/internal/formats/xmldata"
	"github.com/goliatone/go-dataconv/internal/formats/yamldata"
	"github.com/goliatone/go-dataconv/internal/storage/fsstore"
	"github.com/goliatone/go-dataconv/internal/storage/redisstore"
	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/dispatch"
	"github.com/goliatone/go-dataconv/pkg/engine"
	"github.com/goliatone/go-dataconv/pkg/format"
	"github.com/goliatone/go-dataconv/pkg/storage"
)

// Dispatcher aliases dispatch.Dispatcher.
type Dispatcher = dispatch.Dispatcher

// Message aliases dispatch.Message.
type Message = dispatch.Message

// Reply aliases dispatch.Reply.
type Reply = dispatch.Reply

// DefaultRegistry registers the csv, json, xml and yaml handlers.
func DefaultRegistry() *format.Registry {
	registry := format.NewRegistry()
	registry.MustRegister(csvdata.Name, csvdata.New)
	registry.MustRegister(jsondata.Name, jsondata.New)
	registry.MustRegister(xmldata.Name, xmldata.New)
	registry.MustRegister(yamldata.Name, yamldata.New)
	return registry
}

// Observer receives both cache and dispatch events; *metrics.Metrics
// implements it.
type Observer interface {
	engine.Observer
	dispatch.Observer
}

// Option configures New.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer Observer
	store    storage.Store
	registry *format.Registry
}

// WithLogger sets the logger shared by the cache and dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers an observer with the cache and dispatcher.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithStore replaces the store selected by templates.storage.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRegistry replaces DefaultRegistry.
func WithRegistry(registry *format.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// New builds a Dispatcher for cfg. A nil cfg means config.Default().
func New(cfg *config.Config, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.store == nil {
		o.store = NewStore(cfg)
	}

	cacheOpts := []engine.Option{
		engine.WithStore(o.store),
		engine.WithLogger(o.logger.With("component", "engine")),
	}
	dispatchOpts := []dispatch.Option{
		dispatch.WithRegistry(o.registry),
		dispatch.WithConfig(config.NewStore(cfg)),
		dispatch.WithLogger(o.logger.With("component", "dispatch")),
	}
	if o.observer != nil {
		cacheOpts = append(cacheOpts, engine.WithObserver(o.observer))
		dispatchOpts = append(dispatchOpts, dispatch.WithObserver(o.observer))
	}
	dispatchOpts = append(dispatchOpts, dispatch.WithCache(engine.NewCache(cacheOpts...)))

	return dispatch.New(dispatchOpts...)
}

// NewStore returns the template store selected by cfg.Templates.Storage.
func NewStore(cfg *config.Config) storage.Store {
	if cfg.Templates.Storage == config.StorageRedis {
		return NewRedisStore(cfg)
	}
	return fsstore.New()
}

// NewRedisStore connects the Redis template store described by cfg.Redis.
func NewRedisStore(cfg *config.Config) *redisstore.Store {
	return redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		redisstore.WithPrefix(cfg.Redis.Prefix),
		redisstore.WithChannel(cfg.Redis.Channel),
	)
}

// Convert runs a one-off inline conversion. An empty template returns the
// structured source data with its metadata.
func Convert(ctx context.Context, d *Dispatcher, srcDataType string, src, template []byte) (Reply, error) {
	reply, _ := d.Dispatch(ctx, Message{
		OperationKind:  dispatch.OpConvertInline,
		SrcDataType:    srcDataType,
		SrcDataBase64:  encode(src),
		TemplateBase64: encode(template),
	})
	if !reply.OK() {
		if body, ok := reply.Result.(*dispatch.ErrorBody); ok {
			return reply, fmt.Errorf("dataconv: %s: %s", body.Code, body.Message)
		}
		return reply, fmt.Errorf("dataconv: conversion failed with status %d", reply.Status)
	}
	return reply, nil
}
