package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/engine"
	"github.com/goliatone/go-dataconv/pkg/format"
	"github.com/goliatone/go-dataconv/pkg/storage"
)

var base64Pattern = regexp.MustCompile(`^[a-zA-Z0-9/\r\n+]*={0,2}$`)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache sets the template engine cache.
func WithCache(cache *engine.Cache) Option {
	return func(d *Dispatcher) {
		d.cache = cache
	}
}

// WithConfig sets the live configuration store.
func WithConfig(store *config.Store) Option {
	return func(d *Dispatcher) {
		d.config = store
	}
}

// WithRegistry sets the handler registry factories are built from.
func WithRegistry(registry *format.Registry) Option {
	return func(d *Dispatcher) {
		d.registry = registry
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver registers a dispatch observer.
func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observer = observer
		}
	}
}

// Dispatcher routes Messages. It is safe for concurrent use; each Dispatch
// call owns its own engine.Scope.
type Dispatcher struct {
	cache    *engine.Cache
	config   *config.Store
	registry *format.Registry
	logger   *slog.Logger
	observer Observer

	factory atomic.Pointer[format.Factory]
}

// New builds a Dispatcher. A registry is required; cache and configuration
// default to an fs-backed cache and config.Default().
func New(options ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer: nopObserver{},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(d)
	}
	if d.registry == nil {
		return nil, errors.New("dispatch: handler registry is required")
	}
	if d.config == nil {
		d.config = config.NewStore(config.Default())
	}
	if d.cache == nil {
		d.cache = engine.NewCache(engine.WithLogger(d.logger))
	}
	d.resetFactory()
	return d, nil
}

// Config returns the live configuration.
func (d *Dispatcher) Config() *config.Config {
	return d.config.Current()
}

// Formats lists the supported source formats.
func (d *Dispatcher) Formats() []string {
	return d.factory.Load().Formats()
}

// Dispatch handles msg. handled is false for operation kinds the dispatcher
// does not route; no reply should be sent for those.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (reply Reply, handled bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	req := &request{
		id:    msg.RequestID,
		msg:   msg,
		stage: StageReceived,
	}
	if req.id == "" {
		req.id = uuid.NewString()
	}
	req.logger = d.logger.With("request_id", req.id, "op", string(msg.OperationKind))

	defer func() {
		if r := recover(); r != nil {
			req.logger.Error("dispatch panic", "stage", req.stage, "panic", r)
			reply = badRequest(req.stage, fmt.Sprintf("%v", r), nil).Reply()
			handled = true
		}
		if handled {
			d.observer.Dispatched(msg.OperationKind, reply.Status, time.Since(start))
		}
	}()

	var (
		result any
		err    *Error
	)
	switch msg.OperationKind {
	case OpConvertInline:
		result, err = d.convertInline(ctx, req)
	case OpConvertNamed:
		result, err = d.convertNamed(ctx, req)
	case OpTemplatesUpdated:
		d.invalidate()
		req.logger.Info("templates invalidated")
	case OpConfigUpdated:
		err = d.updateConfig(req)
	default:
		req.logger.Debug("ignoring unroutable message")
		return Reply{}, false
	}

	if err != nil {
		req.logger.Warn("dispatch rejected",
			"stage", err.Stage,
			"status", err.Status,
			"message", err.Message,
			"error", err.Err,
		)
		return err.Reply(), true
	}
	req.enter(StageResolved)
	return Reply{Status: http.StatusOK, Result: result}, true
}

func (d *Dispatcher) convertInline(ctx context.Context, req *request) (any, *Error) {
	msg := req.msg
	req.enter(StageDecoding)

	if !base64Pattern.MatchString(msg.SrcDataBase64) {
		return nil, badRequest(req.stage, "srcData is not a base 64 encoded string.", nil)
	}
	if !base64Pattern.MatchString(msg.TemplateBase64) {
		return nil, badRequest(req.stage, "Template is not a base 64 encoded string.", nil)
	}
	if msg.TemplatesOverrideBase64 != "" && !base64Pattern.MatchString(msg.TemplatesOverrideBase64) {
		return nil, badRequest(req.stage, "templatesOverride is not a base 64 encoded string.", nil)
	}

	var overrides map[string]string
	if msg.TemplatesOverrideBase64 != "" {
		raw, err := decodeBase64(msg.TemplatesOverrideBase64)
		if err == nil {
			err = json.Unmarshal(raw, &overrides)
		}
		if err != nil {
			return nil, badRequest(req.stage, "Unable to parse input data. "+err.Error(), err)
		}
	}

	tplText, err := decodeBase64(msg.TemplateBase64)
	if err != nil {
		return nil, badRequest(req.stage, "Unable to parse input data. "+err.Error(), err)
	}
	src, err := decodeBase64(msg.SrcDataBase64)
	if err != nil {
		return nil, badRequest(req.stage, "Unable to parse input data. "+err.Error(), err)
	}

	ctx, scope, rerr := d.route(ctx, req, overrides)
	if rerr != nil {
		return nil, rerr
	}
	data, rerr := d.parse(ctx, req, scope.Handler, string(src))
	if rerr != nil {
		return nil, rerr
	}

	if len(tplText) == 0 {
		out, err := assembleUntemplated(scope.Handler, data)
		if err != nil {
			return nil, badRequest(req.stage, "Unable to create result: "+err.Error(), err)
		}
		return out, nil
	}

	req.enter(StageRendering)
	tpl, err := scope.Instance.CompileInline(string(tplText))
	if err != nil {
		return nil, badRequest(req.stage, "Unable to create result: "+err.Error(), err)
	}
	rendered, err := tpl.Render(ctx, map[string]any{"msg": data})
	if err != nil {
		return nil, badRequest(req.stage, "Unable to create result: "+err.Error(), err)
	}
	return assembleRendered(scope.Handler, data, rendered), nil
}

func (d *Dispatcher) convertNamed(ctx context.Context, req *request) (any, *Error) {
	msg := req.msg
	req.enter(StageDecoding)

	if msg.SrcData == "" {
		return nil, badRequest(req.stage, "No srcData provided.", nil)
	}
	name, err := storage.CleanName(msg.TemplateName)
	if err != nil {
		return nil, badRequest(req.stage, "Invalid templateName. "+err.Error(), err)
	}

	ctx, scope, rerr := d.route(ctx, req, nil)
	if rerr != nil {
		return nil, rerr
	}
	data, rerr := d.parse(ctx, req, scope.Handler, msg.SrcData)
	if rerr != nil {
		return nil, rerr
	}

	req.enter(StageRendering)
	identifier := scope.Handler.Format() + "/" + name
	tpl, err := d.cache.Template(ctx, scope.Instance, identifier, func(ctx context.Context) ([]byte, error) {
		return d.cache.Store().Read(ctx, scope.TemplateRoot, name)
	})
	if err != nil {
		var compileErr *engine.CompileError
		switch {
		case errors.Is(err, storage.ErrTemplateNotFound):
			return nil, notFound(req.stage, "Template not found", err)
		case errors.As(err, &compileErr):
			return nil, badRequest(req.stage, "Error during template compilation. "+compileErr.Err.Error(), err)
		default:
			return nil, badRequest(req.stage, "Unable to read template. "+err.Error(), err)
		}
	}

	rendered, err := tpl.Render(ctx, map[string]any{"msg": data})
	if err != nil {
		return nil, badRequest(req.stage, "Error during template evaluation. "+err.Error(), err)
	}
	return assembleRendered(scope.Handler, data, rendered), nil
}

// route resolves the handler and engine instance and binds them to ctx.
func (d *Dispatcher) route(ctx context.Context, req *request, overrides map[string]string) (context.Context, *engine.Scope, *Error) {
	req.enter(StageRouted)

	handler, err := d.factory.Load().Handler(req.msg.SrcDataType)
	if err != nil {
		if errors.Is(err, format.ErrUnknownFormat) {
			return nil, nil, badRequest(req.stage, fmt.Sprintf("Unsupported srcDataType %q.", req.msg.SrcDataType), err)
		}
		return nil, nil, badRequest(req.stage, err.Error(), err)
	}

	root := templateRoot(d.config.Current(), handler.Format())
	inst, err := d.cache.Instance(handler, root, overrides)
	if err != nil {
		return nil, nil, badRequest(req.stage, err.Error(), err)
	}

	scope := &engine.Scope{
		RequestID:    req.id,
		Handler:      handler,
		Instance:     inst,
		TemplateRoot: root,
	}
	return engine.WithScope(ctx, scope), scope, nil
}

func (d *Dispatcher) parse(ctx context.Context, req *request, handler format.Handler, raw string) (any, *Error) {
	req.enter(StageParsing)
	data, err := handler.ParseSrcData(ctx, raw)
	if err != nil {
		return nil, badRequest(req.stage, "Unable to parse input data. "+parseCause(err), err)
	}
	return data, nil
}

func (d *Dispatcher) updateConfig(req *request) *Error {
	req.enter(StageDecoding)

	payload, err := req.msg.configPayload()
	if err != nil {
		return badRequest(req.stage, "Invalid configuration payload. "+err.Error(), err)
	}
	next, err := config.DecodeJSON(payload)
	if err != nil {
		return badRequest(req.stage, "Invalid configuration. "+err.Error(), err)
	}
	cfg, kept := d.config.Current().KeepStartupSections(next)
	if len(kept) > 0 {
		req.logger.Warn("configuration sections need a restart to change", "sections", kept)
	}

	d.config.Replace(cfg)
	d.invalidate()
	req.logger.Info("configuration replaced", "templates_root", cfg.Templates.Root)
	return nil
}

// invalidate drops compiled templates, marks engine slots for rebuild and
// replaces the handler factory with one bound to the live configuration.
func (d *Dispatcher) invalidate() {
	d.cache.InvalidateAll()
	d.resetFactory()
}

func (d *Dispatcher) resetFactory() {
	d.factory.Store(format.NewFactory(d.registry, d.config.Current().Formats))
}

func templateRoot(cfg *config.Config, format string) string {
	return filepath.Join(cfg.Templates.Root, format)
}

func parseCause(err error) string {
	var parseErr *format.ParseError
	if errors.As(err, &parseErr) && parseErr.Err != nil {
		return parseErr.Err.Error()
	}
	return err.Error()
}

// decodeBase64 accepts the line breaks and missing padding the validation
// pattern lets through.
func decodeBase64(s string) ([]byte, error) {
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(s)
	cleaned = strings.TrimRight(cleaned, "=")
	return base64.RawStdEncoding.DecodeString(cleaned)
}

type request struct {
	id     string
	msg    Message
	stage  Stage
	logger *slog.Logger
}

func (r *request) enter(stage Stage) {
	r.stage = stage
	r.logger.Debug("dispatch stage", "stage", stage)
}
