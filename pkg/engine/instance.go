package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/goliatone/go-dataconv/pkg/format"
	"github.com/goliatone/go-dataconv/pkg/storage"
)

// Instance is a template set for one (format, template root) pair. Partials
// resolve against the override mapping first and the template store second.
// Instances never change after construction.
type Instance struct {
	id        uint64
	handler   format.Handler
	root      string
	overrides map[string]string
	set       *pongo2.TemplateSet
}

func newInstance(id uint64, handler format.Handler, root string, overrides map[string]string, store storage.Store, timeout time.Duration) *Instance {
	inst := &Instance{
		id:        id,
		handler:   handler,
		root:      root,
		overrides: cloneOverrides(overrides),
	}
	loader := &templateLoader{
		handler:   handler,
		root:      root,
		overrides: inst.overrides,
		store:     store,
		timeout:   timeout,
	}
	inst.set = pongo2.NewSet(fmt.Sprintf("%s-%d", handler.Format(), id), loader)
	_ = inst.set.BanTag("ssi")
	return inst
}

// ID is unique per constructed instance.
func (i *Instance) ID() uint64 { return i.id }

// Format is the source format the instance was built for.
func (i *Instance) Format() string { return i.handler.Format() }

// Root is the template root partials are read from.
func (i *Instance) Root() string { return i.root }

// HasOverrides reports whether the instance is bound to an override mapping.
func (i *Instance) HasOverrides() bool { return len(i.overrides) > 0 }

// CompileInline compiles template text that is not cached, such as a template
// shipped inline with a request.
func (i *Instance) CompileInline(raw string) (*Template, error) {
	return i.compile("inline", raw)
}

// Partial compiles (or reuses from this instance's set) the named template.
func (i *Instance) Partial(name string) (*Template, error) {
	clean, err := storage.CleanName(name)
	if err != nil {
		return nil, &CompileError{Name: name, Err: err}
	}
	tpl, err := i.set.FromCache(clean)
	if err != nil {
		return nil, &CompileError{Name: clean, Err: err}
	}
	return &Template{name: clean, instanceID: i.id, tpl: tpl}, nil
}

func (i *Instance) compile(name, raw string) (*Template, error) {
	tpl, err := i.set.FromString(i.handler.PreProcessTemplate(raw))
	if err != nil {
		return nil, &CompileError{Name: name, Err: err}
	}
	return &Template{name: name, instanceID: i.id, tpl: tpl}, nil
}

// Template is a compiled, ready-to-render template.
type Template struct {
	name       string
	instanceID uint64
	tpl        *pongo2.Template
}

// Name is the identifier the template was compiled under.
func (t *Template) Name() string { return t.name }

// InstanceID identifies the Instance the template was compiled against.
func (t *Template) InstanceID() uint64 { return t.instanceID }

// Render evaluates the template against data. ctx must carry a Scope; the
// request helpers are bound from it.
func (t *Template) Render(ctx context.Context, data map[string]any) (string, error) {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return "", ErrNoScope
	}

	view := make(pongo2.Context, len(data)+len(helperNames))
	for key, value := range data {
		view[key] = value
	}
	bindHelpers(ctx, scope, view)

	out, err := t.tpl.Execute(view)
	if err != nil {
		return "", &RenderError{Name: t.name, Err: err}
	}
	return out, nil
}

// templateLoader implements pongo2.TemplateLoader over the override mapping
// and the template store. Loaded text goes through the handler's
// PreProcessTemplate so partials follow the same syntax rules as the main
// template.
type templateLoader struct {
	handler   format.Handler
	root      string
	overrides map[string]string
	store     storage.Store
	timeout   time.Duration
}

// Abs resolves "./" and "../" names relative to the including template; all
// other names are relative to the template root.
func (l *templateLoader) Abs(base, name string) string {
	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		if dir := path.Dir(base); dir != "" {
			return path.Join(dir, name)
		}
	}
	return name
}

func (l *templateLoader) Get(name string) (io.Reader, error) {
	clean, err := storage.CleanName(name)
	if err != nil {
		return nil, err
	}
	if body, ok := l.overrides[clean]; ok {
		return strings.NewReader(l.handler.PreProcessTemplate(body)), nil
	}
	if l.store == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrTemplateNotFound, clean)
	}

	ctx := context.Background()
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	body, err := l.store.Read(ctx, l.root, clean)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader([]byte(l.handler.PreProcessTemplate(string(body)))), nil
}

func cloneOverrides(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for name, body := range in {
		clean, err := storage.CleanName(name)
		if err != nil {
			continue
		}
		out[clean] = body
	}
	return out
}
