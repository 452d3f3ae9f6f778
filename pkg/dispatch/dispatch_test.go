package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dataconv/internal/formats/csvdata"
	"github.com/goliatone/go-dataconv/internal/formats/jsondata"
	"github.com/goliatone/go-dataconv/internal/formats/xmldata"
	"github.com/goliatone/go-dataconv/internal/formats/yamldata"
	"github.com/goliatone/go-dataconv/pkg/config"
	"github.com/goliatone/go-dataconv/pkg/engine"
	"github.com/goliatone/go-dataconv/pkg/format"
	"github.com/goliatone/go-dataconv/pkg/storage"
)

const people = "name,age\nada,36\ngrace,45\n"

type recordingObserver struct {
	mu       sync.Mutex
	statuses []int
}

func (o *recordingObserver) Dispatched(_ OperationKind, status int, _ time.Duration) {
	o.mu.Lock()
	o.statuses = append(o.statuses, status)
	o.mu.Unlock()
}

func testRegistry() *format.Registry {
	registry := format.NewRegistry()
	registry.MustRegister(csvdata.Name, csvdata.New)
	registry.MustRegister(jsondata.Name, jsondata.New)
	registry.MustRegister(xmldata.Name, xmldata.New)
	registry.MustRegister(yamldata.Name, yamldata.New)
	return registry
}

func newTestDispatcher(t *testing.T, store storage.Store, options ...Option) *Dispatcher {
	t.Helper()
	cfg := config.Default()
	cfg.Templates.Root = "tpl"

	base := []Option{
		WithRegistry(testRegistry()),
		WithConfig(config.NewStore(cfg)),
		WithCache(engine.NewCache(engine.WithStore(store))),
	}
	d, err := New(append(base, options...)...)
	require.NoError(t, err)
	return d
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func errorBody(t *testing.T, reply Reply) *ErrorBody {
	t.Helper()
	body, ok := reply.Result.(*ErrorBody)
	require.Truef(t, ok, "expected error body, got %#v", reply.Result)
	return body
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return string(payload)
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestConvertInlineWithoutTemplateReturnsStructuredData(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})

	reply, handled := d.Dispatch(context.Background(), Message{
		OperationKind: OpConvertInline,
		SrcDataType:   "csv",
		SrcDataBase64: b64(people),
	})
	require.True(t, handled)
	require.Equal(t, http.StatusOK, reply.Status)

	handler, err := csvdata.New(config.Formats{})
	require.NoError(t, err)
	parsed, err := handler.ParseSrcData(context.Background(), people)
	require.NoError(t, err)

	expected := handler.ConversionResultMetadata(parsed)
	for key, value := range parsed.(map[string]any) {
		expected[key] = value
	}
	assert.JSONEq(t, toJSON(t, expected), toJSON(t, reply.Result))
}

func TestConvertInlineRendersTemplate(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})

	reply, handled := d.Dispatch(context.Background(), Message{
		OperationKind:  OpConvertInline,
		RequestID:      "req-7",
		SrcDataType:    "csv",
		SrcDataBase64:  b64(people),
		TemplateBase64: b64(`{"first": "{{ msg.rows.0.name }}", "count": {{ msg.rowCount }}, "request": "{{ request_id() }}"}`),
	})
	require.True(t, handled)
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)

	result, ok := reply.Result.(map[string]any)
	require.True(t, ok)
	assert.JSONEq(t, `{"first": "ada", "count": 2, "request": "req-7"}`, toJSON(t, result[DocumentKey]))
	assert.NotEmpty(t, result["sourceId"])
	assert.Equal(t, 2, result["rowCount"])
}

func TestConvertInlineRewritesXMLAttributeShorthand(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})

	reply, _ := d.Dispatch(context.Background(), Message{
		OperationKind:  OpConvertInline,
		SrcDataType:    "xml",
		SrcDataBase64:  b64(`<patient id="p1"><name>Ada</name></patient>`),
		TemplateBase64: b64(`{{ msg.patient.@id }}:{{ msg.patient.name }}`),
	})
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)
	assert.Equal(t, "p1:Ada", reply.Result.(map[string]any)[DocumentKey])
	assert.Equal(t, "patient", reply.Result.(map[string]any)["rootElement"])
}

func TestConvertInlineValidatesBase64Fields(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})

	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "source",
			msg:  Message{SrcDataBase64: "bad$data", TemplateBase64: b64("x")},
			want: "srcData is not a base 64 encoded string.",
		},
		{
			name: "template",
			msg:  Message{SrcDataBase64: b64(people), TemplateBase64: "{{ nope }}"},
			want: "Template is not a base 64 encoded string.",
		},
		{
			name: "override",
			msg:  Message{SrcDataBase64: b64(people), TemplatesOverrideBase64: "{}"},
			want: "templatesOverride is not a base 64 encoded string.",
		},
		{
			name: "stops at first failure",
			msg:  Message{SrcDataBase64: "bad$", TemplateBase64: "bad$", TemplatesOverrideBase64: "bad$"},
			want: "srcData is not a base 64 encoded string.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.msg
			msg.OperationKind = OpConvertInline
			msg.SrcDataType = "csv"

			reply, handled := d.Dispatch(context.Background(), msg)
			require.True(t, handled)
			assert.Equal(t, http.StatusBadRequest, reply.Status)
			body := errorBody(t, reply)
			assert.Equal(t, CodeBadRequest, body.Code)
			assert.Equal(t, tc.want, body.Message)
		})
	}
}

func TestConvertInlineRejections(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})

	cases := []struct {
		name   string
		msg    Message
		prefix string
	}{
		{
			name:   "override is not json",
			msg:    Message{SrcDataType: "csv", SrcDataBase64: b64(people), TemplatesOverrideBase64: b64("not json")},
			prefix: "Unable to parse input data.",
		},
		{
			name:   "unknown format",
			msg:    Message{SrcDataType: "edifact", SrcDataBase64: b64(people)},
			prefix: "Unsupported srcDataType",
		},
		{
			name:   "malformed source",
			msg:    Message{SrcDataType: "json", SrcDataBase64: b64(`{"a":`)},
			prefix: "Unable to parse input data.",
		},
		{
			name:   "template fails to compile",
			msg:    Message{SrcDataType: "csv", SrcDataBase64: b64(people), TemplateBase64: b64("{% if %}")},
			prefix: "Unable to create result:",
		},
		{
			name:   "template fails to render",
			msg:    Message{SrcDataType: "csv", SrcDataBase64: b64(people), TemplateBase64: b64(`{{ evaluate("missing.tpl", msg) }}`)},
			prefix: "Unable to create result:",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.msg
			msg.OperationKind = OpConvertInline

			reply, handled := d.Dispatch(context.Background(), msg)
			require.True(t, handled)
			assert.Equal(t, http.StatusBadRequest, reply.Status)
			assert.Contains(t, errorBody(t, reply).Message, tc.prefix)
		})
	}
}

func TestConvertInlineOverridesApplyToOneRequest(t *testing.T) {
	store := storage.Memory{
		"tpl/csv": {"row.tpl": "stored:{{ msg.name }}"},
	}
	d := newTestDispatcher(t, store)

	overrides := b64(toJSON(t, map[string]string{"row.tpl": "override:{{ msg.name }}"}))
	msg := Message{
		OperationKind:  OpConvertInline,
		SrcDataType:    "csv",
		SrcDataBase64:  b64(people),
		TemplateBase64: b64(`{{ evaluate("row.tpl", msg.rows.0) }}`),
	}

	withOverride := msg
	withOverride.TemplatesOverrideBase64 = overrides
	reply, _ := d.Dispatch(context.Background(), withOverride)
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)
	assert.Equal(t, "override:ada", reply.Result.(map[string]any)[DocumentKey])

	reply, _ = d.Dispatch(context.Background(), msg)
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)
	assert.Equal(t, "stored:ada", reply.Result.(map[string]any)[DocumentKey])
}

func TestConcurrentInlineOverridesDoNotCrossTalk(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})

	const requests = 24
	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("variant-%d", i)
			overrides, _ := json.Marshal(map[string]string{"part.tpl": want})
			reply, _ := d.Dispatch(context.Background(), Message{
				OperationKind:           OpConvertInline,
				SrcDataType:             "json",
				SrcDataBase64:           b64(`{"n": 1}`),
				TemplateBase64:          b64(`{{ evaluate("part.tpl", msg) }}`),
				TemplatesOverrideBase64: b64(string(overrides)),
			})
			if reply.Status != http.StatusOK {
				errs <- fmt.Errorf("request %d: status %d: %#v", i, reply.Status, reply.Result)
				return
			}
			if got := reply.Result.(map[string]any)[DocumentKey]; got != want {
				errs <- fmt.Errorf("request %d rendered %v", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestConvertNamed(t *testing.T) {
	store := storage.Memory{
		"tpl/csv": {
			"summary.tpl": `{"names": [{% for row in msg.rows %}"{{ row.name }}"{% if not forloop.Last %},{% endif %}{% endfor %}]}`,
			"broken.tpl":  "{% for %}",
			"eval.tpl":    `{{ evaluate("absent.tpl", msg) }}`,
		},
	}
	d := newTestDispatcher(t, store)

	t.Run("renders stored template", func(t *testing.T) {
		reply, _ := d.Dispatch(context.Background(), Message{
			OperationKind: OpConvertNamed,
			SrcDataType:   "csv",
			SrcData:       people,
			TemplateName:  "summary.tpl",
		})
		require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)
		assert.JSONEq(t, `{"names": ["ada", "grace"]}`, toJSON(t, reply.Result.(map[string]any)[DocumentKey]))
	})

	t.Run("missing template", func(t *testing.T) {
		reply, _ := d.Dispatch(context.Background(), Message{
			OperationKind: OpConvertNamed,
			SrcDataType:   "csv",
			SrcData:       people,
			TemplateName:  "absent.tpl",
		})
		assert.Equal(t, http.StatusNotFound, reply.Status)
		body := errorBody(t, reply)
		assert.Equal(t, CodeNotFound, body.Code)
		assert.Equal(t, "Template not found", body.Message)
	})

	t.Run("missing source", func(t *testing.T) {
		reply, _ := d.Dispatch(context.Background(), Message{
			OperationKind: OpConvertNamed,
			SrcDataType:   "csv",
			TemplateName:  "summary.tpl",
		})
		assert.Equal(t, http.StatusBadRequest, reply.Status)
		assert.Equal(t, "No srcData provided.", errorBody(t, reply).Message)
	})

	t.Run("escaping template name", func(t *testing.T) {
		reply, _ := d.Dispatch(context.Background(), Message{
			OperationKind: OpConvertNamed,
			SrcDataType:   "csv",
			SrcData:       people,
			TemplateName:  "../secrets.tpl",
		})
		assert.Equal(t, http.StatusBadRequest, reply.Status)
	})

	t.Run("compile failure", func(t *testing.T) {
		reply, _ := d.Dispatch(context.Background(), Message{
			OperationKind: OpConvertNamed,
			SrcDataType:   "csv",
			SrcData:       people,
			TemplateName:  "broken.tpl",
		})
		assert.Equal(t, http.StatusBadRequest, reply.Status)
		assert.Contains(t, errorBody(t, reply).Message, "Error during template compilation.")
	})

	t.Run("evaluation failure", func(t *testing.T) {
		reply, _ := d.Dispatch(context.Background(), Message{
			OperationKind: OpConvertNamed,
			SrcDataType:   "csv",
			SrcData:       people,
			TemplateName:  "eval.tpl",
		})
		assert.Equal(t, http.StatusBadRequest, reply.Status)
		assert.Contains(t, errorBody(t, reply).Message, "Error during template evaluation.")
	})
}

func TestTemplatesUpdatedForcesRecompile(t *testing.T) {
	store := storage.Memory{
		"tpl/json": {"out.tpl": "v1 {{ msg.n }}"},
	}
	d := newTestDispatcher(t, store)
	named := Message{
		OperationKind: OpConvertNamed,
		SrcDataType:   "json",
		SrcData:       `{"n": 3}`,
		TemplateName:  "out.tpl",
	}

	reply, _ := d.Dispatch(context.Background(), named)
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)
	assert.Equal(t, "v1 3", reply.Result.(map[string]any)[DocumentKey])

	store["tpl/json"]["out.tpl"] = "v2 {{ msg.n }}"
	reply, _ = d.Dispatch(context.Background(), named)
	assert.Equal(t, "v1 3", reply.Result.(map[string]any)[DocumentKey])

	reply, handled := d.Dispatch(context.Background(), Message{OperationKind: OpTemplatesUpdated})
	require.True(t, handled)
	assert.Equal(t, http.StatusOK, reply.Status)

	reply, _ = d.Dispatch(context.Background(), named)
	assert.Equal(t, "v2 3", reply.Result.(map[string]any)[DocumentKey])
}

func TestConfigUpdatedReplacesConfiguration(t *testing.T) {
	store := storage.Memory{
		"tpl/csv":   {"out.tpl": "old"},
		"other/csv": {"out.tpl": "new {{ msg.rows.0.name }}"},
	}
	d := newTestDispatcher(t, store)
	named := Message{
		OperationKind: OpConvertNamed,
		SrcDataType:   "csv",
		SrcData:       "name;age\nada;36\n",
		TemplateName:  "out.tpl",
	}

	reply, _ := d.Dispatch(context.Background(), named)
	require.Equal(t, http.StatusOK, reply.Status)
	assert.Equal(t, "old", reply.Result.(map[string]any)[DocumentKey])

	payload, err := json.Marshal(`{"templates": {"root": "other"}, "formats": {"csv": {"delimiter": ";"}}}`)
	require.NoError(t, err)
	reply, handled := d.Dispatch(context.Background(), Message{
		OperationKind: OpConfigUpdated,
		Data:          payload,
	})
	require.True(t, handled)
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)
	assert.Equal(t, "other", d.Config().Templates.Root)

	reply, _ = d.Dispatch(context.Background(), named)
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)
	assert.Equal(t, "new ada", reply.Result.(map[string]any)[DocumentKey])
}

func TestConfigUpdatedRejectsInvalidPayload(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})

	for _, data := range []string{`"not an object"`, `{"unknown": true}`, `{"worker": {"queue_size": -1}}`} {
		reply, handled := d.Dispatch(context.Background(), Message{
			OperationKind: OpConfigUpdated,
			Data:          json.RawMessage(data),
		})
		require.True(t, handled)
		assert.Equal(t, http.StatusBadRequest, reply.Status, data)
	}
	assert.Equal(t, "tpl", d.Config().Templates.Root)
}

func TestConfigUpdatedKeepsStartupSections(t *testing.T) {
	d := newTestDispatcher(t, storage.Memory{})
	before := d.Config()

	reply, handled := d.Dispatch(context.Background(), Message{
		OperationKind: OpConfigUpdated,
		Data:          json.RawMessage(`{"templates": {"root": "next", "storage": "redis"}, "redis": {"addr": "redis:6379"}, "worker": {"concurrency": 99}}`),
	})
	require.True(t, handled)
	require.Equal(t, http.StatusOK, reply.Status, "%#v", reply.Result)

	after := d.Config()
	assert.Equal(t, "next", after.Templates.Root)
	assert.Equal(t, before.Templates.Storage, after.Templates.Storage)
	assert.Equal(t, before.Redis, after.Redis)
	assert.Equal(t, before.Worker, after.Worker)
}

func TestUnroutableOperationIsIgnored(t *testing.T) {
	observer := &recordingObserver{}
	d := newTestDispatcher(t, storage.Memory{}, WithObserver(observer))

	reply, handled := d.Dispatch(context.Background(), Message{OperationKind: "reticulateSplines"})
	assert.False(t, handled)
	assert.Zero(t, reply.Status)
	assert.Empty(t, observer.statuses)

	d.Dispatch(context.Background(), Message{OperationKind: OpTemplatesUpdated})
	assert.Equal(t, []int{http.StatusOK}, observer.statuses)
}

func TestAssembleUntemplatedWrapsNonObjects(t *testing.T) {
	handler, err := jsondata.New(config.Formats{})
	require.NoError(t, err)

	out, err := assembleUntemplated(handler, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out[DataKey])
	assert.Contains(t, out, "sourceId")

	source := map[string]any{"sourceId": "mine", "nested": map[string]any{"k": "v"}}
	out, err = assembleUntemplated(handler, source)
	require.NoError(t, err)
	assert.Equal(t, "mine", out["sourceId"])

	out["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", source["nested"].(map[string]any)["k"])
}
