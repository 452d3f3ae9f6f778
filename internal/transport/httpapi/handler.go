// Package httpapi exposes the dispatcher over HTTP with chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-dataconv/pkg/dispatch"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes int64 = 10 << 20

// Dispatcher is satisfied by *dispatch.Dispatcher and *worker.Runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg dispatch.Message) (dispatch.Reply, bool)
}

// Option configures the handler.
type Option func(*server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *server) {
		s.metrics = h
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

type server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    http.Handler
	maxBody    int64

	inline      *openapi3.Schema
	docResponse []byte
}

// NewHandler builds the router. It fails if the embedded API document does
// not load.
func NewHandler(ctx context.Context, d Dispatcher, opts ...Option) (http.Handler, error) {
	if d == nil {
		return nil, errors.New("httpapi: dispatcher is required")
	}
	s := &server{
		dispatcher: d,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxBody:    DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	doc, err := Document(ctx)
	if err != nil {
		return nil, err
	}
	inline, err := componentSchema(doc, "ConvertInlineRequest")
	if err != nil {
		return nil, err
	}
	docResponse, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("httpapi: encode api document: %w", err)
	}
	s.inline, s.docResponse = inline, docResponse

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/openapi.json", s.document)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/convert/{srcDataType}", s.convertInline)
		r.Post("/convert/{srcDataType}/*", s.convertNamed)
		r.Post("/templates/refresh", s.templatesUpdated)
		r.Put("/config", s.configUpdated)
	})
	return r, nil
}

func (s *server) document(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.docResponse)
}

type inlineRequest struct {
	SrcDataBase64           string `json:"srcDataBase64"`
	TemplateBase64          string `json:"templateBase64"`
	TemplatesOverrideBase64 string `json:"templatesOverrideBase64"`
}

func (s *server) convertInline(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		s.reject(w, "Invalid request body. "+err.Error())
		return
	}
	if err := s.inline.VisitJSON(generic); err != nil {
		s.reject(w, "Invalid request body. "+schemaErrorMessage(err))
		return
	}
	var req inlineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(w, "Invalid request body. "+err.Error())
		return
	}

	s.dispatch(w, r, dispatch.Message{
		OperationKind:           dispatch.OpConvertInline,
		SrcDataType:             chi.URLParam(r, "srcDataType"),
		SrcDataBase64:           req.SrcDataBase64,
		TemplateBase64:          req.TemplateBase64,
		TemplatesOverrideBase64: req.TemplatesOverrideBase64,
	})
}

func (s *server) convertNamed(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, dispatch.Message{
		OperationKind: dispatch.OpConvertNamed,
		SrcDataType:   chi.URLParam(r, "srcDataType"),
		SrcData:       string(body),
		TemplateName:  chi.URLParam(r, "*"),
	})
}

func (s *server) templatesUpdated(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.Message{OperationKind: dispatch.OpTemplatesUpdated})
}

func (s *server) configUpdated(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, dispatch.Message{
		OperationKind: dispatch.OpConfigUpdated,
		Data:          json.RawMessage(body),
	})
}

func (s *server) dispatch(w http.ResponseWriter, r *http.Request, msg dispatch.Message) {
	msg.RequestID = middleware.GetReqID(r.Context())
	reply, handled := s.dispatcher.Dispatch(r.Context(), msg)
	if !handled {
		http.NotFound(w, r)
		return
	}
	s.write(w, reply)
}

func (s *server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.write(w, dispatch.Reply{
				Status: http.StatusRequestEntityTooLarge,
				Result: &dispatch.ErrorBody{Code: dispatch.CodeBadRequest, Message: "Request body too large."},
			})
			return nil, false
		}
		s.reject(w, "Unable to read request body. "+err.Error())
		return nil, false
	}
	return body, true
}

func (s *server) reject(w http.ResponseWriter, message string) {
	s.write(w, dispatch.Reply{
		Status: http.StatusBadRequest,
		Result: &dispatch.ErrorBody{Code: dispatch.CodeBadRequest, Message: message},
	})
}

func (s *server) write(w http.ResponseWriter, reply dispatch.Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.logger.Error("encode reply", "error", err)
	}
}

func schemaErrorMessage(err error) string {
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		if path := schemaErr.JSONPointer(); len(path) > 0 {
			return fmt.Sprintf("%s: %s", strings.Join(path, "."), schemaErr.Reason)
		}
		return schemaErr.Reason
	}
	return err.Error()
}
