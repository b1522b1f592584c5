// Package api exposes the operator HTTP interface.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-engine/internal/config"
	uuidgen "github.com/JakeFAU/knowledge-engine/internal/id/uuid"
	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/metrics"
)

const (
	requestTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 20
	maxSubmitURLs  = 1000
)

// Submitter appends URLs to the fetch queue.
type Submitter interface {
	Submit(ctx context.Context, rawURL string, ignoreCache bool) (string, error)
}

// DocumentReader looks up stored documents.
type DocumentReader interface {
	Get(ctx context.Context, url string) (knowledge.DocumentRecord, bool, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Submitter Submitter
	Documents DocumentReader
	Graph     knowledge.GraphReader
	IDs       knowledge.IDGenerator
	// Ready maps a dependency name to its check; all must pass for /readyz.
	Ready map[string]ReadinessCheck
}

// Server wires HTTP handlers to the pipeline and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, auth config.AuthConfig, logger *zap.Logger) (*Server, error) {
	if deps.Submitter == nil || deps.Documents == nil || deps.Graph == nil {
		return nil, errors.New("submitter, documents and graph are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.IDs == nil {
		deps.IDs = uuidgen.NewUUIDGenerator()
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Post("/documents", s.submitDocuments)
		r.Get("/documents", s.getDocument)
		r.Get("/entities", s.listEntities)
		r.Get("/entities/{name}/relations", s.listRelations)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	URLs        []string `json:"urls"`
	IgnoreCache bool     `json:"ignore_cache"`
}

type submitResponse struct {
	Accepted []string `json:"accepted"`
}

func (s *Server) submitDocuments(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxSubmitURLs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per request", maxSubmitURLs))
		return
	}
	// Reject the whole batch before anything is queued.
	for _, raw := range req.URLs {
		if _, err := knowledge.NormalizeURL(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	accepted := make([]string, 0, len(req.URLs))
	for _, raw := range req.URLs {
		normalized, err := s.deps.Submitter.Submit(r.Context(), raw, req.IgnoreCache)
		if err != nil {
			s.logger.Error("submit failed", zap.String("url", raw), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    "enqueue failed",
				"accepted": accepted,
			})
			return
		}
		accepted = append(accepted, normalized)
	}
	s.logger.Info("documents submitted", zap.Int("count", len(accepted)), zap.Bool("ignore_cache", req.IgnoreCache))
	writeJSON(w, http.StatusAccepted, submitResponse{Accepted: accepted})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	docURL, err := knowledge.NormalizeURL(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, found, err := s.deps.Documents.Get(r.Context(), docURL)
	if err != nil {
		s.logger.Error("get document failed", zap.String("url", docURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.deps.Graph.ListEntities(r.Context(), r.URL.Query().Get("label"))
	if err != nil {
		s.logger.Error("list entities failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	if entities == nil {
		entities = []knowledge.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) listRelations(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity name")
		return
	}
	relations, err := s.deps.Graph.ListRelations(r.Context(), name, r.URL.Query().Get("relation"))
	if err != nil {
		s.logger.Error("list relations failed", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list relations")
		return
	}
	if relations == nil {
		relations = []knowledge.Relation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"relations": relations})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			id, err := s.deps.IDs.NewID()
			if err != nil {
				s.logger.Warn("request id generation failed", zap.Error(err))
			}
			reqID = id
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; nothing useful can be sent on failure.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
