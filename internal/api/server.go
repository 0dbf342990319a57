// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vwake01/ai-dial-core/internal/auth"
	"github.com/vwake01/ai-dial-core/internal/logging"
	"github.com/vwake01/ai-dial-core/internal/metrics"
	"github.com/vwake01/ai-dial-core/internal/resource"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Server is the HTTP server.
type Server struct {
	resources *resource.Service
	auth      *auth.Auth
	maxSize   int
}

// NewServer creates a new server.
func NewServer(resources *resource.Service, authHandler *auth.Auth, maxSize int) *Server {
	return &Server{
		resources: resources,
		auth:      authHandler,
		maxSize:   maxSize,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Protected endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/metadata/{type}/{path...}", s.handleMetadata)
	protected.HandleFunc("GET /v1/resources/{type}/{path...}", s.handleGetResource)
	protected.HandleFunc("PUT /v1/resources/{type}/{path...}", s.handlePutResource)
	protected.HandleFunc("DELETE /v1/resources/{type}/{path...}", s.handleDeleteResource)
	mux.Handle("/v1/", s.auth.Middleware(protected))

	return logging.Middleware(metricsMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// descriptor builds the resource descriptor for a request. Paths are
// rooted at the caller's bucket; a trailing slash or empty relative path
// names a folder.
func (s *Server) descriptor(r *http.Request) (resource.Descriptor, bool) {
	var t resource.Type
	segment := r.PathValue("type")
	switch segment {
	case "files":
		t = resource.TypeFile
	case "conversations":
		t = resource.TypeConversation
	case "prompts":
		t = resource.TypePrompt
	default:
		return resource.Descriptor{}, false
	}

	bucket := auth.GetBucket(r.Context())
	root := "users/" + bucket + "/" + segment + "/"

	rel := r.PathValue("path")
	if rel == "" {
		return resource.RootFolder(t, root), true
	}
	if strings.HasSuffix(rel, "/") {
		return resource.Folder(t, root+rel), true
	}
	return resource.Item(t, root+rel), true
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	d, ok := s.descriptor(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown resource type")
		return
	}

	token := r.URL.Query().Get("token")
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	meta, err := s.resources.GetMetadata(r.Context(), d, token, limit)
	if err != nil {
		logging.Error("failed to get metadata", zap.String("path", d.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to get metadata")
		return
	}
	if meta == nil {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	d, ok := s.descriptor(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown resource type")
		return
	}
	if d.IsFolder() {
		s.sendError(w, http.StatusBadRequest, "not a resource path")
		return
	}

	body, found, err := s.resources.GetResource(r.Context(), d)
	if err != nil {
		logging.Error("failed to get resource", zap.String("path", d.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to get resource")
		return
	}
	if !found {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

func (s *Server) handlePutResource(w http.ResponseWriter, r *http.Request) {
	d, ok := s.descriptor(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown resource type")
		return
	}
	if d.IsFolder() {
		s.sendError(w, http.StatusBadRequest, "not a resource path")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.maxSize)+1))
	if err != nil {
		s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	meta, err := s.resources.PutResource(r.Context(), d, string(body))
	if err != nil {
		if errors.Is(err, resource.ErrTooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		logging.Error("failed to put resource", zap.String("path", d.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to put resource")
		return
	}

	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	d, ok := s.descriptor(r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown resource type")
		return
	}
	if d.IsFolder() {
		s.sendError(w, http.StatusBadRequest, "not a resource path")
		return
	}

	deleted, err := s.resources.DeleteResource(r.Context(), d)
	if err != nil {
		logging.Error("failed to delete resource", zap.String("path", d.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to delete resource")
		return
	}
	if !deleted {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, map[string]string{"error": msg})
}

// statusWriter captures the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}
