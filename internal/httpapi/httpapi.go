// Package httpapi is the HTTP Front Door: request validation, the cache-hit
// shortcut, the fresh-bypass route, and the CRC32 fingerprint endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/calendar2image/c2i-service/internal/apperrors"
	"github.com/calendar2image/c2i-service/internal/cache"
	"github.com/calendar2image/c2i-service/internal/metrics"
	"github.com/calendar2image/c2i-service/internal/names"
	"github.com/calendar2image/c2i-service/internal/registry"
	"github.com/calendar2image/c2i-service/internal/timeline"
	"github.com/calendar2image/c2i-service/pkg/logger"
)

// ErrorResponse is the structured JSON body returned for input, upstream,
// and internal errors. The CRC32 endpoint returns plain text instead,
// to match its success content type.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Dispatcher runs one generation and commits it to the Artifact Cache; the
// Front Door reads the committed result back from the Cache afterward.
type Dispatcher interface {
	Dispatch(ctx context.Context, name, trigger string) error
}

// Server wires the Config Registry, Artifact Cache, Timeline Log, and
// Worker Dispatch behind the three route shapes of the HTTP Front Door.
type Server struct {
	registry   *registry.Registry
	cache      *cache.Cache
	dispatcher Dispatcher
	timeline   *timeline.Log
	metrics    *metrics.Registry
	log        *slog.Logger

	router *mux.Router
}

// New constructs a Server and registers its routes.
func New(reg *registry.Registry, c *cache.Cache, dispatcher Dispatcher, tl *timeline.Log, mr *metrics.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		registry:   reg,
		cache:      c,
		dispatcher: dispatcher,
		timeline:   tl,
		metrics:    mr,
		log:        log,
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/{name}/fresh.{ext}", s.handleFresh).Methods(http.MethodGet)
	s.router.HandleFunc("/api/{name}.{ext}.crc32", s.handleCRC32).Methods(http.MethodGet)
	s.router.HandleFunc("/api/{name}.{ext}", s.handleImage).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotFound, &ErrorResponse{
		Error:   "not_found",
		Message: "unknown route",
		Details: "accepted route shapes: GET /api/{name}.{ext}, GET /api/{name}/fresh.{ext}, GET /api/{name}.{ext}.crc32",
	})
}

// handleImage implements "GET /api/{name}.{ext}": serve cached bytes on a
// scheduled configuration's cache hit, otherwise dispatch a generation.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, ext, cfg, ok := s.resolve(w, vars["name"], vars["ext"], writeJSONErrorFromKind)
	if !ok {
		return
	}

	if cfg.HasSchedule() {
		if data, meta, hit := s.cache.Load(name, ext); hit {
			w.Header().Set("X-Cache", "HIT")
			s.serveArtifact(w, data, meta)
			s.logDownload(name, "image")
			if s.metrics != nil {
				s.metrics.CacheHitsTotal.WithLabelValues("HIT").Inc()
			}
			return
		}
		s.generateAndServe(r.Context(), w, name, ext, "cache_miss", "MISS")
		return
	}

	s.generateAndServe(r.Context(), w, name, ext, "on_demand", "DISABLED")
}

// handleFresh implements "GET /api/{name}/fresh.{ext}": always dispatch,
// save, and serve with X-Cache: BYPASS.
func (s *Server) handleFresh(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, ext, _, ok := s.resolve(w, vars["name"], vars["ext"], writeJSONErrorFromKind)
	if !ok {
		return
	}
	s.generateAndServe(r.Context(), w, name, ext, "fresh", "BYPASS")
}

// handleCRC32 implements "GET /api/{name}.{ext}.crc32": return the cached
// fingerprint as plain text, dispatching a generation first if absent.
func (s *Server) handleCRC32(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, _, _, ok := s.resolve(w, vars["name"], vars["ext"], writeTextErrorFromKind)
	if !ok {
		return
	}

	meta, hit := s.cache.Metadata(name)
	if !hit {
		if err := s.dispatcher.Dispatch(r.Context(), name, "crc32_check"); err != nil {
			writeTextError(w, http.StatusInternalServerError, err.Error())
			return
		}
		meta, hit = s.cache.Metadata(name)
		if !hit {
			writeTextError(w, http.StatusInternalServerError, fmt.Sprintf("generation for %q did not produce metadata", name))
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-CRC32", meta.CRC32)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, meta.CRC32)
	s.logDownload(name, "crc32")
}

// resolve sanitizes name, loads its configuration, and validates ext
// against the configuration's imageType, writing an error through onError
// on any failure.
func (s *Server) resolve(w http.ResponseWriter, rawName, ext string, onError func(http.ResponseWriter, error)) (string, string, *registry.Config, bool) {
	name, err := names.Sanitize(rawName)
	if err != nil {
		onError(w, err)
		return "", "", nil, false
	}

	cfg, err := s.registry.Load(name)
	if err != nil {
		onError(w, err)
		return "", "", nil, false
	}

	if ext != string(cfg.ImageType) {
		onError(w, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("%q serves %s images, not %s", name, cfg.ImageType, ext)))
		return "", "", nil, false
	}

	return name, ext, cfg, true
}

func (s *Server) generateAndServe(ctx context.Context, w http.ResponseWriter, name, ext, trigger, cacheResult string) {
	if err := s.dispatcher.Dispatch(ctx, name, trigger); err != nil {
		logger.FromContext(ctx, s.log).Error("dispatch failed",
			"name", name, "trigger", trigger, "error", err)
		writeJSONError(w, http.StatusInternalServerError, &ErrorResponse{
			Error:   "internal_error",
			Message: "generation failed",
			Details: err.Error(),
		})
		return
	}

	data, meta, hit := s.cache.Load(name, ext)
	if !hit {
		writeJSONError(w, http.StatusInternalServerError, &ErrorResponse{
			Error:   "internal_error",
			Message: fmt.Sprintf("generation for %q reported success but no artifact was found", name),
		})
		return
	}

	w.Header().Set("X-Cache", cacheResult)
	s.serveArtifact(w, data, meta)
	s.logDownload(name, "image")

	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues(cacheResult).Inc()
	}
}

func (s *Server) serveArtifact(w http.ResponseWriter, data []byte, meta *cache.Metadata) {
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Header().Set("X-CRC32", meta.CRC32)
	if !meta.GeneratedAt.IsZero() {
		w.Header().Set("X-Generated-At", meta.GeneratedAt.Format(time.RFC3339))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// logDownload fires a timeline event after the response has been sent, so
// client latency is never coupled to log persistence.
func (s *Server) logDownload(name, subtype string) {
	if s.timeline == nil {
		return
	}
	go s.timeline.Append(name, timeline.EventDownload, subtype, nil)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, body *ErrorResponse) {
	writeJSON(w, status, body)
}

func writeJSONErrorFromKind(w http.ResponseWriter, err error) {
	status, resp := mapError(err)
	writeJSONError(w, status, resp)
}

func writeTextError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, message)
}

func writeTextErrorFromKind(w http.ResponseWriter, err error) {
	status, resp := mapError(err)
	writeTextError(w, status, resp.Message)
}

// mapError maps an apperrors.Kind to the HTTP status and structured body
// the client sees. Kinds map to statuses exactly once, here.
func mapError(err error) (int, *ErrorResponse) {
	kind := apperrors.KindOf(err)
	resp := &ErrorResponse{Message: err.Error()}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		if appErr.Details != "" {
			resp.Details = appErr.Details
		}
	}

	var sanitizeErr *names.SanitizeError
	if errors.As(err, &sanitizeErr) {
		resp.Details = map[string]string{"reason": string(sanitizeErr.Reason)}
	}

	switch kind {
	case apperrors.KindInvalidInput:
		resp.Error = "invalid_input"
		return http.StatusBadRequest, resp
	case apperrors.KindNotFound:
		resp.Error = "not_found"
		return http.StatusNotFound, resp
	case apperrors.KindUpstream:
		resp.Error = "upstream_error"
		return http.StatusBadGateway, resp
	default:
		resp.Error = "internal_error"
		return http.StatusInternalServerError, resp
	}
}
