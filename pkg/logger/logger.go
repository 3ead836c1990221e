// Package logger provides the structured slog logging every collaborator in
// the generation control plane uses: the server and worker processes build
// their root logger with NewLogger, and the HTTP Front Door threads a
// request-scoped logger through FromContext so a dispatch failure's log line
// carries the same request ID the client got back in X-Request-ID.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ContextKey string

// RequestIDKey is the context key the HTTP Front Door's middleware and
// internal/httpapi's generateAndServe both key off of, so a single request ID
// flows from the inbound X-Request-ID header (or a generated one) through to
// every log line a dispatch touches.
const RequestIDKey ContextKey = "request_id"

// Config drives NewLogger. Level/Format/Output/Filename and friends mirror
// internal/config's LogConfig (its Log section) one field at a time.
type Config struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// NewLogger builds the root *slog.Logger cmd/server's serve and
// internal-worker subcommands each construct once at startup.
func NewLogger(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := SetupWriter(cfg)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupWriter resolves Output/Filename into the concrete io.Writer NewLogger
// hands its slog.Handler: stdout/stderr directly, or a lumberjack.Logger when
// Output is "file" so the worker subprocess's long-running parent can rotate
// its own log without an external logrotate entry.
func SetupWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// GenerateRequestID mints an opaque "req_"-prefixed ID for a request that
// arrived without its own X-Request-ID.
func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// LoggingMiddleware wraps the HTTP Front Door's router: it assigns or
// forwards a request ID, echoes it back in the response header, and logs one
// line per request in the same terse key/value shape every other package in
// this service logs with (see internal/scheduler, internal/worker, ...).
func LoggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = GenerateRequestID()
			}
			r = r.WithContext(WithRequestID(r.Context(), requestID))
			w.Header().Set("X-Request-ID", requestID)

			wrapped := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.Info("http request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", time.Since(start),
				"request_id", requestID,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// statusCapturingWriter records the status code LoggingMiddleware's handler
// writes, since http.ResponseWriter itself doesn't expose it after the fact.
type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// FromContext returns log with the request's ID attached, if ctx carries
// one. internal/httpapi's generateAndServe calls this on a dispatch failure
// so the resulting log line carries the same ID the client got back in
// X-Request-ID.
func FromContext(ctx context.Context, log *slog.Logger) *slog.Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return log.With("request_id", requestID)
	}
	return log
}
