package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/shapemodel/internal/config"
	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/editor"
	"github.com/banshee-data/shapemodel/internal/httputil"
	"github.com/banshee-data/shapemodel/internal/monitoring"
	"github.com/banshee-data/shapemodel/internal/ssm"
	"github.com/banshee-data/shapemodel/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes stored shape models and editing sessions over HTTP.
type Server struct {
	db       *db.DB
	sessions *editor.Manager
	cfg      *config.SolverConfig
}

func NewServer(database *db.DB, sessions *editor.Manager, cfg *config.SolverConfig) *Server {
	if cfg == nil {
		cfg = config.EmptySolverConfig()
	}
	return &Server{
		db:       database,
		sessions: sessions,
		cfg:      cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Opsf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/models/", s.handleModelByID)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	return mux
}

// writeError maps package errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, editor.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ssm.ErrDimensionMismatch),
		errors.Is(err, ssm.ErrInvalidModel),
		errors.Is(err, ssm.ErrInvalidObservation),
		errors.Is(err, ssm.ErrIndexOutOfRange),
		errors.Is(err, editor.ErrPointOutOfRange),
		errors.Is(err, editor.ErrTooManyObservations):
		status = http.StatusBadRequest
	case errors.Is(err, ssm.ErrSingularBasis), errors.Is(err, ssm.ErrSingularSystem):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, editor.ErrStaleSolve):
		status = http.StatusConflict
	case errors.Is(err, editor.ErrSolveTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		monitoring.Opsf("internal error: %v", err)
	}
	httputil.WriteJSONError(w, status, err.Error())
}

// splitPath returns the path segments after prefix.
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}
