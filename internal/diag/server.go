// Package diag serves an always-optional HTTP status/health/metrics
// surface (SPEC_FULL.md "Diagnostics HTTP surface (expansion)"). It
// reads live in-memory pool state only; it persists nothing, so it
// does not violate the core's "no persisted state" non-goal.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/unrolled/secure"

	"github.com/eirenewatch/eirenewatch/internal/metrics"
	"github.com/eirenewatch/eirenewatch/internal/tasklifecycle"
)

// Server exposes /healthz, /status, and /metrics.
type Server struct {
	http *http.Server
}

// New builds a diagnostics Server bound to addr. pool is snapshotted
// live on every /status request; metrics is exposed via promhttp at
// /metrics.
func New(addr string, pool *tasklifecycle.ManagerPool, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snapshot := pool.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			log.Error("failed to encode status response", "error", err)
		}
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})
	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	})

	handler := secureMiddleware.Handler(corsMiddleware.Handler(router))
	handler = handlers.LoggingHandler(slogWriter{log}, handler)

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe runs the server until it errors or is shut down.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.http.Shutdown(context.Background())
}

// slogWriter adapts *slog.Logger to the io.Writer gorilla/handlers'
// LoggingHandler expects for its access log line.
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.log.Debug("diag access log", "line", string(p))
	return len(p), nil
}
