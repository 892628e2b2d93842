package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ruslano69/mssqlpool/pkg/pool"
	"github.com/ruslano69/mssqlpool/pkg/session"
)

// statusSource is the part of a session the HTTP endpoints read.
type statusSource interface {
	ID() string
	Mode() session.Mode
	IsConnected() bool
	PoolStats() (pool.Stats, bool)
}

type statsResponse struct {
	Session   string      `json:"session"`
	Mode      string      `json:"mode"`
	Connected bool        `json:"connected"`
	Pool      *pool.Stats `json:"pool,omitempty"`
}

// newRouter serves /metrics, /stats and /healthz.
func newRouter(src statusSource, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(zerologMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealthz(src))
	r.Get("/stats", handleStats(src))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func handleHealthz(src statusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !src.IsConnected() {
			writeHTTPJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeHTTPJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleStats(src statusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := statsResponse{
			Session:   src.ID(),
			Mode:      src.Mode().String(),
			Connected: src.IsConnected(),
		}
		if st, ok := src.PoolStats(); ok {
			resp.Pool = &st
		}
		writeHTTPJSON(w, http.StatusOK, resp)
	}
}

// zerologMiddleware logs every HTTP request with method, path, status, and latency.
func zerologMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("latency_ms", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeHTTPJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
