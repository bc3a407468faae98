package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/selfie-quiz/internal/config"
	"github.com/gokatarajesh/selfie-quiz/internal/logging"
)

// NewUpgrader builds a WebSocket upgrader that enforces the CORS allow-list.
func NewUpgrader(cors config.CORS) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return cors.AllowsOrigin(r.Header.Get("Origin"))
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// NewHTTPServer wires base routes (health, metrics) and lets routes mount the
// session API. redis and gatherer can be nil.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, redis *redis.Client, gatherer prometheus.Gatherer, routes func(*http.ServeMux)) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDependencies(r.Context(), redis); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	if routes != nil {
		routes(mux)
	}

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           withCORS(cfg.CORS, withLogging(logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func pingDependencies(ctx context.Context, redis *redis.Client) error {
	if redis == nil {
		return nil
	}
	return redis.Ping(ctx).Err()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func withLogging(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			// Upgrades need the raw writer.
			next.ServeHTTP(w, r.WithContext(logging.IntoContext(r.Context(), logger)))
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(logging.IntoContext(r.Context(), logger)))
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func withCORS(cors config.CORS, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && cors.AllowsOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
