// Package httpapi is the thin HTTP surface (§4's "chi HTTP surface" in the
// composition order): liveness/health, prometheus exposition, and an
// optional websocket bridge onto the Stream Hub. Grounded on the teacher's
// chi+cors server, trimmed to the risk monitor's much smaller route set.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/events"
	"github.com/onchainrisk/monitor/internal/metrics"
)

// HealthSource reports whether the monitor is ready to serve traffic.
type HealthSource interface {
	Healthy() bool
}

// Config configures the HTTP surface.
type Config struct {
	Port    int
	DevMode bool
	Log     zerolog.Logger
	Metrics *metrics.Registry
	Health  HealthSource
	WS      *WSBridge        // nil disables the /ws route
	Commands *events.CommandBus // nil disables the /owners routes
}

// Server is the risk monitor's HTTP surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New builds a Server; call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "httpapi").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}

	s.router.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if cfg.WS != nil {
		s.router.Get("/ws", cfg.WS.ServeHTTP)
	}
	if cfg.Commands != nil {
		s.router.Post("/owners", registerOwnerHandler(cfg.Commands))
		s.router.Delete("/owners/{address}", deregisterOwnerHandler(cfg.Commands))
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming websocket connections must not be cut off
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func healthHandler(h HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h != nil && !h.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Start serves until the process is killed or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting http surface")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
