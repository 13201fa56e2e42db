// Package server hosts pipeline sets behind net/http: it builds the router,
// bridges requests into calls, and writes the produced responses back out.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const requestTimeout = 30 * time.Second

// Server owns the listening socket. Its handler is swappable at runtime so
// a config reload can replace the whole routing table without dropping
// connections.
type Server struct {
	Port int

	logger  *slog.Logger
	srv     *http.Server
	handler atomic.Value // http.Handler
}

// New creates a server on the given port. It serves 503 until the first
// Swap installs a real handler.
func New(port int, logger *slog.Logger) *Server {
	s := &Server{
		Port:   port,
		logger: logger,
	}
	s.handler.Store(http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server is starting", http.StatusServiceUnavailable)
	})))
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      http.HandlerFunc(s.serve),
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.handler.Load().(http.Handler).ServeHTTP(w, r)
}

// Swap atomically replaces the handler serving new requests. In-flight
// requests keep the handler they started with.
func (s *Server) Swap(h http.Handler) {
	s.handler.Store(h)
}

// Handler returns the handler currently serving requests.
func (s *Server) Handler() http.Handler {
	return s.handler.Load().(http.Handler)
}

// Start listens and serves until Shutdown. It blocks.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// NewRouter builds the standard middleware stack every handler generation
// shares: request timeouts, panic recovery, OpenTelemetry instrumentation,
// plus the health and metrics endpoints.
func NewRouter(serviceName string, metrics prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
	}

	return r
}

// TimeoutMiddleware cancels the request context after the given duration.
// Handlers observe it through cooperative cancellation; nothing is
// forcibly terminated.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
