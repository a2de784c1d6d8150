package api

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/1valdis/heavensat-web/internal/auth"
	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/driver"
	"github.com/1valdis/heavensat-web/internal/health"
	"github.com/1valdis/heavensat-web/internal/metrics"
	"github.com/1valdis/heavensat-web/internal/stream"
)

// Deps are the services the HTTP surface exposes. Loader may be nil when
// catalog fetching is disabled.
type Deps struct {
	Store  *catalog.Store
	Loader *catalog.Loader
	Driver *driver.Driver
	Stream *stream.Handler
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, authCfg, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Stream connections are hijacked and manage their own deadlines.
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(logger *slog.Logger, authCfg auth.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(catalogLoaded(deps.Store), propagatorRunning(deps.Driver)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/catalog/metadata", catalogMetadataHandler(deps.Store))
	mux.HandleFunc("POST /api/v1/catalog/refresh", catalogRefreshHandler(logger, deps.Loader))
	mux.HandleFunc("GET /api/v1/view", viewGetHandler(deps.Driver))
	mux.HandleFunc("PUT /api/v1/view", viewPutHandler(logger, deps.Driver))
	mux.HandleFunc("GET /api/v1/diagnostics", diagnosticsHandler(deps.Driver, deps.Stream))
	mux.HandleFunc("GET /api/v1/scene", sceneHandler(deps.Driver))
	mux.HandleFunc("GET /api/v1/satellites/{norad}", satelliteHandler(deps.Store, deps.Driver))
	mux.HandleFunc("GET /api/v1/satellites/{norad}/passes", satellitePassesHandler(deps.Store, deps.Driver))
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream", deps.Stream.HandleStream)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func catalogLoaded(store *catalog.Store) health.Check {
	return func() (bool, string) {
		if store.Get() == nil {
			return false, "catalog not loaded"
		}
		return true, ""
	}
}

func propagatorRunning(d *driver.Driver) health.Check {
	return func() (bool, string) {
		if d.Propagator() == nil {
			return false, "propagator not started"
		}
		return true, ""
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	sr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
