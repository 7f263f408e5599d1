package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kev-ang/ruben/internal/metrics"
)

// NewRouter returns the routes shared by both transports: the MCP endpoint,
// an unauthenticated health check and, when gatherer is set, /metrics.
func NewRouter(mcpEndpoint string, mcpHandler http.Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}
	r.Handle(mcpEndpoint, mcpHandler)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// HTTPServer serves MCP over streamable HTTP without authentication.
type HTTPServer struct {
	handler    http.Handler
	httpServer *http.Server
}

// NewHTTPServer creates an HTTP server for mcpSrv.
func NewHTTPServer(mcpSrv *mcpserver.MCPServer, mcpEndpoint string, gatherer prometheus.Gatherer) *HTTPServer {
	mcpHandler := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath(mcpEndpoint),
	)
	return &HTTPServer{handler: NewRouter(mcpEndpoint, mcpHandler, gatherer)}
}

// Start serves on addr until Shutdown is called.
func (s *HTTPServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
