// Package http provides the admin API over the broker.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	GET    /stats
//	POST   /queues/{name}
//	GET    /queues
//	GET    /queues/{name}
//	POST   /queues/{name}/messages
//	DELETE /queues/{name}/messages/head
//	GET    /queues/{name}/slaves/{index}
//	GET    /replication/failures
//	GET    /replication/feed
//	GET    /metrics
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/snehjoshi/replq/internal/broker"
	"github.com/snehjoshi/replq/internal/config"
	"github.com/snehjoshi/replq/internal/metrics"
	transportws "github.com/snehjoshi/replq/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with replq route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server from a Broker. reg and feed may be nil, in which case
// /metrics and /replication/feed are not mounted.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(b *broker.Broker, cfg *config.Config, reg *metrics.Registry, feed *transportws.Hub) *Server {
	h := &Handler{broker: b}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /stats", h.stats)

	// Queues
	mux.HandleFunc("POST /queues/{name}", h.createQueue)
	mux.HandleFunc("GET /queues", h.listQueues)
	mux.HandleFunc("GET /queues/{name}", h.queueInfo)
	mux.HandleFunc("GET /queues/{name}/slaves/{index}", h.slaveName)

	// Messages
	mux.HandleFunc("POST /queues/{name}/messages", h.pushMessage)
	mux.HandleFunc("DELETE /queues/{name}/messages/head", h.popMessage)

	// Replication
	mux.HandleFunc("GET /replication/failures", h.failures)
	if feed != nil {
		mux.Handle("GET /replication/feed", feed)
	}

	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	mws := []func(http.Handler) http.Handler{
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
	}
	if reg != nil {
		mws = append(mws, MetricsMiddleware(reg))
	}
	if cfg.HTTP.RateLimitRPS > 0 {
		mws = append(mws, RateLimitMiddleware(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst))
	}

	return &Server{
		inner: &http.Server{
			Handler:      chain(mux, mws...),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
