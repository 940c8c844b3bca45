package observe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelvoice/kestrel/internal/health"
)

// Server exposes the local observability endpoints:
//
//   - /metrics  Prometheus scrape endpoint
//   - /healthz  liveness probe
//   - /readyz   readiness probe
//
// All requests pass through [Middleware], so the endpoints themselves appear
// in the request metrics.
type Server struct {
	addr    string
	metrics *Metrics
	health  *health.Handler
}

// NewServer builds an observability server on addr. The checkers feed the
// /readyz endpoint.
func NewServer(addr string, m *Metrics, checkers ...health.Checker) (*Server, error) {
	if addr == "" {
		return nil, fmt.Errorf("observe: addr must not be empty")
	}
	if m == nil {
		m = DefaultMetrics()
	}
	return &Server{
		addr:    addr,
		metrics: m,
		health:  health.New(checkers...),
	}, nil
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("observe: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:     Middleware(s.metrics)(mux),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("observe: serve: %w", err)
	}
}
