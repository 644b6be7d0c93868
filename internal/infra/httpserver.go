package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server with the configured timeouts. Read and write
// timeouts come from Config; the header timeout is fixed since no endpoint
// streams request headers.
type HTTPServer struct {
	srv *http.Server
}

// NewHTTPServer builds a server listening on the configured port.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{srv: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

// Start blocks serving requests until Shutdown is called or the listener
// fails.
func (s *HTTPServer) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
