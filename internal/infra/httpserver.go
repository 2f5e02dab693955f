package infra

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const defaultShutdownGrace = 30 * time.Second

// HTTPServer serves a handler until its context ends, then drains.
type HTTPServer struct {
	server *http.Server
	// Grace bounds the drain on shutdown.
	Grace time.Duration
}

// NewHTTPServer listens on cfg.Port. The write timeout must cover a
// synchronous generation, so it comes from HTTP_WRITE_TIMEOUT_SECONDS.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return NewHTTPServerAddr(":"+cfg.Port, cfg, handler)
}

// NewHTTPServerAddr is NewHTTPServer on an explicit address.
func NewHTTPServerAddr(addr string, cfg *Config, handler http.Handler) *HTTPServer {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
	return &HTTPServer{server: srv, Grace: defaultShutdownGrace}
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Run serves until ctx is done and then shuts down gracefully. A clean
// shutdown returns nil.
func (s *HTTPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	s.server.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	grace := s.Grace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
