package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"gatekeeper/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv      *http.Server
	tlsCert  string
	tlsKey   string
	listener net.Listener
	done     chan error
}

// New creates a new server instance listening on addr, e.g. ":8080".
// WriteTimeout is left unset so that long streamed upstream answers are not
// cut off.
func New(handler http.Handler, addr, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		done:    make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are reported by Done.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	go func() {
		var err error
		if s.srv.TLSConfig != nil {
			err = s.srv.ServeTLS(listener, s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.Serve(listener)
		}
		if err == http.ErrServerClosed {
			err = nil
		}
		if err != nil {
			logging.Error("HTTP server stopped unexpectedly", err)
		}
		s.done <- err
	}()

	logging.Info("HTTP server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, valid after Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Done delivers the serve loop's terminal error, nil after a clean Shutdown
func (s *Server) Done() <-chan error {
	return s.done
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
