package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Server runs the forwarding gateway listener.
type Server struct {
	port       int
	handler    *Handler
	listener   net.Listener
	httpServer *http.Server
	closeOnce  sync.Once
}

func NewServer(handler *Handler, port int) *Server {
	return &Server{port: port, handler: handler}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}

	// Read and write timeouts stay unset: forwarded bodies and CONNECT
	// tunnels may legitimately outlive any fixed deadline. Per-request
	// bounds come from the forward timeout instead.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	s.listener = listener
	s.httpServer = server

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("gateway: serve error", "port", s.port, "error", err)
		}
	}()

	log.Info("gateway listening", "port", s.port)
	return nil
}

// Addr reports the bound listener address, useful when port 0 was requested.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.Error("gateway shutdown", "error", err)
			}
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
