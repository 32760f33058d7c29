package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"proxygate/internal/auth"
	"proxygate/internal/checker"
	"proxygate/internal/denylist"
	"proxygate/internal/registry"
	"proxygate/internal/rotation"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Server exposes the control API: proxy selection, pool inspection and
// on-demand checks.
type Server struct {
	port       int
	handlers   *handlers
	listener   net.Listener
	httpServer *http.Server
	closeOnce  sync.Once
}

func NewServer(reg *registry.Registry, selector *rotation.Selector, deny *denylist.Cache, chk *checker.Checker, port int) *Server {
	return &Server{
		port: port,
		handlers: &handlers{
			registry: reg,
			selector: selector,
			denylist: deny,
			checker:  chk,
		},
	}
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("GET /healthz", s.handlers.healthz)
	router.Handle("GET /proxy", auth.RequireAuth(http.HandlerFunc(s.handlers.getProxy)))
	router.Handle("GET /proxies", auth.RequireAuth(http.HandlerFunc(s.handlers.listProxies)))
	router.Handle("POST /proxies/{id}/check", auth.RequireAuth(http.HandlerFunc(s.handlers.checkProxy)))
	return enableCORS(router)
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Router(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	s.listener = listener
	s.httpServer = server

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("control api: serve error", "port", s.port, "error", err)
		}
	}()

	log.Info("control api listening", "port", s.port)
	return nil
}

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
				log.Error("control api shutdown", "error", err)
			}
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
