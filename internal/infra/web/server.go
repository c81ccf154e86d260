package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"voicechat/internal/application"
	"voicechat/internal/domain"
)

// Controller is the slice of the session the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() domain.SessionStatus
	LastError() error
	Conversation() *application.ConversationLog
}

type Options struct {
	Addr       string
	AuthToken  string
	RateLimit  int
	RateWindow time.Duration
	TrustProxy bool
	Metrics    http.Handler
}

// Server exposes session control, the conversation log and a live event feed
// over HTTP.
type Server struct {
	addr        string
	session     Controller
	hub         *Hub
	router      *mux.Router
	rateLimiter *RateLimiter
	authToken   string
	logger      *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
}

func NewServer(session Controller, hub *Hub, opts Options, logger *slog.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 30
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}

	s := &Server{
		addr:        opts.Addr,
		session:     session,
		hub:         hub,
		router:      mux.NewRouter(),
		rateLimiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
		authToken:   opts.AuthToken,
		logger:      logger,
	}

	s.rateLimiter.TrustProxy = opts.TrustProxy

	// No rate limiting on reads and health
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/messages", s.handleMessages).Methods(http.MethodGet)

	control := func(h http.HandlerFunc) http.Handler {
		return s.rateLimiter.Middleware(s.requireToken(h))
	}
	s.router.Handle("/api/session/start", control(s.handleStart)).Methods(http.MethodPost)
	s.router.Handle("/api/session/stop", control(s.handleStop)).Methods(http.MethodPost)

	s.router.Handle("/ws", s.requireToken(http.HandlerFunc(s.handleFeed))).Methods(http.MethodGet)

	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP API starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

// Addr reports the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}

	s.running = false
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != s.authToken {
				s.logger.Warn("unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Status   domain.SessionStatus `json:"status"`
	Error    string               `json:"error,omitempty"`
	Messages int                  `json:"messages"`
}

func (s *Server) statusBody() statusResponse {
	resp := statusResponse{
		Status:   s.session.Status(),
		Messages: s.session.Conversation().Len(),
	}
	if resp.Status == domain.StatusError {
		if err := s.session.LastError(); err != nil {
			resp.Error = err.Error()
		}
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": s.session.Conversation().Messages(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.session.Start(r.Context())
	switch {
	case err == nil:
		s.logger.Info("session started via HTTP", "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, s.statusBody())
	case errors.Is(err, domain.ErrSessionRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDeviceAcquisition):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.session.Stop()
	s.logger.Info("session stopped via HTTP", "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, &Event{
		Type:   EventTypeStatus,
		Status: s.session.Status(),
		Time:   time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
