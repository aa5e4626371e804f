// Package bridge connects the browser extension and local tools to the
// tracker: a WebSocket event stream for lifecycle signals and a small REST API
// for display queries and watchlist management.
package bridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/dwell/internal/usage"
	"github.com/goodtune/dwell/internal/watchlist"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the bridge server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server represents the bridge HTTP server.
type Server struct {
	config    Config
	tracker   *usage.Tracker
	watchlist *watchlist.Service
	hub       *hub
	server    *http.Server
	router    *mux.Router
	listener  net.Listener // Optional pre-created listener (for systemd socket activation)
	logger    zerolog.Logger
}

// NewServer creates a new bridge server.
func NewServer(cfg Config, tracker *usage.Tracker, wl *watchlist.Service, logger zerolog.Logger) *Server {
	s := &Server{
		config:    cfg,
		tracker:   tracker,
		watchlist: wl,
		router:    mux.NewRouter(),
		logger:    logger.With().Str("component", "bridge").Logger(),
	}
	s.hub = newHub(s, cfg.AllowedOrigins)

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	wl.Subscribe(s.hub.pushWatchlist)

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/v1/events", s.hub.serveWS).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{context}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/ledger", s.handleListHostnames).Methods("GET")
	api.HandleFunc("/ledger/{hostname}", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/ledger/{hostname}/{date}", s.handleGetDaily).Methods("GET")
	api.HandleFunc("/summary", s.handleSummary).Methods("GET")
	api.HandleFunc("/sync", s.handleSync).Methods("POST", "OPTIONS")
	api.HandleFunc("/watchlist", s.handleGetWatchlist).Methods("GET")
	api.HandleFunc("/watchlist", s.handlePutWatchlist).Methods("PUT", "OPTIONS")
	api.HandleFunc("/watchlist/{hostname}", s.handleAddWatchlist).Methods("POST", "OPTIONS")
	api.HandleFunc("/watchlist/{hostname}", s.handleRemoveWatchlist).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/watchlist/{hostname}/toggle", s.handleToggleWatchlist).Methods("POST", "OPTIONS")
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the bridge server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting bridge server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated bridge listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Bridge server error")
		}
	}()

	return nil
}

// Stop gracefully stops the bridge server. The host connection is closed
// without quiescing the tracker.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping bridge server")
	s.hub.shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("bridge server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"quiesced":       s.tracker.Quiesced(),
		"connected":      s.hub.connected(),
		"timers":         s.tracker.Registry().Len(),
		"accruing":       s.tracker.Registry().AccruingCount(),
		"pending_writes": s.tracker.Syncer().PendingCount(),
	})
}
