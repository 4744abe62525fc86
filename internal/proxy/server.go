// Package proxy implements the translation gateway HTTP server.
package proxy

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/n0madic/go-minimax-gate/internal/config"
	"github.com/n0madic/go-minimax-gate/internal/session"
	"github.com/n0madic/go-minimax-gate/internal/upstream"
)

// Server is the gateway HTTP server. It owns the backend client and the
// session store shared by all handlers.
type Server struct {
	cfg        *config.ServerConfig
	backend    *upstream.Client
	sessions   *session.Store
	httpServer *http.Server
}

// New creates a configured gateway server.
func New(cfg *config.ServerConfig) (*Server, error) {
	store, err := session.NewStore(session.Config{
		Enabled:     cfg.SessionStoreEnabled,
		Backend:     cfg.SessionStoreBackend,
		Path:        cfg.SessionStorePath,
		TTL:         cfg.SessionTTL,
		MaxMessages: cfg.MaxMessagesPerSession,
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		backend:  upstream.NewClient(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTimeout, cfg.Verbose),
		sessions: store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/messages", s.handleMessages)

	handler := corsMiddleware(authMiddleware(cfg.AuthAPIKey, mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	slog.Info("starting gateway",
		"addr", s.httpServer.Addr,
		"backend", s.cfg.BackendURL,
		"model_patterns", strings.Join(s.cfg.ModelPatterns, ","))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the session store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.sessions.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "minimax-gate",
		"endpoints": []string{
			"/v1/chat/completions",
			"/v1/messages",
			"/v1/models",
			"/health",
		},
		"backend": s.cfg.BackendURL,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backendHealthy := s.backend.Healthy(r.Context())
	status := "healthy"
	if !backendHealthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"backend":         s.cfg.BackendURL,
		"backend_healthy": backendHealthy,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	body, err := s.backend.Models(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("backend models request failed: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, X-Session-Id, Anthropic-Version")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the gateway API key when one is configured. Health
// and root probes stay open. Clients may present the key as a bearer token or
// via x-api-key, matching OpenAI and Anthropic client conventions.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.Header.Get("X-Api-Key")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			if strings.HasPrefix(r.URL.Path, "/v1/messages") {
				writeAnthropicError(w, http.StatusUnauthorized, "authentication_error", "invalid API key")
			} else {
				writeError(w, http.StatusUnauthorized, "invalid API key")
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
