package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/session"
)

// Routes that never require a credential: health probes, login, and the
// WebSocket endpoint (which performs its own per-connection
// authorization).
var excludedRoutes = []string{"/health", "/auth/login", "/chat/ws"}

// Deps carries the collaborators the HTTP surface is wired with.
type Deps struct {
	Users    auth.UserStore
	Verifier *auth.Verifier
	Log      conversation.Log
	Registry *session.Registry
	Gateway  *gateway.Gateway
	Logger   *slog.Logger
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
}

func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(auth.Middleware(deps.Verifier, deps.Users, excludedRoutes, deps.Logger))

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
	}

	router.Get("/health", s.health)

	router.Post("/auth/register", s.register)
	router.Post("/auth/login", s.login)

	router.Route("/users", func(r chi.Router) {
		r.Get("/", s.listUsers)
		r.Get("/{id}", s.getUser)
		r.Put("/{id}", s.updateUser)
		r.Delete("/{id}", s.deleteUser)
	})

	router.Route("/chat", func(r chi.Router) {
		r.Get("/ws/{user_id}/{chat_id}", deps.Gateway.HandleWS)
		r.Get("/sessions", s.listSessions)
		r.Get("/{chat_id}/history", s.chatHistory)
		r.Delete("/{chat_id}", s.deleteChat)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "parley"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
