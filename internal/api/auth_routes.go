package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	User        *auth.User `json:"user"`
}

// genericLoginFailure is shared by every login failure cause so a
// caller cannot enumerate usernames.
const genericLoginFailure = "Invalid username or password"

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.deps.Logger.Error("password hash failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	user, err := s.deps.Users.CreateUser(r.Context(), req.Username, hash, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateUsername) {
			writeDetail(w, http.StatusUnprocessableEntity, "Username already exists")
			return
		}
		s.deps.Logger.Error("registration failed", "username", req.Username, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	s.deps.Logger.Info("user registered", "username", user.Username, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	user, err := s.deps.Users.UserByUsername(r.Context(), req.Username)
	if err != nil || !user.Active || !auth.CheckPassword(req.Password, user.PasswordHash) {
		s.deps.Logger.Warn("login failed", "username", req.Username)
		writeDetail(w, http.StatusUnauthorized, genericLoginFailure)
		return
	}

	if err := s.deps.Users.TouchLastLogin(r.Context(), user.ID); err != nil {
		s.deps.Logger.Warn("last login touch failed", "user_id", user.ID, "error", err)
	}

	token, err := s.deps.Verifier.Issue(user)
	if err != nil {
		s.deps.Logger.Error("token issue failed", "user_id", user.ID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Login failed")
		return
	}

	s.deps.Logger.Info("user logged in", "username", user.Username, "user_id", user.ID)
	w.Header().Set("X-Access-Token", token)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}
