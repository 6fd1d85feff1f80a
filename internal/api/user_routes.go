package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/auth"
)

type updateUserRequest struct {
	Username *string `json:"username"`
	Active   *bool   `json:"is_active"`
	Role     *string `json:"role"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Users.ListUsers(r.Context())
	if err != nil {
		s.deps.Logger.Error("user listing failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "could not list users")
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid user id")
		return
	}
	user, err := s.deps.Users.UserByID(r.Context(), id)
	if err != nil {
		s.userError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid user id")
		return
	}
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	user, err := s.deps.Users.UserByID(r.Context(), id)
	if err != nil {
		s.userError(w, id, err)
		return
	}
	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.Role != nil {
		user.Role = *req.Role
	}

	if err := s.deps.Users.UpdateUser(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrDuplicateUsername) {
			writeDetail(w, http.StatusUnprocessableEntity, "Username already exists")
			return
		}
		s.userError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid user id")
		return
	}
	if err := s.deps.Users.DeleteUser(r.Context(), id); err != nil {
		s.userError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "User deleted successfully"})
}

func (s *Server) userError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, auth.ErrUserNotFound) {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	s.deps.Logger.Error("user operation failed", "user_id", id, "error", err)
	writeDetail(w, http.StatusInternalServerError, "user operation failed")
}
