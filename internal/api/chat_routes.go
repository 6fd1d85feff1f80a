package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/conversation"
)

// historyDisplayLimit caps how many turns the REST history endpoint
// returns. The agent's context window is configured separately.
const historyDisplayLimit = 100

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUserID(w, r)
	if !ok {
		return
	}
	sessions, err := s.deps.Log.Sessions(r.Context(), userID)
	if err != nil {
		s.deps.Logger.Error("session listing failed", "user_id", userID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	if sessions == nil {
		sessions = []conversation.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.pathChatID(w, r)
	if !ok {
		return
	}
	userID, ok := s.queryUserID(w, r)
	if !ok {
		return
	}

	owned, err := s.deps.Registry.VerifyOwnership(r.Context(), chatID, userID)
	if err != nil {
		s.deps.Logger.Error("ownership check failed", "chat_id", chatID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "could not load chat history")
		return
	}
	if !owned {
		writeDetail(w, http.StatusNotFound, "Chat not found or access denied")
		return
	}

	turns, err := s.deps.Log.List(r.Context(), chatID, historyDisplayLimit)
	if err != nil {
		s.deps.Logger.Error("history load failed", "chat_id", chatID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "could not load chat history")
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "messages": turns})
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.pathChatID(w, r)
	if !ok {
		return
	}
	userID, ok := s.queryUserID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Registry.DeleteConversation(r.Context(), chatID, userID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Chat not found or access denied")
			return
		}
		s.deps.Logger.Error("chat deletion failed", "chat_id", chatID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "could not delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Chat deleted successfully"})
}

func (s *Server) pathChatID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid chat id")
		return 0, false
	}
	return chatID, true
}

func (s *Server) queryUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid or missing user_id")
		return 0, false
	}
	return userID, true
}
