package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/session"
)

// Pipeline runs the staged agent over a turn sequence whose last entry
// is the latest user turn.
type Pipeline interface {
	Run(ctx context.Context, chatID int64, msgs []agent.Message) (string, error)
}

// AuthorizeFunc validates a connection credential against the claimed
// user id. The WebSocket path is excluded from the HTTP auth middleware;
// the gateway authorizes each connection itself.
type AuthorizeFunc func(ctx context.Context, token string, userID int64) error

// Gateway is the real-time protocol handler. Each connection is one
// goroutine; processing within a connection is strictly sequential, and
// work for the same chat id is serialized across connections through the
// registry's per-conversation lock.
type Gateway struct {
	log       conversation.Log
	registry  *session.Registry
	window    *history.Window
	pipeline  Pipeline
	events    *events.Publisher
	authorize AuthorizeFunc
	logger    *slog.Logger
}

func New(log conversation.Log, registry *session.Registry, window *history.Window, pipeline Pipeline, publisher *events.Publisher, authorize AuthorizeFunc, logger *slog.Logger) *Gateway {
	return &Gateway{
		log:       log,
		registry:  registry,
		window:    window,
		pipeline:  pipeline,
		events:    publisher,
		authorize: authorize,
		logger:    logger,
	}
}

// HandleWS serves /chat/ws/{user_id}/{chat_id}. A chat id of 0 allocates
// a new conversation.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chat_id"), 10, 64)
	if err != nil || chatID < 0 {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	if err := g.authorize(r.Context(), r.URL.Query().Get("token"), userID); err != nil {
		g.logger.Warn("ws authorization failed", "user_id", userID, "cause", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	connID := uuid.NewString()
	logger := g.logger.With("conn_id", connID, "user_id", userID)
	logger.Info("ws connected")

	// The connection context governs reads and writes. Pipeline work
	// runs on a detached context so that a client disconnect cannot
	// cancel an already-dispatched invocation mid-commit.
	connCtx := r.Context()
	workCtx := context.WithoutCancel(connCtx)

	chatID, ok := g.resolveChat(connCtx, workCtx, conn, chatID, userID, logger)
	if !ok {
		return
	}
	logger = logger.With("chat_id", chatID)

	for {
		typ, data, err := conn.Read(connCtx)
		if err != nil {
			logger.Info("ws disconnected", "reason", err)
			return
		}
		if typ != websocket.MessageText {
			g.send(connCtx, conn, newFrame(frameError, "expected a text frame", chatID, nil))
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.send(connCtx, conn, newFrame(frameError, "Invalid JSON format", chatID, nil))
			continue
		}

		switch frame.Type {
		case framePing:
			g.send(connCtx, conn, newFrame(framePong, "pong", chatID, nil))
		case frameMessage:
			reply := g.processMessage(workCtx, chatID, userID, frame.Content, connID, logger)
			g.send(connCtx, conn, reply)
		default:
			g.send(connCtx, conn, newFrame(frameError, fmt.Sprintf("unknown frame type %q", frame.Type), chatID, nil))
		}
	}
}

// resolveChat allocates a fresh chat id or verifies ownership of an
// existing one, emitting the matching protocol frame. A failed
// ownership check sends an error frame and reports not-ok so the caller
// closes the connection.
func (g *Gateway) resolveChat(connCtx, workCtx context.Context, conn *websocket.Conn, chatID, userID int64, logger *slog.Logger) (int64, bool) {
	if chatID == 0 {
		id, err := g.registry.AllocateChatID(workCtx)
		if err != nil {
			logger.Error("chat allocation failed", "error", err)
			g.send(connCtx, conn, newFrame(frameError, "could not create chat session", 0, nil))
			return 0, false
		}
		g.send(connCtx, conn, newFrame(frameChatCreated, "New chat session created", id, nil))
		logger.Info("chat created", "chat_id", id)
		return id, true
	}

	ok, err := g.registry.VerifyOwnership(workCtx, chatID, userID)
	if err != nil {
		logger.Error("ownership check failed", "chat_id", chatID, "error", err)
		g.send(connCtx, conn, newFrame(frameError, "could not load chat session", chatID, nil))
		return 0, false
	}
	if !ok {
		g.send(connCtx, conn, newFrame(frameError, "Chat not found or access denied", chatID, nil))
		return 0, false
	}
	g.send(connCtx, conn, newFrame(frameChatLoaded, fmt.Sprintf("Joined chat %d", chatID), chatID, nil))
	logger.Info("chat loaded", "chat_id", chatID)
	return chatID, true
}

// processMessage runs one content frame through persist → window →
// pipeline → persist, all under the conversation lock. Pipeline
// failures become a system_error turn and a normal response frame; the
// connection never drops because a capability call failed.
func (g *Gateway) processMessage(ctx context.Context, chatID, userID int64, content, connID string, logger *slog.Logger) serverFrame {
	unlock := g.registry.LockConversation(chatID)
	defer unlock()

	userTurn := &conversation.Turn{
		ChatID:  chatID,
		UserID:  userID,
		Role:    conversation.RoleUser,
		Content: content,
	}
	if err := g.log.Append(ctx, userTurn); err != nil {
		logger.Error("user turn append failed", "error", err)
		return newFrame(frameError, "could not persist message", chatID, nil)
	}
	g.publishTurn(userTurn, connID, logger)

	msgs, err := g.window.Build(ctx, chatID, userID)
	if err != nil {
		logger.Error("history window failed", "error", err)
		return newFrame(frameError, "could not load chat history", chatID, nil)
	}

	reply, err := g.pipeline.Run(ctx, chatID, msgs)
	role := conversation.RoleAssistant
	if err != nil {
		logger.Error("pipeline failed", "error", err)
		role = conversation.RoleSystemError
		reply = fmt.Sprintf("I encountered an error: %v", err)
	}

	replyTurn := &conversation.Turn{
		ChatID:  chatID,
		UserID:  userID,
		Role:    role,
		Content: reply,
	}
	if err := g.log.Append(ctx, replyTurn); err != nil {
		logger.Error("reply turn append failed", "error", err)
		return newFrame(frameError, "could not persist response", chatID, nil)
	}
	g.publishTurn(replyTurn, connID, logger)

	logger.Info("turn processed", "role", string(role), "message_id", replyTurn.ID)
	return newFrame(frameResponse, reply, chatID, &replyTurn.ID)
}

func (g *Gateway) publishTurn(t *conversation.Turn, connID string, logger *slog.Logger) {
	err := g.events.Publish(events.SubjectTurnStored, events.TurnStored{
		ChatID:    t.ChatID,
		UserID:    t.UserID,
		MessageID: t.ID,
		Role:      string(t.Role),
		ConnID:    connID,
	})
	if err != nil {
		logger.Warn("turn event publish failed", "error", err)
	}
}

func (g *Gateway) send(ctx context.Context, conn *websocket.Conn, frame serverFrame) {
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		g.logger.Warn("ws write failed", "type", frame.Type, "error", err)
	}
}
