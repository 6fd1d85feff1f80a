package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/session"
)

type fakePipeline struct {
	run func(ctx context.Context, chatID int64, msgs []agent.Message) (string, error)
}

func (f *fakePipeline) Run(ctx context.Context, chatID int64, msgs []agent.Message) (string, error) {
	return f.run(ctx, chatID, msgs)
}

func echoPipeline() *fakePipeline {
	return &fakePipeline{
		run: func(ctx context.Context, chatID int64, msgs []agent.Message) (string, error) {
			last := msgs[len(msgs)-1]
			return "echo: " + last.Text, nil
		},
	}
}

func allowAll(ctx context.Context, token string, userID int64) error { return nil }

func newTestServer(t *testing.T, pipeline Pipeline, authorize AuthorizeFunc) (*httptest.Server, *conversation.MemoryLog) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := conversation.NewMemoryLog()
	registry := session.New(log, logger)
	window := history.New(log, registry, 20)
	gw := New(log, registry, window, pipeline, nil, authorize, logger)

	router := chi.NewRouter()
	router.Get("/chat/ws/{user_id}/{chat_id}", gw.HandleWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, log
}

func dial(t *testing.T, server *httptest.Server, userID, chatID int64) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/chat/ws/%d/%d?token=test-token", server.URL, userID, chatID)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var frame serverFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame failed: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame clientFrame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		t.Fatalf("write frame failed: %v", err)
	}
}

func TestHandleWS_CreatesChat(t *testing.T) {
	server, _ := newTestServer(t, echoPipeline(), allowAll)

	conn := dial(t, server, 7, 0)
	frame := readFrame(t, conn)

	if frame.Type != "chat_created" {
		t.Fatalf("expected chat_created, got %q", frame.Type)
	}
	if frame.ChatID <= 0 {
		t.Errorf("expected an allocated chat id, got %d", frame.ChatID)
	}
	if frame.Content != "New chat session created" {
		t.Errorf("unexpected content %q", frame.Content)
	}
	if frame.Timestamp == "" {
		t.Error("expected a timestamp")
	}
}

func TestHandleWS_MessageRoundTrip(t *testing.T) {
	server, log := newTestServer(t, echoPipeline(), allowAll)

	conn := dial(t, server, 7, 0)
	created := readFrame(t, conn)

	writeFrame(t, conn, clientFrame{Type: "message", Content: "hello"})
	resp := readFrame(t, conn)

	if resp.Type != "response" {
		t.Fatalf("expected response, got %q", resp.Type)
	}
	if resp.Content != "echo: hello" {
		t.Errorf("unexpected reply %q", resp.Content)
	}
	if resp.ChatID != created.ChatID {
		t.Errorf("reply for wrong chat: %d", resp.ChatID)
	}
	if resp.MessageID == nil {
		t.Error("expected a message id on the response frame")
	}

	turns, err := log.List(context.Background(), created.ChatID, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected user and assistant turns persisted, got %d", len(turns))
	}
	if turns[0].Role != conversation.RoleUser || turns[1].Role != conversation.RoleAssistant {
		t.Errorf("unexpected roles %q, %q", turns[0].Role, turns[1].Role)
	}
}

func TestHandleWS_PingPong(t *testing.T) {
	server, _ := newTestServer(t, echoPipeline(), allowAll)

	conn := dial(t, server, 7, 0)
	readFrame(t, conn) // chat_created

	writeFrame(t, conn, clientFrame{Type: "ping"})
	frame := readFrame(t, conn)

	if frame.Type != "pong" {
		t.Errorf("expected pong, got %q", frame.Type)
	}
}

func TestHandleWS_InvalidJSONKeepsConnection(t *testing.T) {
	server, _ := newTestServer(t, echoPipeline(), allowAll)

	conn := dial(t, server, 7, 0)
	readFrame(t, conn) // chat_created

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != "error" {
		t.Fatalf("expected error frame, got %q", frame.Type)
	}
	if frame.Content != "Invalid JSON format" {
		t.Errorf("unexpected content %q", frame.Content)
	}

	// The connection must survive a malformed frame.
	writeFrame(t, conn, clientFrame{Type: "ping"})
	if frame := readFrame(t, conn); frame.Type != "pong" {
		t.Errorf("expected pong after malformed frame, got %q", frame.Type)
	}
}

func TestHandleWS_UnknownFrameType(t *testing.T) {
	server, _ := newTestServer(t, echoPipeline(), allowAll)

	conn := dial(t, server, 7, 0)
	readFrame(t, conn) // chat_created

	writeFrame(t, conn, clientFrame{Type: "telepathy"})
	frame := readFrame(t, conn)

	if frame.Type != "error" {
		t.Errorf("expected error frame, got %q", frame.Type)
	}
}

func TestHandleWS_RejoinOwnChat(t *testing.T) {
	server, log := newTestServer(t, echoPipeline(), allowAll)

	if err := log.Append(context.Background(), &conversation.Turn{
		ChatID: 3, UserID: 7, Role: conversation.RoleUser, Content: "earlier",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	conn := dial(t, server, 7, 3)
	frame := readFrame(t, conn)

	if frame.Type != "chat_loaded" {
		t.Fatalf("expected chat_loaded, got %q", frame.Type)
	}
	if frame.ChatID != 3 {
		t.Errorf("expected chat 3, got %d", frame.ChatID)
	}
}

func TestHandleWS_NonOwnerRefused(t *testing.T) {
	server, log := newTestServer(t, echoPipeline(), allowAll)

	if err := log.Append(context.Background(), &conversation.Turn{
		ChatID: 3, UserID: 8, Role: conversation.RoleUser, Content: "someone else's chat",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	conn := dial(t, server, 7, 3)
	frame := readFrame(t, conn)

	if frame.Type != "error" {
		t.Fatalf("expected error frame, got %q", frame.Type)
	}
	if frame.Content != "Chat not found or access denied" {
		t.Errorf("unexpected content %q", frame.Content)
	}

	// The server closes the connection after a refused join.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("expected the connection to be closed")
	}
}

func TestHandleWS_UnauthorizedToken(t *testing.T) {
	deny := func(ctx context.Context, token string, userID int64) error {
		return errors.New("bad token")
	}
	server, _ := newTestServer(t, echoPipeline(), deny)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, server.URL+"/chat/ws/7/0?token=bad", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 before upgrade, got %+v", resp)
	}
}

func TestHandleWS_PipelineErrorBecomesErrorTurn(t *testing.T) {
	failing := &fakePipeline{
		run: func(ctx context.Context, chatID int64, msgs []agent.Message) (string, error) {
			return "", errors.New("model unavailable")
		},
	}
	server, log := newTestServer(t, failing, allowAll)

	conn := dial(t, server, 7, 0)
	created := readFrame(t, conn)

	writeFrame(t, conn, clientFrame{Type: "message", Content: "hello"})
	resp := readFrame(t, conn)

	if resp.Type != "response" {
		t.Fatalf("expected response frame, got %q", resp.Type)
	}
	if !strings.HasPrefix(resp.Content, "I encountered an error:") {
		t.Errorf("unexpected error reply %q", resp.Content)
	}

	turns, err := log.List(context.Background(), created.ChatID, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1].Role != conversation.RoleSystemError {
		t.Errorf("expected system_error turn, got %q", turns[1].Role)
	}
}

func TestHandleWS_ErrorTurnsStayOutOfPipelineContext(t *testing.T) {
	var calls int
	flaky := &fakePipeline{
		run: func(ctx context.Context, chatID int64, msgs []agent.Message) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("transient failure")
			}
			for _, m := range msgs {
				if strings.HasPrefix(m.Text, "I encountered an error:") {
					return "", fmt.Errorf("error turn leaked into context: %q", m.Text)
				}
			}
			return "recovered", nil
		},
	}
	server, _ := newTestServer(t, flaky, allowAll)

	conn := dial(t, server, 7, 0)
	readFrame(t, conn) // chat_created

	writeFrame(t, conn, clientFrame{Type: "message", Content: "first"})
	readFrame(t, conn) // error reply

	writeFrame(t, conn, clientFrame{Type: "message", Content: "second"})
	resp := readFrame(t, conn)

	if resp.Content != "recovered" {
		t.Errorf("expected recovery on the next turn, got %q", resp.Content)
	}
}

func TestHandleWS_MultiTurnMemory(t *testing.T) {
	recall := &fakePipeline{
		run: func(ctx context.Context, chatID int64, msgs []agent.Message) (string, error) {
			// Answers "what is my name" from earlier turns in the window.
			for _, m := range msgs {
				if m.Role == agent.RoleUser && strings.HasPrefix(m.Text, "my name is ") {
					return "your name is " + strings.TrimPrefix(m.Text, "my name is "), nil
				}
			}
			return "I don't know", nil
		},
	}
	server, _ := newTestServer(t, recall, allowAll)

	conn := dial(t, server, 7, 0)
	readFrame(t, conn) // chat_created

	writeFrame(t, conn, clientFrame{Type: "message", Content: "my name is alice"})
	readFrame(t, conn)

	writeFrame(t, conn, clientFrame{Type: "message", Content: "what is my name?"})
	resp := readFrame(t, conn)

	if resp.Content != "your name is alice" {
		t.Errorf("expected the window to carry earlier turns, got %q", resp.Content)
	}
}
