package gateway

import "time"

// clientFrame is an inbound WebSocket frame.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// serverFrame is an outbound WebSocket frame.
type serverFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ChatID    int64  `json:"chat_id"`
	MessageID *int64 `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

const (
	frameMessage = "message"
	framePing    = "ping"

	frameChatCreated = "chat_created"
	frameChatLoaded  = "chat_loaded"
	frameResponse    = "response"
	frameError       = "error"
	framePong        = "pong"
)

func newFrame(typ, content string, chatID int64, messageID *int64) serverFrame {
	return serverFrame{
		Type:      typ,
		Content:   content,
		ChatID:    chatID,
		MessageID: messageID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
