package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects emitted by the service.
const (
	SubjectTurnStored = "parley.chat.turn.stored"
	SubjectRegistered = "parley.service.registered"
)

// TurnStored announces a persisted turn to downstream consumers
// (analytics, archival, moderation review).
type TurnStored struct {
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	MessageID int64  `json:"message_id"`
	Role      string `json:"role"`
	ConnID    string `json:"conn_id,omitempty"`
}

// Publisher is a thin NATS publishing client. The service runs without
// one; callers must tolerate a nil Publisher.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func Connect(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc, logger: logger}, nil
}

// Publish sends payload as JSON on subject. Safe to call on a nil
// Publisher, which makes event emission a no-op.
func (p *Publisher) Publish(subject string, payload any) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
	p.conn.Close()
}
