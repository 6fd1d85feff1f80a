package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parleyhq/parley/internal/conversation"
)

// NextChatID pulls from a database sequence, so allocation is atomic and
// strictly increasing regardless of how many processes share the store.
func (s *Store) NextChatID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('chat_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next chat id: %w", err)
	}
	return id, nil
}

func (s *Store) Append(ctx context.Context, t *conversation.Turn) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (chat_id, user_id, role, content, attributes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		t.ChatID, t.UserID, string(t.Role), t.Content, t.Attributes,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *Store) First(ctx context.Context, chatID int64) (*conversation.Turn, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, user_id, role, content, attributes, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		chatID,
	)
	t, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("first turn: %w", err)
	}
	return t, nil
}

func (s *Store) Recent(ctx context.Context, chatID int64, limit int) ([]conversation.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, user_id, role, content, attributes, created_at
		FROM (
			SELECT id, chat_id, user_id, role, content, attributes, created_at
			FROM chat_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`,
		chatID, nullableLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *Store) List(ctx context.Context, chatID int64, limit int) ([]conversation.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, user_id, role, content, attributes, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`,
		chatID, nullableLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *Store) Sessions(ctx context.Context, userID int64) ([]conversation.SessionSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.chat_id, g.last_update, f.content
		FROM (
			SELECT chat_id, max(created_at) AS last_update
			FROM chat_messages
			WHERE user_id = $1
			GROUP BY chat_id
		) g
		JOIN LATERAL (
			SELECT content
			FROM chat_messages
			WHERE chat_id = g.chat_id
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		) f ON true
		ORDER BY g.last_update DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []conversation.SessionSummary
	for rows.Next() {
		var sum conversation.SessionSummary
		var content string
		if err := rows.Scan(&sum.ChatID, &sum.LastUpdate, &content); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.Preview = conversation.Preview(content)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAll(ctx context.Context, chatID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	return nil
}

// nullableLimit maps limit<=0 to LIMIT NULL, which Postgres treats as
// no limit.
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func scanTurn(row pgx.Row) (*conversation.Turn, error) {
	var t conversation.Turn
	if err := row.Scan(&t.ID, &t.ChatID, &t.UserID, &t.Role, &t.Content, &t.Attributes, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTurns(rows pgx.Rows) ([]conversation.Turn, error) {
	var out []conversation.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
