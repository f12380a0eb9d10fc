package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/errs"
)

// LoadConversation returns the session's transcript with messages in order.
func (s *Store) LoadConversation(ctx context.Context, chatbotID, sessionID string) (*chatbot.Conversation, error) {
	var (
		conv                 chatbot.Conversation
		status               string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, chatbot_id, session_id, user_id, status, created_at, updated_at
		FROM conversations WHERE chatbot_id = ? AND session_id = ?`), chatbotID, sessionID,
	).Scan(&conv.ID, &conv.ChatbotID, &conv.SessionID, &conv.UserID, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "conversation %s for chatbot %s", sessionID, chatbotID)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", sessionID, err)
	}
	conv.Status = chatbot.ConversationStatus(status)
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, role, content, tokens, response_time_ms, source_ids, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`), conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg           chatbot.Message
			role, sources string
			created       string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Tokens, &msg.ResponseTimeMs, &sources, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chatbot.Role(role)
		if err := json.Unmarshal([]byte(sources), &msg.SourceIDs); err != nil {
			return nil, fmt.Errorf("decode source ids: %w", err)
		}
		if msg.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return &conv, rows.Err()
}

// CreateConversation stores a new, empty session. A session id that is
// already in use for the chatbot yields errs.ErrAlreadyExists.
func (s *Store) CreateConversation(ctx context.Context, conv *chatbot.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Status == "" {
		conv.Status = chatbot.ConversationActive
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO conversations (id, chatbot_id, session_id, user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.ChatbotID, conv.SessionID, conv.UserID, string(conv.Status),
		formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return errs.Wrap(errs.ErrAlreadyExists, "conversation %s", conv.SessionID)
	}
	if err != nil {
		return fmt.Errorf("create conversation %s: %w", conv.SessionID, err)
	}
	return nil
}

// AppendMessage adds msg at the end of the transcript. Ended conversations
// reject new messages.
func (s *Store) AppendMessage(ctx context.Context, conv *chatbot.Conversation, msg chatbot.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	sources, err := json.Marshal(nonNil(msg.SourceIDs))
	if err != nil {
		return fmt.Errorf("encode source ids: %w", err)
	}

	err = s.transaction(ctx, func(tx *sql.Tx) error {
		var id, status string
		err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT id, status FROM conversations WHERE chatbot_id = ? AND session_id = ?`),
			conv.ChatbotID, conv.SessionID,
		).Scan(&id, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.Wrap(errs.ErrNotFound, "conversation %s", conv.SessionID)
		}
		if err != nil {
			return err
		}
		if chatbot.ConversationStatus(status) == chatbot.ConversationEnded {
			return errs.Wrap(errs.ErrInvalidInput, "conversation %s has ended", conv.SessionID)
		}

		if _, err := s.exec(ctx, tx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, tokens, response_time_ms, source_ids, created_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?, ?, ?)`,
			msg.ID, id, id, string(msg.Role), msg.Content, msg.Tokens, msg.ResponseTimeMs, string(sources),
			formatTime(msg.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err = s.exec(ctx, tx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(msg.CreatedAt), id)
		return err
	})
	if err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

// EndConversation marks the session ended.
func (s *Store) EndConversation(ctx context.Context, chatbotID, sessionID string) error {
	res, err := s.exec(ctx, s.db, `
		UPDATE conversations SET status = ?, updated_at = ? WHERE chatbot_id = ? AND session_id = ?`,
		string(chatbot.ConversationEnded), formatTime(time.Now()), chatbotID, sessionID)
	if err != nil {
		return fmt.Errorf("end conversation %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap(errs.ErrNotFound, "conversation %s", sessionID)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
