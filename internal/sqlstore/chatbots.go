package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/errs"
)

const chatbotColumns = `id, owner_id, name, collection_id, settings, status, training_status, previous_status,
	document_count, chunk_count, total_size, last_trained_at,
	total_queries, successful_queries, failed_queries, avg_response_ms, last_query_at,
	created_at, updated_at`

// LoadChatbot returns errs.ErrNotFound for unknown ids.
func (s *Store) LoadChatbot(ctx context.Context, id string) (*chatbot.Chatbot, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+chatbotColumns+` FROM chatbots WHERE id = ?`), id)
	c, err := scanChatbot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load chatbot %s: %w", id, err)
	}
	return c, nil
}

// SaveChatbot inserts or replaces the record. Stats columns are never
// written here; RecordQuery owns them.
func (s *Store) SaveChatbot(ctx context.Context, c *chatbot.Chatbot) error {
	if c.ID == "" {
		return errs.Wrap(errs.ErrInvalidInput, "chatbot id is required")
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	created, updated := c.CreatedAt, c.UpdatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO chatbots (id, owner_id, name, collection_id, settings, status, training_status, previous_status,
			document_count, chunk_count, total_size, last_trained_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			collection_id = excluded.collection_id,
			settings = excluded.settings,
			status = excluded.status,
			training_status = excluded.training_status,
			previous_status = excluded.previous_status,
			document_count = excluded.document_count,
			chunk_count = excluded.chunk_count,
			total_size = excluded.total_size,
			last_trained_at = excluded.last_trained_at,
			updated_at = excluded.updated_at`,
		c.ID, c.OwnerID, c.Name, c.CollectionID, string(settings), string(c.Status), string(c.TrainingStatus),
		string(c.PreviousStatus), c.DocumentCount, c.ChunkCount, c.TotalSize, nullTime(c.LastTrainedAt),
		formatTime(created), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("save chatbot %s: %w", c.ID, err)
	}
	return nil
}

// UpdateChatbot reads the row and writes fn's result back inside one
// transaction. On postgres the row is locked for the duration; sqlite runs
// on a single connection, which serialises writers already.
func (s *Store) UpdateChatbot(ctx context.Context, id string, fn func(*chatbot.Chatbot) error) (*chatbot.Chatbot, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE id = ?`
	if s.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}

	var updated *chatbot.Chatbot
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		c, err := scanChatbot(tx.QueryRowContext(ctx, s.rebind(query), id))
		if errors.Is(err, sql.ErrNoRows) {
			return errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
		}
		if err != nil {
			return fmt.Errorf("load chatbot %s: %w", id, err)
		}
		stats := c.Stats
		if err := fn(c); err != nil {
			return err
		}
		c.ID, c.Stats = id, stats

		settings, err := json.Marshal(c.Settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		res, err := s.exec(ctx, tx, `
			UPDATE chatbots SET
				owner_id = ?, name = ?, collection_id = ?, settings = ?,
				status = ?, training_status = ?, previous_status = ?,
				document_count = ?, chunk_count = ?, total_size = ?, last_trained_at = ?,
				updated_at = ?
			WHERE id = ?`,
			c.OwnerID, c.Name, c.CollectionID, string(settings),
			string(c.Status), string(c.TrainingStatus), string(c.PreviousStatus),
			c.DocumentCount, c.ChunkCount, c.TotalSize, nullTime(c.LastTrainedAt),
			formatTime(c.UpdatedAt), id,
		)
		if err != nil {
			return fmt.Errorf("update chatbot %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteChatbot removes the chatbot and its conversations.
func (s *Store) DeleteChatbot(ctx context.Context, id string) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `DELETE FROM chatbots WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete chatbot %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM messages WHERE conversation_id IN
			(SELECT id FROM conversations WHERE chatbot_id = ?)`, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM conversations WHERE chatbot_id = ?`, id); err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
		return nil
	})
}

// ListChatbots returns an owner's chatbots oldest first; an empty owner
// lists all.
func (s *Store) ListChatbots(ctx context.Context, ownerID string) ([]*chatbot.Chatbot, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer rows.Close()

	var out []*chatbot.Chatbot
	for rows.Next() {
		c, err := scanChatbot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chatbot: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordQuery updates the stats in a single UPDATE. The right-hand sides
// read the pre-update row, so for a success the new average is
// (avg*old + latency)/(old+1), i.e. (avg*(n-1) + latency)/n for the
// post-increment count n.
func (s *Store) RecordQuery(ctx context.Context, id string, success bool, latency time.Duration) error {
	now := formatTime(time.Now())
	var (
		res sql.Result
		err error
	)
	if success {
		res, err = s.exec(ctx, s.db, `
			UPDATE chatbots SET
				total_queries = total_queries + 1,
				successful_queries = successful_queries + 1,
				avg_response_ms = (avg_response_ms * successful_queries + ?) / (successful_queries + 1),
				last_query_at = ?
			WHERE id = ?`,
			float64(latency.Milliseconds()), now, id)
	} else {
		res, err = s.exec(ctx, s.db, `
			UPDATE chatbots SET
				total_queries = total_queries + 1,
				failed_queries = failed_queries + 1,
				last_query_at = ?
			WHERE id = ?`,
			now, id)
	}
	if err != nil {
		return fmt.Errorf("record query for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChatbot(row scanner) (*chatbot.Chatbot, error) {
	var (
		c                      chatbot.Chatbot
		settings               string
		status, training, prev string
		lastTrained, lastQuery sql.NullString
		createdAt, updatedAt   string
	)
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.CollectionID, &settings, &status, &training, &prev,
		&c.DocumentCount, &c.ChunkCount, &c.TotalSize, &lastTrained,
		&c.Stats.TotalQueries, &c.Stats.SuccessfulQueries, &c.Stats.FailedQueries, &c.Stats.AvgResponseMs, &lastQuery,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &c.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	c.Status = chatbot.Status(status)
	c.TrainingStatus = chatbot.TrainingStatus(training)
	c.PreviousStatus = chatbot.Status(prev)

	if c.LastTrainedAt, err = parseNullTime(lastTrained); err != nil {
		return nil, err
	}
	if c.Stats.LastQueryAt, err = parseNullTime(lastQuery); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
