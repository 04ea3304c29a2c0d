package memory

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/bowerhall/mira/internal/apperr"
)

// CreateMessage stores a message and bumps the conversation's activity
// timestamp in the same transaction. embedding may be nil.
func (s *Store) CreateMessage(ctx context.Context, conversationID, userID, content string, embedding []float32) (*Message, error) {
	const op = "memory.CreateMessage"

	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation(op, "content is empty")
	}

	// NULL until computed
	var blob any
	if embedding != nil {
		if err := s.checkDimension(op, embedding); err != nil {
			return nil, err
		}

		serialized, err := serializeEmbedding(embedding)
		if err != nil {
			return nil, classify(op, err)
		}
		blob = serialized
	}

	insert, err := s.queries.Load(queryInsertMessage)
	if err != nil {
		return nil, classify(op, err)
	}
	touch, err := s.queries.Load(queryTouchConversation)
	if err != nil {
		return nil, classify(op, err)
	}

	ts := s.timestamp()
	id := uuid.NewString()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insert, id, conversationID, userID, content, blob, ts, ts); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, touch, ts, conversationID)
		return err
	})
	if err != nil {
		return nil, classify(op, err)
	}

	created, _ := parseTime(ts)

	var stored []float32
	if embedding != nil {
		stored = append([]float32(nil), embedding...)
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		Content:        content,
		Embedding:      stored,
		CreatedAt:      created,
		UpdatedAt:      created,
	}, nil
}

// GetMessages returns the chronological transcript when q.Embedding is nil,
// otherwise the q.Limit messages nearest to it (nearest first). Messages
// without an embedding, or whose distance is undefined, are skipped in the
// latter mode.
func (s *Store) GetMessages(ctx context.Context, conversationID string, q MessageQuery) ([]Message, error) {
	const op = "memory.GetMessages"

	if q.Embedding == nil {
		return s.transcript(ctx, op, conversationID)
	}

	if err := s.checkDimension(op, q.Embedding); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit < 0 {
		return nil, apperr.Validation(op, "limit must not be negative")
	}
	if limit == 0 {
		limit = defaultLimit
	}

	name := querySelectSimilarCosine
	if s.metric == MetricL2 {
		name = querySelectSimilarL2
	}

	query, err := s.queries.Load(name)
	if err != nil {
		return nil, classify(op, err)
	}

	blob, err := serializeEmbedding(q.Embedding)
	if err != nil {
		return nil, classify(op, err)
	}

	rows, err := s.db.QueryContext(ctx, query, blob, conversationID, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var distance float64
		m, err := scanMessage(rows, &distance)
		if err != nil {
			return nil, classify(op, err)
		}
		m.Distance = float32(distance)
		out = append(out, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	return out, nil
}

func (s *Store) transcript(ctx context.Context, op, conversationID string) ([]Message, error) {
	q, err := s.queries.Load(querySelectMessages)
	if err != nil {
		return nil, classify(op, err)
	}

	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, classify(op, err)
	}

	return collectMessages(op, rows)
}

// UpdateMessageEmbedding sets (or replaces) a message's embedding.
func (s *Store) UpdateMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	const op = "memory.UpdateMessageEmbedding"

	if err := s.checkDimension(op, embedding); err != nil {
		return err
	}

	blob, err := serializeEmbedding(embedding)
	if err != nil {
		return classify(op, err)
	}

	q, err := s.queries.Load(queryUpdateMessageEmbedding)
	if err != nil {
		return classify(op, err)
	}

	res, err := s.db.ExecContext(ctx, q, blob, s.timestamp(), messageID)
	if err != nil {
		return classify(op, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(op, "message")
	}

	return nil
}

// MessagesMissingEmbedding returns up to limit messages that still need an
// embedding and were inserted after afterSeq, oldest first.
func (s *Store) MessagesMissingEmbedding(ctx context.Context, afterSeq int64, limit int) ([]PendingMessage, error) {
	const op = "memory.MessagesMissingEmbedding"

	if limit <= 0 {
		limit = defaultLimit
	}

	q, err := s.queries.Load(querySelectMessagesMissingEmbedding)
	if err != nil {
		return nil, classify(op, err)
	}

	rows, err := s.db.QueryContext(ctx, q, afterSeq, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []PendingMessage
	for rows.Next() {
		var seq int64
		m, err := scanMessage(rows, &seq)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, PendingMessage{Message: *m, Seq: seq})
	}

	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	return out, nil
}

func collectMessages(op string, rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	return out, nil
}

func scanMessage(row rowScanner, extra ...any) (*Message, error) {
	var (
		m                    Message
		blob                 []byte
		createdAt, updatedAt string
	)

	dest := append([]any{&m.ID, &m.ConversationID, &m.UserID, &m.Content, &blob, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if m.Embedding, err = deserializeEmbedding(blob); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &m, nil
}
