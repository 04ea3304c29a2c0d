package memory

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/bowerhall/mira/internal/apperr"
)

// CreateConversation inserts the conversation and one participant row per
// user in a single transaction. Any failed participant insert rolls back
// the conversation as well.
func (s *Store) CreateConversation(ctx context.Context, userIDs []string) (*Conversation, error) {
	const op = "memory.CreateConversation"

	members := dedupe(userIDs)
	if len(members) == 0 {
		return nil, apperr.Validation(op, "at least one participant is required")
	}

	insertConv, err := s.queries.Load(queryInsertConversation)
	if err != nil {
		return nil, classify(op, err)
	}
	insertPart, err := s.queries.Load(queryInsertParticipant)
	if err != nil {
		return nil, classify(op, err)
	}

	ts := s.timestamp()
	id := uuid.NewString()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertConv, id, ts, ts); err != nil {
			return err
		}

		for _, userID := range members {
			if _, err := tx.ExecContext(ctx, insertPart, id, userID, ts); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}

	created, _ := parseTime(ts)

	return &Conversation{ID: id, CreatedAt: created, UpdatedAt: created}, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	const op = "memory.GetConversation"

	q, err := s.queries.Load(querySelectConversation)
	if err != nil {
		return nil, classify(op, err)
	}

	c, err := scanConversation(s.db.QueryRowContext(ctx, q, id))
	if isNoRows(err) {
		return nil, notFound(op, "conversation")
	}
	if err != nil {
		return nil, classify(op, err)
	}

	return c, nil
}

// GetConversations lists the user's conversations, most recently active
// first.
func (s *Store) GetConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const op = "memory.GetConversations"

	q, err := s.queries.Load(querySelectConversationsByUser)
	if err != nil {
		return nil, classify(op, err)
	}

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	return out, nil
}

func (s *Store) GetParticipants(ctx context.Context, conversationID string) ([]Participant, error) {
	const op = "memory.GetParticipants"

	q, err := s.queries.Load(querySelectParticipants)
	if err != nil {
		return nil, classify(op, err)
	}

	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var (
			p         Participant
			createdAt string
		)
		if err := rows.Scan(&p.ConversationID, &p.UserID, &createdAt); err != nil {
			return nil, classify(op, err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, classify(op, err)
		}
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	return out, nil
}

// DeleteConversation removes the conversation with its messages and
// participants. Deleting an unknown id is a no-op.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	const op = "memory.DeleteConversation"

	q, err := s.queries.Load(queryDeleteConversation)
	if err != nil {
		return classify(op, err)
	}

	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return classify(op, err)
	}

	return nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                    Conversation
		createdAt, updatedAt string
	)

	if err := row.Scan(&c.ID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &c, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
