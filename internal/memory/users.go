package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/bowerhall/mira/internal/apperr"
)

// CreateUser registers a caller (or the agent identity). Hostnames are
// unique and only one agent may exist.
func (s *Store) CreateUser(ctx context.Context, isAgent bool, hostname string) (*User, error) {
	const op = "memory.CreateUser"

	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, apperr.Validation(op, "hostname is required")
	}

	q, err := s.queries.Load(queryInsertUser)
	if err != nil {
		return nil, classify(op, err)
	}

	ts := s.timestamp()
	id := uuid.NewString()

	if _, err := s.db.ExecContext(ctx, q, id, hostname, isAgent, ts, ts); err != nil {
		return nil, classify(op, err)
	}

	created, _ := parseTime(ts)

	return &User{
		ID:        id,
		Hostname:  hostname,
		IsAgent:   isAgent,
		CreatedAt: created,
		UpdatedAt: created,
	}, nil
}

func (s *Store) GetUser(ctx context.Context, lookup UserLookup) (*User, error) {
	const op = "memory.GetUser"

	var (
		name string
		args []any
	)

	switch l := lookup.(type) {
	case ByID:
		if l == "" {
			return nil, apperr.Validation(op, "empty id")
		}
		name, args = querySelectUserByID, []any{string(l)}
	case ByHostname:
		hostname := strings.TrimSpace(string(l))
		if hostname == "" {
			return nil, apperr.Validation(op, "empty hostname")
		}
		name, args = querySelectUserByHostname, []any{hostname}
	case agentLookup:
		name = querySelectAgentUser
	default:
		return nil, apperr.Validation(op, "a lookup discriminator is required")
	}

	q, err := s.queries.Load(name)
	if err != nil {
		return nil, classify(op, err)
	}

	u, err := scanUser(s.db.QueryRowContext(ctx, q, args...))
	if isNoRows(err) {
		return nil, notFound(op, "user")
	}
	if err != nil {
		return nil, classify(op, err)
	}

	return u, nil
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                    User
		createdAt, updatedAt string
	)

	if err := row.Scan(&u.ID, &u.Hostname, &u.IsAgent, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &u, nil
}
