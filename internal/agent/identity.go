package agent

import (
	"context"
	"errors"

	"github.com/dgraph-io/ristretto"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/logger"
	"github.com/bowerhall/mira/internal/memory"
)

func newIdentityCache() (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
}

func hostKey(hostname string) string { return "host:" + hostname }

func convKey(userID string) string { return "conv:" + userID }

func (a *Agent) remember(key string, value any) {
	a.identities.Set(key, value, 1)
	a.identities.Wait()
}

// Bootstrap resolves the agent's own user, creating it on first start.
func (a *Agent) Bootstrap(ctx context.Context) error {
	self, err := a.store.GetUser(ctx, memory.AgentUser())
	if errors.Is(err, memory.ErrNotFound) {
		self, err = a.store.CreateUser(ctx, true, a.hostname)
		if errors.Is(err, memory.ErrAlreadyExists) {
			self, err = a.store.GetUser(ctx, memory.AgentUser())
		}
		if err == nil {
			logger.Info("agent user created", "id", self.ID, "hostname", self.Hostname)
		}
	}
	if err != nil {
		return err
	}

	a.self = self
	return nil
}

// Self is the agent's user, nil before Bootstrap.
func (a *Agent) Self() *memory.User {
	return a.self
}

func (a *Agent) resolveUser(ctx context.Context, hostname string) (*memory.User, error) {
	const op = "agent.resolveUser"

	if v, ok := a.identities.Get(hostKey(hostname)); ok {
		return v.(*memory.User), nil
	}

	user, err := a.store.GetUser(ctx, memory.ByHostname(hostname))
	if errors.Is(err, memory.ErrNotFound) {
		user, err = a.store.CreateUser(ctx, false, hostname)
		if errors.Is(err, memory.ErrAlreadyExists) {
			user, err = a.store.GetUser(ctx, memory.ByHostname(hostname))
		}
		if err == nil {
			logger.Debug("user created", "id", user.ID, "hostname", hostname)
		}
	}
	if err != nil {
		return nil, err
	}

	if user.IsAgent {
		return nil, apperr.Validation(op, "hostname is reserved for the agent")
	}

	a.remember(hostKey(hostname), user)
	return user, nil
}

// resolveConversation returns requested when the user participates in it,
// otherwise the user's most recent conversation, creating one with the
// agent if there is none.
func (a *Agent) resolveConversation(ctx context.Context, user *memory.User, requested string) (string, error) {
	const op = "agent.resolveConversation"

	if requested != "" {
		participants, err := a.store.GetParticipants(ctx, requested)
		if err != nil {
			return "", err
		}
		if len(participants) == 0 {
			return "", &apperr.Error{Kind: apperr.KindBusinessLogic, Op: op, Msg: "conversation", Err: memory.ErrNotFound}
		}
		for _, p := range participants {
			if p.UserID == user.ID {
				return requested, nil
			}
		}
		return "", apperr.New(apperr.KindBusinessLogic, op, "user is not a participant")
	}

	if v, ok := a.identities.Get(convKey(user.ID)); ok {
		return v.(string), nil
	}

	convs, err := a.store.GetConversations(ctx, user.ID)
	if err != nil {
		return "", err
	}

	var id string
	if len(convs) > 0 {
		id = convs[0].ID
	} else {
		conv, err := a.store.CreateConversation(ctx, []string{user.ID, a.self.ID})
		if err != nil {
			return "", err
		}
		id = conv.ID
		logger.Debug("conversation created", "id", id, "user", user.ID)
	}

	a.remember(convKey(user.ID), id)
	return id, nil
}

func (a *Agent) forgetIdentities(participants []memory.Participant) {
	for _, p := range participants {
		a.identities.Del(convKey(p.UserID))
	}
}
