package tools

import (
	"context"
	"sync"

	"github.com/bowerhall/mira/internal/llm"
)

type Handler func(ctx context.Context, args string) (string, error)

type Registry struct {
	mu       sync.RWMutex
	tools    []llm.Tool
	handlers map[string]Handler
}

type contextKey string

const (
	ConversationIDKey contextKey = "conversation_id"
	UserIDKey         contextKey = "user_id"
)

// WithConversation scopes tool calls made under ctx to one conversation.
func WithConversation(ctx context.Context, conversationID, userID string) context.Context {
	ctx = context.WithValue(ctx, ConversationIDKey, conversationID)
	return context.WithValue(ctx, UserIDKey, userID)
}

func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ConversationIDKey).(string); ok {
		return v
	}
	return ""
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}
