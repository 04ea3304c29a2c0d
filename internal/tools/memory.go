package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/llm"
	"github.com/bowerhall/mira/internal/memory"
)

const (
	defaultRecallLimit = 5
	maxRecallLimit     = 20
)

type RecallArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type MessageSearcher interface {
	GetMessages(ctx context.Context, conversationID string, q memory.MessageQuery) ([]memory.Message, error)
}

// RegisterMemoryTools exposes similarity search over the current
// conversation. The conversation comes from the call's context, never
// from model-supplied arguments.
func RegisterMemoryTools(registry *Registry, embedder Embedder, messages MessageSearcher) {
	recallTool := llm.Tool{
		Name:        "recall_messages",
		Description: "Search earlier messages in this conversation for ones related to a topic. Use this when the user refers to something said before that is not in the recent context.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for (e.g., 'the recipe we discussed', 'my sister's birthday')",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of messages to return. Default: 5.",
				},
			},
			"required": []string{"query"},
		},
	}

	registry.Register(recallTool, func(ctx context.Context, args string) (string, error) {
		var params RecallArgs
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", apperr.Validation("recall_messages", fmt.Sprintf("invalid arguments: %v", err))
		}
		if strings.TrimSpace(params.Query) == "" {
			return "", apperr.Validation("recall_messages", "query is required")
		}

		conversationID := ConversationIDFromContext(ctx)
		if conversationID == "" {
			return "", apperr.New(apperr.KindBusinessLogic, "recall_messages", "no conversation in scope")
		}

		limit := params.Limit
		if limit <= 0 {
			limit = defaultRecallLimit
		}
		if limit > maxRecallLimit {
			limit = maxRecallLimit
		}

		vec, err := embedder.Embed(ctx, params.Query)
		if err != nil {
			return "", err
		}

		found, err := messages.GetMessages(ctx, conversationID, memory.MessageQuery{Embedding: vec, Limit: limit})
		if err != nil {
			return "", err
		}

		if len(found) == 0 {
			return "No related messages found.", nil
		}

		var sb strings.Builder
		sb.WriteString("Related messages:\n")
		for _, m := range found {
			fmt.Fprintf(&sb, "- [%s] %s\n", m.CreatedAt.UTC().Format(time.RFC3339), m.Content)
		}

		return sb.String(), nil
	})
}
