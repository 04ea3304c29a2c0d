package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/llm"
	"github.com/bowerhall/mira/internal/memory"
)

func TestRegistryRegisterAndExecute(t *testing.T) {
	r := NewRegistry()

	tool := llm.Tool{
		Name:        "test_tool",
		Description: "A test tool",
	}

	called := false
	r.Register(tool, func(ctx context.Context, args string) (string, error) {
		called = true
		return "result:" + args, nil
	})

	result, err := r.Execute(context.Background(), "test_tool", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !called {
		t.Error("handler was not called")
	}

	if result != "result:hello" {
		t.Errorf("expected 'result:hello', got '%s'", result)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "nonexistent", "args")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown tool, got: %v", err)
	}
}

func TestRegistryExecuteWithError(t *testing.T) {
	r := NewRegistry()

	expectedErr := errors.New("tool failed")
	r.Register(llm.Tool{Name: "failing_tool"}, func(ctx context.Context, args string) (string, error) {
		return "", expectedErr
	})

	_, err := r.Execute(context.Background(), "failing_tool", "")
	if err != expectedErr {
		t.Errorf("expected error '%v', got '%v'", expectedErr, err)
	}
}

func TestRegistryTools(t *testing.T) {
	r := NewRegistry()

	r.Register(llm.Tool{Name: "tool1", Description: "First"}, nil)
	r.Register(llm.Tool{Name: "tool2", Description: "Second"}, nil)
	r.Register(llm.Tool{Name: "tool3", Description: "Third"}, nil)
	r.Register(llm.Tool{Name: "tool2", Description: "Replaced"}, nil)

	tools := r.Tools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}

	if tools[1].Description != "Replaced" {
		t.Errorf("expected tool2 to be replaced in place, got %q", tools[1].Description)
	}
}

func TestConversationFromContext(t *testing.T) {
	ctx := WithConversation(context.Background(), "conv-1", "user-1")
	if id := ConversationIDFromContext(ctx); id != "conv-1" {
		t.Errorf("expected conv-1, got %s", id)
	}
	if id := UserIDFromContext(ctx); id != "user-1" {
		t.Errorf("expected user-1, got %s", id)
	}

	// no value
	if id := ConversationIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty for missing conversation, got '%s'", id)
	}
}

func TestCurrentTime(t *testing.T) {
	r := NewRegistry()
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	registerTimeTools(r, nil, func() time.Time { return fixed })

	out, err := r.Execute(context.Background(), "current_time", "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"05:06:07", "2026-03-04", "Wednesday", "Week: 10", "UTC"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

type stubEmbedder struct{ err error }

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, s.err
}

type stubSearcher struct {
	conversationID string
	query          memory.MessageQuery
	found          []memory.Message
}

func (s *stubSearcher) GetMessages(ctx context.Context, conversationID string, q memory.MessageQuery) ([]memory.Message, error) {
	s.conversationID = conversationID
	s.query = q
	return s.found, nil
}

func TestRecallMessages(t *testing.T) {
	r := NewRegistry()
	searcher := &stubSearcher{found: []memory.Message{
		{Content: "I adopted a cat named Miso", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}}
	RegisterMemoryTools(r, stubEmbedder{}, searcher)

	ctx := WithConversation(context.Background(), "conv-9", "user-1")
	out, err := r.Execute(ctx, "recall_messages", `{"query":"pets","limit":50}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if searcher.conversationID != "conv-9" {
		t.Errorf("expected search in conv-9, got %s", searcher.conversationID)
	}
	if searcher.query.Limit != maxRecallLimit {
		t.Errorf("expected limit clamped to %d, got %d", maxRecallLimit, searcher.query.Limit)
	}
	if !strings.Contains(out, "[2026-01-02T03:04:05Z] I adopted a cat named Miso") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRecallMessagesEmpty(t *testing.T) {
	r := NewRegistry()
	RegisterMemoryTools(r, stubEmbedder{}, &stubSearcher{})

	ctx := WithConversation(context.Background(), "conv-9", "user-1")
	out, err := r.Execute(ctx, "recall_messages", `{"query":"pets"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "No related messages found." {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRecallMessagesErrors(t *testing.T) {
	r := NewRegistry()
	RegisterMemoryTools(r, stubEmbedder{err: errors.New("model offline")}, &stubSearcher{})
	ctx := WithConversation(context.Background(), "conv-9", "user-1")

	if _, err := r.Execute(ctx, "recall_messages", `not json`); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error for bad args, got %v", err)
	}
	if _, err := r.Execute(ctx, "recall_messages", `{"query":"  "}`); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation error for blank query, got %v", err)
	}
	if _, err := r.Execute(context.Background(), "recall_messages", `{"query":"pets"}`); !apperr.IsKind(err, apperr.KindBusinessLogic) {
		t.Errorf("expected business logic error without conversation, got %v", err)
	}
	if _, err := r.Execute(ctx, "recall_messages", `{"query":"pets"}`); err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Errorf("expected embedder error, got %v", err)
	}
}
