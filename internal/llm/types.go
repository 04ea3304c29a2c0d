package llm

import (
	"context"

	"github.com/bowerhall/mira/internal/stream"
)

type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// Response is one completed model turn.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      *Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func (u *Usage) add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Emit receives chunks as the model produces them. A non-nil error aborts
// the turn.
type Emit func(stream.Chunk) error

// Provider streams one model turn. Text deltas and tool-call starts are
// emitted as they arrive; completed tool calls are returned in the
// Response.
type Provider interface {
	Stream(ctx context.Context, req Request, emit Emit) (*Response, error)
	Provider() string
	Model() string
}
