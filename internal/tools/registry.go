package tools

import (
	"context"
	"fmt"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/llm"
)

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds tool, replacing any earlier tool with the same name.
func (r *Registry) Register(tool llm.Tool, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[tool.Name]; exists {
		for i := range r.tools {
			if r.tools[i].Name == tool.Name {
				r.tools[i] = tool
			}
		}
	} else {
		r.tools = append(r.tools, tool)
	}
	r.handlers[tool.Name] = handler
}

func (r *Registry) Tools() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]llm.Tool(nil), r.tools...)
}

func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok || handler == nil {
		return "", apperr.Validation("tools.Execute", fmt.Sprintf("unknown tool %q", name))
	}
	return handler(ctx, args)
}
