package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/logger"
	"github.com/bowerhall/mira/internal/stream"
)

const defaultMaxSteps = 5

// ToolExecutor exposes tools to the model and runs the calls it makes.
type ToolExecutor interface {
	Tools() []Tool
	Execute(ctx context.Context, name string, args string) (string, error)
}

type Options struct {
	MaxSteps int
	Retry    RetryConfig
}

type Result struct {
	Text  string
	Steps int
	Usage Usage
}

// Generate runs up to MaxSteps model turns. Each turn is retried on
// transient failure; tool calls made in a turn are executed and their
// results fed into the next one. Frames reach emit in production order.
func Generate(ctx context.Context, p Provider, req Request, tools ToolExecutor, emit Emit, opts Options) (*Result, error) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	if req.Tools == nil && tools != nil {
		req.Tools = tools.Tools()
	}

	messages := append([]Message(nil), req.Messages...)

	var (
		text   strings.Builder
		result Result
	)

	for step := 1; step <= maxSteps; step++ {
		turn := req
		turn.Messages = messages

		resp, err := WithRetries(ctx, opts.Retry, func(ctx context.Context) (*Response, error) {
			return p.Stream(ctx, turn, emit)
		})
		if err != nil {
			return nil, err
		}

		result.Steps = step
		result.Usage.add(resp.Usage)
		text.WriteString(resp.Content)

		if len(resp.ToolCalls) == 0 {
			break
		}

		calls := make([]ToolCall, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			call.Arguments = repairArguments(call.Name, call.Arguments)
			calls[i] = call

			if err := emit(stream.ToolCall(call.ID, call.Name, json.RawMessage(call.Arguments))); err != nil {
				return nil, err
			}
		}

		messages = append(messages, Message{Role: "assistant", Content: resp.Content, ToolCalls: calls})

		for _, call := range calls {
			out := runTool(ctx, tools, call)

			if err := emit(stream.ToolResult(call.ID, resultPayload(out))); err != nil {
				return nil, err
			}

			messages = append(messages, Message{Role: "tool", Content: out, ToolCallID: call.ID})
		}

		if step == maxSteps {
			logger.Warn("generation stopped at step limit", "steps", maxSteps)
		}
	}

	result.Text = text.String()
	return &result, nil
}

// repairArguments returns valid JSON for a tool call's arguments, fixing
// truncated or sloppy output where possible.
func repairArguments(tool, args string) string {
	if trimmed := strings.TrimSpace(args); trimmed == "" || trimmed == "null" {
		return "{}"
	}
	if json.Valid([]byte(args)) {
		return args
	}

	repaired, err := jsonrepair.JSONRepair(args)
	if err != nil || !json.Valid([]byte(repaired)) {
		logger.Warn("discarding unparseable tool arguments", "tool", tool, "error", err)
		return "{}"
	}

	return repaired
}

// runTool never fails the turn; errors are reported back to the model as
// the tool's output.
func runTool(ctx context.Context, tools ToolExecutor, call ToolCall) string {
	if tools == nil {
		return fmt.Sprintf("error: tool %s is not available", call.Name)
	}

	out, err := tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		err = apperr.Wrap(apperr.KindToolExecution, call.Name, err)
		logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return "error: " + err.Error()
	}

	return out
}

func resultPayload(out string) any {
	if json.Valid([]byte(out)) {
		return json.RawMessage(out)
	}
	return out
}
