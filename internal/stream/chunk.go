// Package stream encodes generation chunks into the line-framed protocol
// forwarded verbatim to clients.
package stream

import (
	"bytes"
	"encoding/json"
)

type Kind string

const (
	KindTextDelta         Kind = "text-delta"
	KindToolCallStreaming Kind = "tool-call-streaming-start"
	KindToolCall          Kind = "tool-call"
	KindToolResult        Kind = "tool-result"
	KindReasoning         Kind = "reasoning"
	KindStepFinish        Kind = "step-finish"
)

// Chunk is one incremental piece of generation output.
type Chunk struct {
	Kind       Kind
	Text       string
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Result     any
}

func TextDelta(text string) Chunk {
	return Chunk{Kind: KindTextDelta, Text: text}
}

func ToolCallStart(id, name string) Chunk {
	return Chunk{Kind: KindToolCallStreaming, ToolCallID: id, ToolName: name}
}

func ToolCall(id, name string, args json.RawMessage) Chunk {
	return Chunk{Kind: KindToolCall, ToolCallID: id, ToolName: name, Args: args}
}

func ToolResult(id string, result any) Chunk {
	return Chunk{Kind: KindToolResult, ToolCallID: id, Result: result}
}

type toolCallStartPayload struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

type toolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

type toolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Result     any    `json:"result"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Encode renders c as one newline-terminated frame. ok is false for kinds
// the protocol does not carry.
func Encode(c Chunk) (frame []byte, ok bool, err error) {
	var (
		prefix  string
		payload any
	)

	switch c.Kind {
	case KindTextDelta:
		prefix, payload = "0:", c.Text
	case KindToolCallStreaming:
		prefix, payload = "b:", toolCallStartPayload{ToolCallID: c.ToolCallID, ToolName: c.ToolName}
	case KindToolCall:
		args := c.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		prefix, payload = "9:", toolCallPayload{ToolCallID: c.ToolCallID, ToolName: c.ToolName, Args: args}
	case KindToolResult:
		prefix, payload = "a:", toolResultPayload{ToolCallID: c.ToolCallID, Result: c.Result}
	default:
		return nil, false, nil
	}

	body, err := marshal(payload)
	if err != nil {
		return nil, false, err
	}

	frame = make([]byte, 0, len(prefix)+len(body)+1)
	frame = append(frame, prefix...)
	frame = append(frame, body...)
	frame = append(frame, '\n')

	return frame, true, nil
}

// EncodeError renders the terminal error frame.
func EncodeError(message string) []byte {
	body, _ := marshal(errorPayload{Message: message})

	frame := make([]byte, 0, len(body)+22)
	frame = append(frame, "event: error\ndata: "...)
	frame = append(frame, body...)
	frame = append(frame, "\n\n"...)

	return frame
}

// marshal is json.Marshal without HTML escaping, matching what browser
// clients produce for the same payload.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
