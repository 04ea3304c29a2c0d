package llm

import (
	"context"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bowerhall/mira/internal/stream"
)

type openAICompatible struct {
	client      openai.Client
	provider    string
	model       string
	maxTokens   int
	temperature float64
}

func newOpenAICompatible(provider string, cfg Config) Provider {
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		// retries are handled by WithRetries
		option.WithMaxRetries(0),
	)

	return &openAICompatible{
		client:      client,
		provider:    provider,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// pendingCall accumulates a tool call streamed across deltas.
type pendingCall struct {
	id        string
	name      string
	arguments string
	announced bool
}

func (o *openAICompatible) Stream(ctx context.Context, req Request, emit Emit) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            o.convertMessages(req.System, req.Messages),
		MaxCompletionTokens: openai.Int(int64(o.maxTokens)),
		Temperature:         openai.Float(o.temperature),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if len(req.Tools) > 0 {
		params.Tools = o.convertTools(req.Tools)
	}

	s := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	var (
		resp    Response
		calls   = make(map[int64]*pendingCall)
		started bool
	)

	for s.Next() {
		chunk := s.Current()
		started = true

		if chunk.Usage.TotalTokens > 0 {
			resp.Usage = &Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			resp.StopReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			resp.Content += choice.Delta.Content
			if err := emit(stream.TextDelta(choice.Delta.Content)); err != nil {
				return nil, err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &pendingCall{}
				calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name += tc.Function.Name
			}
			call.arguments += tc.Function.Arguments

			if !call.announced && call.id != "" && call.name != "" {
				call.announced = true
				if err := emit(stream.ToolCallStart(call.id, call.name)); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := s.Err(); err != nil {
		return nil, classifyProviderError(o.provider+".Stream", err, started)
	}

	indexes := make([]int64, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, idx := range indexes {
		call := calls[idx]
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: call.arguments,
		})
	}

	return &resp, nil
}

func (o *openAICompatible) convertMessages(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.SystemMessage(system))
	}

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				result = append(result, openai.AssistantMessage(msg.Content))
				continue
			}

			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case "tool":
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case "system":
			result = append(result, openai.SystemMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}

	return result
}

func (o *openAICompatible) convertTools(tools []Tool) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, len(tools))

	for i, tool := range tools {
		result[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		}
	}

	return result
}

func (o *openAICompatible) Provider() string {
	return o.provider
}

func (o *openAICompatible) Model() string {
	return o.model
}
