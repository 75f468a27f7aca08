package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/user/burrow/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
// A non-empty BaseURL points it at any server speaking the same protocol.
type Client struct {
	config *llm.Config
	client openai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Client{
		config: config,
		client: openai.NewClient(opts...),
	}
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg := resp.Choices[0].Message
	out := &llm.Response{
		Content: msg.Content,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.NewToolCall(tc.ID, tc.Function.Name, llm.RawArgs(tc.Function.Arguments)))
	}
	return out, nil
}

// Stream sends a streaming chat completion request. Text deltas are forwarded
// as they arrive; tool calls are emitted once the stream has been fully accumulated.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan llm.StreamEvent, 16)

	go func() {
		defer close(ch)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !llm.Send(ctx, ch, llm.StreamEvent{Kind: llm.EventText, Text: text}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			llm.Send(ctx, ch, llm.StreamEvent{Kind: llm.EventError, Err: fmt.Errorf("reading stream: %w", err)})
			return
		}
		if len(acc.Choices) == 0 {
			return
		}
		for _, tc := range acc.Choices[0].Message.ToolCalls {
			call := llm.NewToolCall(tc.ID, tc.Function.Name, llm.RawArgs(tc.Function.Arguments))
			if !llm.Send(ctx, ch, llm.StreamEvent{Kind: llm.EventToolCall, Call: &call}) {
				return
			}
		}
	}()

	return ch, nil
}

func (c *Client) params(req *llm.Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.config.Model),
		Messages: convertMessages(req.System, req.Messages),
	}

	tools, err := convertTools(req.Tools)
	if err != nil {
		return params, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	} else if c.config.Temperature != 0 {
		params.Temperature = openai.Float(float64(c.config.Temperature))
	}
	return params, nil
}

func convertMessages(system string, messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.Tools {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: string(tc.Function.Arguments),
					},
				})
			}
			out = append(out, assistant.ToParam())
		case llm.RoleTool:
			for _, r := range msg.Results {
				out = append(out, openai.ToolMessage(r.Content, r.CallID))
			}
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []llm.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		params := openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &params); err != nil {
				return nil, fmt.Errorf("decoding schema for %s: %w", t.Function.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
			Parameters:  params,
		}))
	}
	return out, nil
}
