// Package gemini adapts the Google Gemini API to llm.Provider.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/user/burrow/pkg/llm"
)

type Client struct {
	config *llm.Config
	client *genai.Client
}

func New(ctx context.Context, config *llm.Config) (*Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(config.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Client{config: config, client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	cs, parts, err := c.session(req)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	out := &llm.Response{}
	collect(resp, out)
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	cs, parts, err := c.session(req)
	if err != nil {
		return nil, err
	}
	iter := cs.SendMessageStream(ctx, parts...)
	ch := make(chan llm.StreamEvent, 16)

	go func() {
		defer close(ch)
		var calls []llm.ToolCall
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				llm.Send(ctx, ch, llm.StreamEvent{Kind: llm.EventError, Err: fmt.Errorf("reading stream: %w", err)})
				return
			}
			chunk := &llm.Response{}
			collect(resp, chunk)
			if chunk.Content != "" {
				if !llm.Send(ctx, ch, llm.StreamEvent{Kind: llm.EventText, Text: chunk.Content}) {
					return
				}
			}
			calls = append(calls, chunk.ToolCalls...)
		}
		for i := range calls {
			if !llm.Send(ctx, ch, llm.StreamEvent{Kind: llm.EventToolCall, Call: &calls[i]}) {
				return
			}
		}
	}()
	return ch, nil
}

// session builds a chat session whose history is everything but the last
// message; the last message's parts are returned for sending.
func (c *Client) session(req *llm.Request) (*genai.ChatSession, []genai.Part, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return nil, nil, fmt.Errorf("conversation must end with a user turn")
	}

	model := c.client.GenerativeModel(c.config.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	} else if c.config.Temperature != 0 {
		model.SetTemperature(c.config.Temperature)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	if len(req.Tools) > 0 {
		decls, err := convertTools(req.Tools)
		if err != nil {
			return nil, nil, err
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	last := contents[len(contents)-1]
	cs.History = contents[:len(contents)-1]
	return cs, last.Parts, nil
}

func collect(resp *genai.GenerateContentResponse, out *llm.Response) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Content += string(p)
		case genai.FunctionCall:
			args, err := json.Marshal(p.Args)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, llm.NewToolCall("call_"+uuid.NewString(), p.Name, args))
		}
	}
}

func convertMessages(messages []llm.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.Tools {
				var args map[string]any
				if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, genai.FunctionCall{Name: tc.Function.Name, Args: args})
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}
		case llm.RoleTool:
			content := &genai.Content{Role: "user"}
			for _, r := range msg.Results {
				content.Parts = append(content.Parts, genai.FunctionResponse{
					Name:     r.Name,
					Response: map[string]any{"content": r.Content},
				})
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}
		default:
			if msg.Content != "" {
				out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
			}
		}
	}
	return out, nil
}

func convertTools(tools []llm.Tool) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Function.Name, Description: t.Function.Description}
		if len(t.Function.Parameters) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(t.Function.Parameters, &raw); err != nil {
				return nil, fmt.Errorf("decoding schema for %s: %w", t.Function.Name, err)
			}
			if props, ok := raw["properties"].(map[string]any); ok && len(props) > 0 {
				decl.Parameters = convertSchema(raw)
			}
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// convertSchema maps the JSON Schema subset used by tool parameters onto genai.Schema.
func convertSchema(raw map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch raw["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := raw["enum"].([]any); ok {
		for _, e := range enum {
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = convertSchema(items)
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = convertSchema(pm)
			}
		}
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if str, ok := r.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	return s
}
