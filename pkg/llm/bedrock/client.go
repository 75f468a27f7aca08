// Package bedrock serves Anthropic models hosted on AWS Bedrock. Bedrock's
// InvokeModel is request/response, so Stream replays the finished response.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/user/burrow/pkg/llm"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 4096
)

// invoker is the subset of the Bedrock runtime client used here.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Client struct {
	config *llm.Config
	api    invoker
}

// New loads the default AWS credential chain. config.Region overrides the
// region it resolves; config.BaseURL overrides the endpoint.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	api := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if config.BaseURL != "" {
			o.BaseEndpoint = aws.String(config.BaseURL)
		}
	})
	return &Client{config: config, api: api}, nil
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type toolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type request struct {
	AnthropicVersion string     `json:"anthropic_version"`
	MaxTokens        int        `json:"max_tokens"`
	System           string     `json:"system,omitempty"`
	Messages         []message  `json:"messages"`
	Tools            []toolSpec `json:"tools,omitempty"`
	Temperature      *float32   `json:"temperature,omitempty"`
}

type response struct {
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.config.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking model: %w", err)
	}

	var resp response
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	result := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, llm.NewToolCall(block.ID, block.Name, block.Input))
		}
	}
	return result, nil
}

func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.Replay(resp), nil
}

func (c *Client) buildRequest(req *llm.Request) request {
	out := request{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.MaxTokens,
		System:           req.System,
		Temperature:      req.Temperature,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = c.config.MaxTokens
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if out.Temperature == nil && c.config.Temperature != 0 {
		t := c.config.Temperature
		out.Temperature = &t
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleAssistant:
			m := message{Role: "assistant"}
			if msg.Content != "" {
				m.Content = append(m.Content, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.Tools {
				m.Content = append(m.Content, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: tc.Function.Arguments})
			}
			if len(m.Content) > 0 {
				out.Messages = append(out.Messages, m)
			}
		case llm.RoleTool:
			m := message{Role: "user"}
			for _, r := range msg.Results {
				m.Content = append(m.Content, contentBlock{Type: "tool_result", ToolUseID: r.CallID, Content: r.Content})
			}
			if len(m.Content) > 0 {
				out.Messages = append(out.Messages, m)
			}
		default:
			if msg.Content != "" {
				out.Messages = append(out.Messages, message{Role: "user", Content: []contentBlock{{Type: "text", Text: msg.Content}}})
			}
		}
	}

	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, toolSpec{Name: t.Function.Name, Description: t.Function.Description, InputSchema: schema})
	}
	return out
}
