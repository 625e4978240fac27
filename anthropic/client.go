// Package anthropic implements the itinerary generation client on top of the
// Anthropic Claude Messages API. It translates the planner's message log and
// tool set into anthropic.Message calls and maps response blocks (text, tool
// use) back into generation results.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/deepnoodle-ai/coastline"
)

// MessagesClient captures the subset of the Anthropic SDK client used here.
// It is satisfied by *sdk.MessageService so callers can pass either a real
// client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the generation client.
type Options struct {
	// Model is the Claude model identifier. Use the typed model constants
	// from github.com/anthropics/anthropic-sdk-go.
	Model string

	// MaxTokens caps the completion length. Zero means 8192.
	MaxTokens int64

	// Temperature is forwarded when positive.
	Temperature float64
}

// Client implements coastline.GenerationClient on top of Claude Messages.
type Client struct {
	msg         MessagesClient
	model       string
	maxTokens   int64
	temperature float64
}

// New builds a generation client from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Client{
		msg:         msg,
		model:       opts.Model,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Generate issues a non-streaming Messages.New request and translates the
// response into the planner's generic structures.
func (c *Client) Generate(ctx context.Context, req coastline.GenerationRequest) (*coastline.GenerationResponse, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", coastline.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg)
}

func (c *Client) prepareRequest(req coastline.GenerationRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: c.maxTokens,
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if len(system) > 0 {
		params.System = system
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	return &params, nil
}

func encodeMessages(msgs []coastline.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, 1)

	for _, m := range msgs {
		switch m.Role {
		case coastline.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case coastline.RoleUser:
			if m.Content == "" {
				continue
			}
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case coastline.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				var input any
				if len(call.Input) > 0 {
					if err := json.Unmarshal(call.Input, &input); err != nil {
						return nil, nil, fmt.Errorf("anthropic: tool call %s input: %w", call.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, string(call.Kind)))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case coastline.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []coastline.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		if def.Description == "" {
			return nil, fmt.Errorf("anthropic: tool %q is missing description", def.Name)
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, nil
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{
		ExtraFields: m,
	}, nil
}

func translateResponse(msg *sdk.Message) (*coastline.GenerationResponse, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &coastline.GenerationResponse{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, coastline.ToolCall{
				ID:    block.ID,
				Kind:  coastline.ToolKind(block.Name),
				Input: json.RawMessage(block.Input),
			})
		}
	}
	return resp, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
