package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/webwraith/wraith/internal/agent"
)

const anthropicMaxTokens = 4096

// AnthropicProvider implements agent.Provider over the Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicProvider creates an adapter.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Name identifies the backend in logs and traces.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete asks for the next assistant action.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []agent.Message, tools []agent.ToolSchema) (agent.AssistantAction, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: anthropicMaxTokens,
	}

	converted, system, err := toAnthropicMessages(messages)
	if err != nil {
		return nil, err
	}
	params.Messages = converted
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	anthropicTools, err := toAnthropicTools(tools)
	if err != nil {
		return nil, err
	}
	params.Tools = anthropicTools

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	var calls []agent.ToolCall
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic tool call %s: bad input: %w", b.ID, err)
				}
			}
			calls = append(calls, agent.ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}

	if len(calls) > 0 {
		return agent.ToolCalls{Calls: calls}, nil
	}
	return agent.Respond{Text: text.String()}, nil
}

// Vision describes an image. Anthropic has no detail knob, so the hint is
// ignored.
func (p *AnthropicProvider) Vision(ctx context.Context, imagePNG []byte, prompt, detail string) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(imagePNG)
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", b64),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic vision: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}
	return text.String(), nil
}

// toAnthropicMessages converts the neutral history. System turns become the
// top-level system prompt; tool turns become user-role tool_result blocks.
func toAnthropicMessages(messages []agent.Message) ([]anthropic.MessageParam, string, error) {
	var result []anthropic.MessageParam
	var system string

	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, anyMap(tc.Args), tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, system, nil
}

func toAnthropicTools(tools []agent.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
