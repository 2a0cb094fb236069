// Package providers adapts vendor LLM SDKs to the agent.Provider interface.
// Adapters translate the engine's neutral message shape into each vendor's
// API and back; the engine never handles vendor types directly.
package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/webwraith/wraith/internal/agent"
)

// OpenAIProvider implements agent.Provider over chat completions with
// function calling, plus multi-content vision requests.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an adapter. baseURL overrides the API endpoint
// for OpenAI-compatible gateways; empty means the public API.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name identifies the backend in logs and traces.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete asks for the next assistant action.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []agent.Message, tools []agent.ToolSchema) (agent.AssistantAction, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty choices")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return agent.Respond{Text: msg.Content}, nil
	}

	calls := make([]agent.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai tool call %s: bad arguments: %w", tc.ID, err)
			}
		}
		calls = append(calls, agent.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return agent.ToolCalls{Calls: calls}, nil
}

// Vision describes an image with a single multi-content user message.
func (p *OpenAIProvider) Vision(ctx context.Context, imagePNG []byte, prompt, detail string) (string, error) {
	imageDetail := openai.ImageURLDetail(detail)
	if imageDetail == "" {
		imageDetail = openai.ImageURLDetailLow
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imagePNG)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: imageDetail,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai vision: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai vision: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []agent.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
