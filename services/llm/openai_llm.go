package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient() (*OpenAIClient, error) {
	keyEnclave, err := loadAPIKey("OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if err != nil {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found")
		return nil, err
	}

	// go-openai keeps the key in its own config for the client lifetime,
	// so the enclave is opened exactly once here.
	key, wipe, err := openKey(keyEnclave)
	if err != nil {
		return nil, err
	}
	client := openai.NewClient(key)
	wipe()

	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)

	return &OpenAIClient{client: client, model: model}, nil
}

// Complete implements the ReasoningClient interface.
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxCompletionTokens = req.MaxTokens
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, &ProviderError{Class: ClassServer, Message: "OpenAI returned no choices"}
	}

	choice := resp.Choices[0]
	completion := &Completion{
		Text: choice.Message.Content,
		Usage: datatypes.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	slog.Debug("Received response from OpenAI",
		"finish_reason", choice.FinishReason,
		"tool_calls", len(completion.ToolCalls))

	return completion, nil
}

// classifyOpenAIError maps go-openai errors onto the provider taxonomy.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Class:      classifyStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Class: ClassTimeout, Message: err.Error()}
	}
	return &ProviderError{Class: ClassServer, Message: fmt.Sprintf("OpenAI API call failed: %v", err)}
}
