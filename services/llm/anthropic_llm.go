package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`
	Tools     []toolsDefinition  `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type toolsDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"` // JSON Schema
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	apiKey     *memguard.Enclave
	model      string
	baseURL    string
}

func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey, err := loadAPIKey("ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key")
	if err != nil {
		slog.Warn("Anthropic API key is missing.")
		return nil, err
	}

	model := os.Getenv("CLAUDE_MODEL")
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
	}, nil
}

// Complete implements the ReasoningClient interface.
func (a *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var apiMessages []anthropicMessage
	for _, msg := range req.Messages {
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	// System prompt goes in the top-level block; cache long ones.
	var systemBlocks []systemBlock
	if req.System != "" {
		block := systemBlock{Type: "text", Text: req.System}
		if len(req.System) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	reqPayload := anthropicRequest{
		Model:     a.model,
		Messages:  apiMessages,
		System:    systemBlocks,
		MaxTokens: maxTokens,
	}
	for _, tool := range req.Tools {
		reqPayload.Tools = append(reqPayload.Tools, toolsDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, &ProviderError{Class: ClassBadRequest, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, &ProviderError{Class: ClassBadRequest, Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	key, wipe, err := openKey(a.apiKey)
	if err != nil {
		return nil, &ProviderError{Class: ClassUnauthenticated, Message: err.Error()}
	}
	httpReq.Header.Set("x-api-key", key)
	wipe()
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", a.model, "tools", len(req.Tools))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ProviderError{Class: ClassTimeout, Message: err.Error()}
		}
		return nil, &ProviderError{Class: ClassServer, Message: fmt.Sprintf("HTTP request failed: %v", err)}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    string(bodyBytes),
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, &ProviderError{Class: ClassServer, Message: fmt.Sprintf("failed to parse response JSON: %v", err)}
	}

	if apiResp.Error != nil {
		return nil, &ProviderError{
			Class:   ClassServer,
			Message: fmt.Sprintf("%s - %s", apiResp.Error.Type, apiResp.Error.Message),
		}
	}

	completion := &Completion{}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			completion.Text += block.Text
		case "tool_use":
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	if apiResp.Usage != nil {
		completion.Usage = datatypes.TokenUsage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}

	return completion, nil
}
