package llms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/treeline-ai/treeline/pkg/config"
	"github.com/treeline-ai/treeline/pkg/httpclient"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint. It works
// against openai.com, Azure OpenAI deployments, and local inference
// servers that expose the same API shape.
type OpenAI struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAI builds a chat adapter from config.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	return &OpenAI{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay*float64(time.Second))),
		),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ModelName implements Chat.
func (o *OpenAI) ModelName() string { return o.model }

// Complete implements Chat.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body := chatRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}
	return o.call(ctx, body)
}

// DescribeImage implements Vision using a multimodal chat message with
// an inline base64 data URL.
func (o *OpenAI) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	content := []map[string]any{
		{"type": "text", "text": "Describe this image in detail, including any text, diagrams, or data it contains."},
		{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
	}
	body := chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		MaxTokens:   500,
		Temperature: 0.2,
	}
	return o.call(ctx, body)
}

func (o *OpenAI) call(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat completion error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
