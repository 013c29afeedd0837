package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"fleamarket-scraper/models"
)

// OpenAIClient is a CompletionService backed by the OpenAI chat API.
type OpenAIClient struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClient builds a client for model. baseURL may be empty to use the
// public endpoint. Every call is bounded by timeout.
func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout + 5*time.Second}

	return &OpenAIClient{
		api:     openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

// Complete sends one chat completion request and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		Temperature: wireTemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: %s: %w", describeError(err), models.ErrTransport)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response has no choices: %w", models.ErrDecode)
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	if req.ImageURL == "" {
		return append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	return append(msgs, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: req.ImageURL}},
		},
	})
}

func describeError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// wireTemperature maps a Request temperature to the value sent. The client
// omits a zero temperature from the request body, so ZeroTemperature is sent
// as the smallest positive float32.
func wireTemperature(t float32) float32 {
	switch {
	case t == ZeroTemperature:
		return math.SmallestNonzeroFloat32
	case t <= 0:
		return DefaultTemperature
	}
	return t
}
