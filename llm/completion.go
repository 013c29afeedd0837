// Package llm is the boundary to the external language model used to turn
// free-text posts into structured records.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"fleamarket-scraper/models"
)

const (
	// DefaultTemperature is used for every extraction call.
	DefaultTemperature float32 = 0.2

	// ZeroTemperature asks for the least random sampling the API accepts.
	ZeroTemperature float32 = -1
)

// Request is one completion call. ImageURL, when set, makes the call a
// vision request with the prompt and image as a single user message.
// A zero Temperature means DefaultTemperature; use ZeroTemperature for 0.
type Request struct {
	System      string
	Prompt      string
	ImageURL    string
	Temperature float32
	MaxTokens   int
}

// CompletionService returns the raw text of the model's answer.
// Implementations wrap network and service failures with models.ErrTransport.
type CompletionService interface {
	Complete(ctx context.Context, req Request) (string, error)
}

var leadingFence = regexp.MustCompile("^```[a-zA-Z]*")

// StripFence removes an optional ```json ... ``` wrapper.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = leadingFence.ReplaceAllString(text, "")
		text = strings.Trim(text, "` \n\r\t")
	}
	return text
}

// DecodeJSON strips code fences from text and decodes it into v. Failures
// wrap models.ErrDecode.
func DecodeJSON(text string, v any) error {
	body := StripFence(text)
	if body == "" {
		return fmt.Errorf("llm: empty response: %w", models.ErrDecode)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("llm: %v: %w", err, models.ErrDecode)
	}
	return nil
}
