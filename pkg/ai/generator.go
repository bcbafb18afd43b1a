// Package ai talks to text-generation backends used to answer questions
// about a user's records.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TextGenerator generates text from a system prompt and a user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Providers understood by NewGenerator.
const (
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
	ProviderGemini       = "gemini"
)

// NewGenerator builds the generator for provider. An empty provider returns
// nil, nil: the caller answers without a model.
func NewGenerator(provider, baseURL, apiKey, model string, httpClient *http.Client) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "":
		return nil, nil
	case ProviderOllama:
		return NewOllamaGenerator(baseURL, model, httpClient), nil
	case ProviderOpenAICompat:
		return NewOpenAICompatGenerator(baseURL, apiKey, model, httpClient), nil
	case ProviderGemini:
		if strings.TrimSpace(apiKey) == "" {
			return nil, fmt.Errorf("gemini requires an api key")
		}
		return NewGeminiGenerator(baseURL, apiKey, model, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildMessages(systemPrompt, userPrompt string) []message {
	messages := make([]message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, message{Role: "system", Content: systemPrompt})
	}
	return append(messages, message{Role: "user", Content: userPrompt})
}

// postJSON posts payload and decodes a 2xx reply into out. errMessage pulls
// the provider's error text out of a failed reply body.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload, out any, errMessage func(*json.Decoder) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if msg := errMessage(json.NewDecoder(resp.Body)); msg != "" {
			return fmt.Errorf("api error: %s", msg)
		}
		return fmt.Errorf("api error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
