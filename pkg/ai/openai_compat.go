package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls an OpenAI-compatible /chat/completions
// endpoint (vLLM, LiteLLM, LocalAI and similar). baseURL includes the /v1
// prefix.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAICompatGenerator(baseURL, apiKey, model string, httpClient *http.Client) *OpenAICompatGenerator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAICompatGenerator{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: httpClient,
	}
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", errors.New("openai-compat generation model required")
	}
	if g.baseURL == "" {
		return "", errors.New("openai-compat base url required")
	}
	var resp completionResponse
	err := postJSON(ctx, g.httpClient, g.baseURL+"/chat/completions", g.apiKey, completionRequest{
		Model:    g.model,
		Messages: buildMessages(systemPrompt, userPrompt),
	}, &resp, func(dec *json.Decoder) string {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = dec.Decode(&body)
		return body.Error.Message
	})
	if err != nil {
		return "", fmt.Errorf("openai-compat generate: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("empty response from openai-compat api")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
