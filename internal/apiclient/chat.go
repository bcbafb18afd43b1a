package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrEmptyReply is returned when the chat endpoint answers without text.
var ErrEmptyReply = errors.New("chat response missing reply text")

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response *string `json:"response"`
}

// Chat sends one message and returns the assistant's reply. Only the new
// message is transmitted; conversation context is kept by the backend.
func (c *Client) Chat(ctx context.Context, token, message string) (string, error) {
	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat/", token, chatRequest{Message: message}, &resp); err != nil {
		return "", err
	}
	if resp.Response == nil || strings.TrimSpace(*resp.Response) == "" {
		return "", ErrEmptyReply
	}
	return *resp.Response, nil
}
