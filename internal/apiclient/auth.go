package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"medivault/pkg/domain"
)

// TokenResponse is the OAuth2 password-flow response of /auth/login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterRequest is the /auth/register payload.
type RegisterRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	FullName     string `json:"full_name,omitempty"`
	ProviderInfo string `json:"provider_info,omitempty"`
}

// Login exchanges credentials for an access token. The backend expects
// an OAuth2 password form, not JSON.
func (c *Client) Login(ctx context.Context, username, password string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp TokenResponse
	if err := c.do(req, &resp); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, payload RegisterRequest) (domain.Profile, error) {
	var profile domain.Profile
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", "", payload, &profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (c *Client) Me(ctx context.Context, token string) (domain.Profile, error) {
	var profile domain.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", token, nil, &profile); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}
