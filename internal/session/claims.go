package session

import (
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"medivault/pkg/domain"
)

type tokenClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// identityFromToken reconstructs an Identity from a token's unverified
// claims. The signature is not checked: the backend remains the authority
// and rejects a forged or revoked token on first use.
func identityFromToken(token string, now time.Time) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return domain.Identity{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	display := strings.TrimSpace(claims.Name)
	if display == "" {
		display = subject
	}
	return domain.Identity{Username: subject, DisplayName: display, Token: token}, nil
}
