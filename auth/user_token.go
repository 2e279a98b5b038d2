package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrMissingUserToken is returned by GetToken when no token was configured.
var ErrMissingUserToken = errors.New("auth: user token is empty; set QUICKBASE_USER_TOKEN or config userToken")

// UserTokenStrategy authenticates every request with one long-lived user token.
type UserTokenStrategy struct {
	token string
}

// NewUserTokenStrategy creates a user token strategy. Surrounding whitespace
// (a common leftover from .env files) is trimmed.
func NewUserTokenStrategy(token string) *UserTokenStrategy {
	return &UserTokenStrategy{token: strings.TrimSpace(token)}
}

// GetToken returns the user token; dbid is ignored.
func (s *UserTokenStrategy) GetToken(ctx context.Context, dbid string) (string, error) {
	if s.token == "" {
		return "", ErrMissingUserToken
	}
	return s.token, nil
}

// ApplyAuth sets "Authorization: QB-USER-TOKEN <token>".
func (s *UserTokenStrategy) ApplyAuth(req *http.Request, token string) {
	req.Header.Set("Authorization", "QB-USER-TOKEN "+token)
}

// HandleAuthError retries a 401 once more with the same token, except on the
// final attempt. User tokens cannot be refreshed, so a second 401 is final.
func (s *UserTokenStrategy) HandleAuthError(ctx context.Context, statusCode int, dbid string, attempt int, maxAttempts int) (string, error) {
	if statusCode != http.StatusUnauthorized || attempt > 1 || attempt >= maxAttempts {
		return "", nil
	}
	return s.token, nil
}
