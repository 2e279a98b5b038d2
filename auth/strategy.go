// Package auth supplies credentials to the QuickBase transport.
//
// The transport asks a Strategy for a token before every attempt, lets it
// decorate the outgoing request, and consults it again when QuickBase
// answers 401. The only built-in strategy is the user token:
//
//	strategy := auth.NewUserTokenStrategy(os.Getenv("QUICKBASE_USER_TOKEN"))
//	c, err := client.New("myrealm", strategy)
//
// Generate a user token at https://YOUR-REALM.quickbase.com/db/main?a=UserTokens
package auth

import (
	"context"
	"net/http"
)

// Strategy provides and applies credentials for one realm.
type Strategy interface {
	// GetToken returns the token to use for a request against dbid (a table
	// or app id, possibly empty). Strategies with global tokens ignore dbid.
	GetToken(ctx context.Context, dbid string) (string, error)

	// ApplyAuth sets the authorization header(s) on req.
	ApplyAuth(req *http.Request, token string)

	// HandleAuthError is called after a 401. A non-empty token means the
	// request should be retried with it; an empty token ends the retries.
	HandleAuthError(ctx context.Context, statusCode int, dbid string, attempt int, maxAttempts int) (string, error)
}
