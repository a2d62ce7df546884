package gateway

import (
	"net/http"
	"strings"
	"sync"

	"github.com/code-atlantic/abridge/pkg/ability"
)

// Authenticator resolves the caller identity for a request. Session handling
// belongs to the host; the gateway only needs to know who is calling.
type Authenticator interface {
	Authenticate(r *http.Request) ability.Caller
}

// TokenAuthenticator maps static bearer tokens to user IDs. It is the
// built-in Authenticator for deployments without an external session system.
type TokenAuthenticator struct {
	tokens map[string]int64
	mu     sync.RWMutex
}

// NewTokenAuthenticator creates an authenticator from a token-to-user map.
func NewTokenAuthenticator(tokens map[string]int64) *TokenAuthenticator {
	if tokens == nil {
		tokens = make(map[string]int64)
	}
	return &TokenAuthenticator{tokens: tokens}
}

// AddToken registers a token for a user.
func (a *TokenAuthenticator) AddToken(token string, userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = userID
}

// Authenticate implements Authenticator. Requests without a valid
// "Authorization: Bearer" token are anonymous.
func (a *TokenAuthenticator) Authenticate(r *http.Request) ability.Caller {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return ability.Anonymous
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	userID, ok := a.tokens[token]
	if !ok {
		return ability.Anonymous
	}
	return ability.Caller{ID: userID, Authenticated: true}
}
