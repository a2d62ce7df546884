// Package nonce issues and verifies the short-lived CSRF tokens required on
// authenticated write-tool executions.
package nonce

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// Action scopes every token this service produces. Tokens for other actions
// never verify here.
const Action = "wmcp_execute"

// DefaultTick is the token rotation interval. A token stays valid for the
// tick it was issued in plus the following one, so its lifetime is between
// one and two ticks.
const DefaultTick = 12 * time.Hour

// Service issues stateless HMAC tokens bound to a caller ID and the current
// time tick. Nothing is stored server-side; verification recomputes the
// expected token for the current and previous tick.
type Service struct {
	secret []byte
	tick   time.Duration
	now    func() time.Time
}

// NewService creates a token service. If secret is empty a random one is
// generated, which invalidates outstanding tokens across restarts — clients
// recover by refreshing through the nonce endpoint.
func NewService(secret []byte, tick time.Duration) (*Service, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate nonce secret: %w", err)
		}
	}
	if tick == 0 {
		tick = DefaultTick
	}
	return &Service{
		secret: secret,
		tick:   tick,
		now:    time.Now,
	}, nil
}

// Issue returns a fresh token for the given caller ID.
func (s *Service) Issue(userID int64) string {
	return s.tokenFor(userID, s.currentTick())
}

// Verify reports whether token is valid for the caller ID. Tokens from the
// current and previous tick are accepted; comparison is constant-time.
func (s *Service) Verify(userID int64, token string) bool {
	if token == "" {
		return false
	}
	current := s.currentTick()
	for _, tick := range []int64{current, current - 1} {
		expected := s.tokenFor(userID, tick)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func (s *Service) currentTick() int64 {
	return s.now().UnixNano() / int64(s.tick)
}

func (s *Service) tokenFor(userID int64, tick int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s|%d|%d", Action, userID, tick)
	return hex.EncodeToString(h.Sum(nil))
}
