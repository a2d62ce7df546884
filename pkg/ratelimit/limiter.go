// Package ratelimit enforces fixed-window request limits for the gateway:
// per-(user,tool) execution limits with a per-user global ceiling, and
// per-IP discovery limits.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Default limits per window. All are overridable through Config.
const (
	DefaultPerToolLimit   = 30
	DefaultGlobalCeiling  = 100
	DefaultDiscoveryLimit = 60
	DefaultWindow         = 60 * time.Second
)

// Config holds the limiter's tunables. Zero values fall back to defaults.
type Config struct {
	PerToolLimit   int           // executions per (user, tool) per window
	GlobalCeiling  int           // executions per user across all tools per window
	DiscoveryLimit int           // discovery requests per IP per window
	Window         time.Duration // window length
}

// Limiter answers whether a request is within its rate limits. Counter
// storage is pluggable; a storage error fails OPEN — the request is allowed
// and a warning logged — because denying all traffic on a counter-store
// outage is worse than briefly losing rate enforcement.
type Limiter struct {
	store  CounterStore
	config Config
	logger zerolog.Logger
}

// New creates a rate limiter backed by the given counter store.
func New(store CounterStore, config Config, logger zerolog.Logger) *Limiter {
	if config.PerToolLimit == 0 {
		config.PerToolLimit = DefaultPerToolLimit
	}
	if config.GlobalCeiling == 0 {
		config.GlobalCeiling = DefaultGlobalCeiling
	}
	if config.DiscoveryLimit == 0 {
		config.DiscoveryLimit = DefaultDiscoveryLimit
	}
	if config.Window == 0 {
		config.Window = DefaultWindow
	}

	return &Limiter{
		store:  store,
		config: config,
		logger: logger,
	}
}

// CheckExecution reports whether userID may execute toolName now. Two
// counters are incremented: the (user, tool) counter against the per-tool
// limit and the user's global counter against the ceiling. The request is
// allowed only when both stay within their limits.
func (l *Limiter) CheckExecution(userID int64, toolName string) bool {
	toolKey := fmt.Sprintf("exec:%d:%s", userID, toolName)
	globalKey := fmt.Sprintf("exec:%d:*", userID)

	toolCount, err := l.store.Incr(toolKey, l.config.Window)
	if err != nil {
		l.warnStoreFailure(err, toolKey)
		return true
	}

	globalCount, err := l.store.Incr(globalKey, l.config.Window)
	if err != nil {
		l.warnStoreFailure(err, globalKey)
		return true
	}

	if toolCount > int64(l.config.PerToolLimit) {
		l.logger.Warn().
			Int64("userId", userID).
			Str("tool", toolName).
			Int64("count", toolCount).
			Int("limit", l.config.PerToolLimit).
			Msg("Per-tool rate limit exceeded")
		return false
	}

	if globalCount > int64(l.config.GlobalCeiling) {
		l.logger.Warn().
			Int64("userId", userID).
			Int64("count", globalCount).
			Int("limit", l.config.GlobalCeiling).
			Msg("Global rate ceiling exceeded")
		return false
	}

	return true
}

// CheckDiscovery reports whether clientIP may list tools now.
func (l *Limiter) CheckDiscovery(clientIP string) bool {
	key := "disc:" + clientIP

	count, err := l.store.Incr(key, l.config.Window)
	if err != nil {
		l.warnStoreFailure(err, key)
		return true
	}

	if count > int64(l.config.DiscoveryLimit) {
		l.logger.Warn().
			Str("ip", clientIP).
			Int64("count", count).
			Int("limit", l.config.DiscoveryLimit).
			Msg("Discovery rate limit exceeded")
		return false
	}

	return true
}

// RetryAfter returns the window length in whole seconds for the Retry-After
// header on 429 responses.
func (l *Limiter) RetryAfter() int {
	return int(l.config.Window / time.Second)
}

func (l *Limiter) warnStoreFailure(err error, key string) {
	l.logger.Warn().
		Err(err).
		Str("key", key).
		Msg("Counter store unavailable, allowing request")
}
