// Package config defines and loads the gateway's process configuration.
// Administrator-mutable runtime settings (enabled flag, allow-list) live in
// the option store, not here.
package config

import (
	"fmt"
	"time"

	"github.com/code-atlantic/abridge/internal/logger"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	MaxPayloadKB int64  `mapstructure:"maxPayloadKb"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	PerToolLimit   int `mapstructure:"perToolLimit"`
	GlobalCeiling  int `mapstructure:"globalCeiling"`
	DiscoveryLimit int `mapstructure:"discoveryLimit"`
	WindowSeconds  int `mapstructure:"windowSeconds"`
}

// BridgeConfig configures the tool bridge.
type BridgeConfig struct {
	CacheTTLMinutes int `mapstructure:"cacheTtlMinutes"`
}

// NonceConfig configures the CSRF token service.
type NonceConfig struct {
	// Secret signs tokens. Empty means a random per-process secret.
	Secret    string `mapstructure:"secret"`
	TickHours int    `mapstructure:"tickHours"`
}

// AuthConfig maps static bearer tokens to user IDs.
type AuthConfig struct {
	Tokens map[string]int64 `mapstructure:"tokens"`
}

// ToolsConfig controls built-in tool registration.
type ToolsConfig struct {
	IncludeBuiltin bool `mapstructure:"includeBuiltin"`
}

// Config is the full process configuration.
type Config struct {
	DataDir   string          `mapstructure:"dataDir"`
	DBPath    string          `mapstructure:"dbPath"`
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Nonce     NonceConfig     `mapstructure:"nonce"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Logging   logger.Config   `mapstructure:"logging"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8321,
			MaxPayloadKB: 100,
		},
		RateLimit: RateLimitConfig{
			PerToolLimit:   30,
			GlobalCeiling:  100,
			DiscoveryLimit: 60,
			WindowSeconds:  60,
		},
		Bridge: BridgeConfig{
			CacheTTLMinutes: 60,
		},
		Nonce: NonceConfig{
			TickHours: 12,
		},
		Tools: ToolsConfig{
			IncludeBuiltin: true,
		},
		Logging: logger.Config{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate checks invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxPayloadKB <= 0 {
		return fmt.Errorf("maxPayloadKb must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.PerToolLimit <= 0 || c.RateLimit.GlobalCeiling <= 0 || c.RateLimit.DiscoveryLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Bridge.CacheTTLMinutes <= 0 {
		return fmt.Errorf("bridge cache TTL must be positive")
	}
	return nil
}

// Window returns the rate-limit window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// CacheTTL returns the bridge cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Bridge.CacheTTLMinutes) * time.Minute
}

// NonceTick returns the token rotation interval as a duration.
func (c *Config) NonceTick() time.Duration {
	return time.Duration(c.Nonce.TickHours) * time.Hour
}

// MaxPayloadBytes returns the execution payload cap in bytes.
func (c *Config) MaxPayloadBytes() int64 {
	return c.Server.MaxPayloadKB * 1024
}
