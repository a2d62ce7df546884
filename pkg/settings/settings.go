// Package settings reads and writes the gateway's administrator-controlled
// configuration through a generic key-value option store.
package settings

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Option keys in the backing store.
const (
	KeyEnabled         = "wmcp_enabled"
	KeyDiscoveryPublic = "wmcp_discovery_public"
	KeyExposedTools    = "wmcp_exposed_tools"
)

// OptionStore is the persistent key-value store settings live in. The store
// is supplied by the host; both sqlite-backed and in-memory implementations
// exist.
type OptionStore interface {
	// Get returns the stored value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores the value for key.
	Set(key, value string) error
}

// Settings exposes the three gateway options with their first-run defaults:
// enabled (true), public discovery (false), and the exposed-tools allow-list
// (empty, meaning every tool is allowed).
type Settings struct {
	store     OptionStore
	mu        sync.RWMutex
	listeners []func()
}

// New creates a Settings view over the given option store.
func New(store OptionStore) *Settings {
	return &Settings{store: store}
}

// OnChange registers a listener invoked after any setting is written.
// The bridge uses it to invalidate its tool cache.
func (s *Settings) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Settings) notify() {
	s.mu.RLock()
	fns := s.listeners
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Enabled reports whether the gateway is globally enabled. Defaults to true:
// the gateway does nothing harmful when on, and install-and-it-works is the
// right first-run experience.
func (s *Settings) Enabled() bool {
	return s.getBool(KeyEnabled, true)
}

// SetEnabled writes the enabled flag.
func (s *Settings) SetEnabled(enabled bool) error {
	if err := s.store.Set(KeyEnabled, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	s.notify()
	return nil
}

// DiscoveryPublic reports whether unauthenticated callers may list tools.
// Defaults to false.
func (s *Settings) DiscoveryPublic() bool {
	return s.getBool(KeyDiscoveryPublic, false)
}

// SetDiscoveryPublic writes the public-discovery flag.
func (s *Settings) SetDiscoveryPublic(public bool) error {
	if err := s.store.Set(KeyDiscoveryPublic, strconv.FormatBool(public)); err != nil {
		return err
	}
	s.notify()
	return nil
}

// ExposedTools returns the administrator's allow-list of tool names. An
// empty list means the list has not been configured and every tool is
// allowed.
func (s *Settings) ExposedTools() []string {
	raw, ok, err := s.store.Get(KeyExposedTools)
	if err != nil {
		log.Warn().Err(err).Str("key", KeyExposedTools).Msg("Option store read failed, using default")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var tools []string
	if err := json.Unmarshal([]byte(raw), &tools); err != nil {
		log.Warn().Err(err).Str("key", KeyExposedTools).Msg("Malformed exposed-tools option, using default")
		return nil
	}
	return tools
}

// SetExposedTools writes the allow-list.
func (s *Settings) SetExposedTools(tools []string) error {
	if tools == nil {
		tools = []string{}
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return err
	}
	if err := s.store.Set(KeyExposedTools, string(raw)); err != nil {
		return err
	}
	s.notify()
	return nil
}

// IsToolExposed reports whether the allow-list permits the tool. An empty
// (unconfigured) list permits everything.
func (s *Settings) IsToolExposed(name string) bool {
	exposed := s.ExposedTools()
	if len(exposed) == 0 {
		return true
	}
	for _, t := range exposed {
		if t == name {
			return true
		}
	}
	return false
}

func (s *Settings) getBool(key string, def bool) bool {
	raw, ok, err := s.store.Get(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Option store read failed, using default")
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
