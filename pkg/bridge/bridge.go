// Package bridge converts registered abilities into externally safe tool
// definitions, applying visibility, allow-list, and permission filtering
// with per-caller caching and ETag computation.
package bridge

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/hooks"
	"github.com/code-atlantic/abridge/pkg/schema"
	"github.com/code-atlantic/abridge/pkg/settings"
)

// DefaultCacheTTL bounds how stale a cached per-caller tool list may get
// when nothing triggers an explicit invalidation.
const DefaultCacheTTL = time.Hour

// Bridge derives the discoverable tool set for each caller.
type Bridge struct {
	registry *ability.Registry
	settings *settings.Settings
	hooks    *hooks.Hooks
	cache    *toolCache
	logger   zerolog.Logger
}

// Config holds bridge tunables.
type Config struct {
	CacheTTL time.Duration // per-caller cache lifetime, default 1h
}

// New creates a Bridge. Settings changes flush the cache automatically.
func New(registry *ability.Registry, st *settings.Settings, h *hooks.Hooks, config Config, logger zerolog.Logger) *Bridge {
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}

	b := &Bridge{
		registry: registry,
		settings: st,
		hooks:    h,
		cache:    newToolCache(config.CacheTTL),
		logger:   logger,
	}

	st.OnChange(b.InvalidateCache)

	return b
}

// ToolsForCaller returns the tool definitions the caller is allowed to
// discover. Results are cached per caller ID (anonymous callers share ID 0)
// until the TTL lapses or the cache is invalidated.
func (b *Bridge) ToolsForCaller(caller ability.Caller) []ability.Tool {
	if cached, ok := b.cache.get(caller.ID); ok {
		return cached
	}

	tools := b.buildTools(caller)
	b.cache.set(caller.ID, tools)

	b.logger.Debug().
		Int64("userId", caller.ID).
		Int("tools", len(tools)).
		Msg("Tool list rebuilt")

	return tools
}

func (b *Bridge) buildTools(caller ability.Caller) []ability.Tool {
	abilities := b.registry.List()
	tools := make([]ability.Tool, 0, len(abilities))

	for _, ab := range abilities {
		if tool := b.Convert(ab.Name, ab, caller); tool != nil {
			tools = append(tools, *tool)
		}
	}
	return tools
}

// Convert turns one ability into a tool definition for the caller, or nil
// when the ability must stay out of discovery. Each check short-circuits;
// exclusion is silent, not an error.
func (b *Bridge) Convert(name string, ab *ability.Ability, caller ability.Caller) *ability.Tool {
	// Private abilities are never exposed.
	if ab.EffectiveVisibility() == ability.VisibilityPrivate {
		return nil
	}

	// Administrator's allow-list. Empty list allows everything.
	if !b.settings.IsToolExposed(name) {
		return nil
	}

	// The ability's own permission predicate, with no input available at
	// discovery time.
	if err := ab.CheckPermission(caller, nil); err != nil {
		return nil
	}

	tool := &ability.Tool{
		Name:        name,
		Description: stripTags(ab.Description),
		InputSchema: schema.Validate(ab.InputSchema),
	}
	if ab.ReadOnly {
		tool.Annotations = &ability.ToolAnnotations{ReadOnlyHint: true}
	}

	b.hooks.RunCustomizeTool(tool, name, ab)

	if !b.hooks.RunExposeTool(name, ab) {
		return nil
	}

	return tool
}

// ETag returns a content digest of the caller's tool list. It changes if and
// only if the visible tool set or its contents change for that caller.
func (b *Bridge) ETag(caller ability.Caller) string {
	data, err := json.Marshal(b.ToolsForCaller(caller))
	if err != nil {
		// Tools marshal from plain structs; this is unreachable in practice.
		b.logger.Error().Err(err).Msg("Failed to marshal tool list for ETag")
		return ""
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// InvalidateCache drops every cached per-caller tool list. Called whenever
// the ability set or the settings change.
func (b *Bridge) InvalidateCache() {
	b.cache.flush()
	b.logger.Debug().Msg("Tool cache invalidated")
}

// PruneCache removes expired cache entries and returns the count removed.
func (b *Bridge) PruneCache() int {
	return b.cache.prune()
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	scriptStylePattern = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
)

// stripTags removes HTML markup from a description, including script and
// style bodies, and collapses the surrounding whitespace.
func stripTags(s string) string {
	s = scriptStylePattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
