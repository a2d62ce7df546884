package bridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/hooks"
	"github.com/code-atlantic/abridge/pkg/schema"
	"github.com/code-atlantic/abridge/pkg/settings"
)

type memStore struct {
	values map[string]string
}

func (m *memStore) Get(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(key, value string) error {
	m.values[key] = value
	return nil
}

func noopExecute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	return nil, nil
}

type fixture struct {
	registry *ability.Registry
	settings *settings.Settings
	hooks    *hooks.Hooks
	bridge   *Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := ability.NewRegistry()
	st := settings.New(&memStore{values: make(map[string]string)})
	h := hooks.New()
	b := New(registry, st, h, Config{}, zerolog.Nop())
	return &fixture{registry: registry, settings: st, hooks: h, bridge: b}
}

func (f *fixture) register(t *testing.T, a *ability.Ability) {
	t.Helper()
	require.NoError(t, f.registry.Register(a))
}

func toolNames(tools []ability.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestToolsForCallerBasic(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/hello", Description: "Says hello.", Execute: noopExecute})

	tools := f.bridge.ToolsForCaller(ability.Anonymous)
	require.Len(t, tools, 1)
	assert.Equal(t, "demo/hello", tools[0].Name)
	assert.Equal(t, "Says hello.", tools[0].Description)
}

func TestPrivateAbilitiesNeverExposed(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/public", Execute: noopExecute})
	f.register(t, &ability.Ability{Name: "demo/secret", Visibility: ability.VisibilityPrivate, Execute: noopExecute})

	for _, caller := range []ability.Caller{
		ability.Anonymous,
		{ID: 1, Authenticated: true},
		{ID: 999, Authenticated: true},
	} {
		names := toolNames(f.bridge.ToolsForCaller(caller))
		assert.Equal(t, []string{"demo/public"}, names)
	}
}

func TestAllowListFiltersTools(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/a", Execute: noopExecute})
	f.register(t, &ability.Ability{Name: "demo/b", Execute: noopExecute})
	f.register(t, &ability.Ability{Name: "demo/c", Execute: noopExecute})

	// Unconfigured list exposes everything.
	assert.Len(t, f.bridge.ToolsForCaller(ability.Anonymous), 3)

	require.NoError(t, f.settings.SetExposedTools([]string{"demo/a", "demo/c"}))

	names := toolNames(f.bridge.ToolsForCaller(ability.Anonymous))
	assert.Equal(t, []string{"demo/a", "demo/c"}, names)
}

func TestPermissionFilterAtDiscovery(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/open", Execute: noopExecute})
	f.register(t, &ability.Ability{
		Name:    "demo/members",
		Execute: noopExecute,
		Permission: func(caller ability.Caller, input map[string]interface{}) error {
			if !caller.Authenticated {
				return fmt.Errorf("members only")
			}
			return nil
		},
	})

	assert.Equal(t, []string{"demo/open"}, toolNames(f.bridge.ToolsForCaller(ability.Anonymous)))
	assert.Equal(t,
		[]string{"demo/members", "demo/open"},
		toolNames(f.bridge.ToolsForCaller(ability.Caller{ID: 1, Authenticated: true})),
	)
}

func TestReadOnlyAnnotation(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/read", ReadOnly: true, Execute: noopExecute})
	f.register(t, &ability.Ability{Name: "demo/write", Execute: noopExecute})

	tools := f.bridge.ToolsForCaller(ability.Anonymous)
	require.Len(t, tools, 2)

	byName := map[string]ability.Tool{}
	for _, tool := range tools {
		byName[tool.Name] = tool
	}

	require.NotNil(t, byName["demo/read"].Annotations)
	assert.True(t, byName["demo/read"].Annotations.ReadOnlyHint)
	assert.Nil(t, byName["demo/write"].Annotations)
}

func TestDescriptionTagsStripped(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{
		Name:        "demo/hello",
		Description: "<p>Says <b>hello</b>.</p><script>alert(1)</script>",
		Execute:     noopExecute,
	})

	tools := f.bridge.ToolsForCaller(ability.Anonymous)
	require.Len(t, tools, 1)
	assert.Equal(t, "Says hello.", tools[0].Description)
}

func TestSchemasSanitized(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/noschema", Execute: noopExecute})
	f.register(t, &ability.Ability{
		Name:        "demo/ref",
		InputSchema: schema.MustParse(`{"$ref":"#/defs/x"}`),
		Execute:     noopExecute,
	})

	for _, tool := range f.bridge.ToolsForCaller(ability.Anonymous) {
		assert.Equal(t, schema.Canonical(), tool.InputSchema, "tool %s", tool.Name)
	}
}

func TestCustomizeHook(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/hello", Description: "original", Execute: noopExecute})

	f.hooks.OnCustomizeTool(func(tool *ability.Tool, name string, ab *ability.Ability) {
		tool.Description = "customized"
	})
	f.bridge.InvalidateCache()

	tools := f.bridge.ToolsForCaller(ability.Anonymous)
	require.Len(t, tools, 1)
	assert.Equal(t, "customized", tools[0].Description)
}

func TestExposeHookExcludes(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/a", Execute: noopExecute})
	f.register(t, &ability.Ability{Name: "demo/b", Execute: noopExecute})

	f.hooks.OnExposeTool(func(name string, ab *ability.Ability) bool {
		return name != "demo/b"
	})
	f.bridge.InvalidateCache()

	assert.Equal(t, []string{"demo/a"}, toolNames(f.bridge.ToolsForCaller(ability.Anonymous)))
}

func TestCachePerCaller(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.register(t, &ability.Ability{
		Name:    "demo/counted",
		Execute: noopExecute,
		Permission: func(caller ability.Caller, input map[string]interface{}) error {
			calls++
			return nil
		},
	})

	f.bridge.ToolsForCaller(ability.Anonymous)
	f.bridge.ToolsForCaller(ability.Anonymous)
	assert.Equal(t, 1, calls, "second call should be served from cache")

	f.bridge.ToolsForCaller(ability.Caller{ID: 5, Authenticated: true})
	assert.Equal(t, 2, calls, "different caller gets its own entry")
}

func TestSettingsChangeInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/a", Execute: noopExecute})
	f.register(t, &ability.Ability{Name: "demo/b", Execute: noopExecute})

	assert.Len(t, f.bridge.ToolsForCaller(ability.Anonymous), 2)

	require.NoError(t, f.settings.SetExposedTools([]string{"demo/a"}))

	assert.Len(t, f.bridge.ToolsForCaller(ability.Anonymous), 1,
		"allow-list change should take effect immediately")
}

func TestCacheTTLExpiry(t *testing.T) {
	f := newFixture(t)
	current := time.Now()
	f.bridge.cache.now = func() time.Time { return current }

	calls := 0
	f.register(t, &ability.Ability{
		Name:    "demo/counted",
		Execute: noopExecute,
		Permission: func(caller ability.Caller, input map[string]interface{}) error {
			calls++
			return nil
		},
	})

	f.bridge.ToolsForCaller(ability.Anonymous)
	f.bridge.ToolsForCaller(ability.Anonymous)
	assert.Equal(t, 1, calls)

	current = current.Add(DefaultCacheTTL + time.Minute)
	f.bridge.ToolsForCaller(ability.Anonymous)
	assert.Equal(t, 2, calls, "expired entry should be rebuilt")

	assert.Equal(t, 0, f.bridge.PruneCache(), "rebuild replaced the expired entry")
}

func TestETag(t *testing.T) {
	f := newFixture(t)
	f.register(t, &ability.Ability{Name: "demo/a", Execute: noopExecute})

	first := f.bridge.ETag(ability.Anonymous)
	require.NotEmpty(t, first)

	// Stable while nothing changes.
	assert.Equal(t, first, f.bridge.ETag(ability.Anonymous))

	// Changes when the visible set changes.
	f.register(t, &ability.Ability{Name: "demo/b", Execute: noopExecute})
	f.bridge.InvalidateCache()
	second := f.bridge.ETag(ability.Anonymous)
	assert.NotEqual(t, first, second)
}

func TestStripTags(t *testing.T) {
	cases := map[string]string{
		"plain text":                        "plain text",
		"<p>para</p>":                       "para",
		"a  <br>   b":                       "a b",
		"<style>p{color:red}</style>hi":     "hi",
		"<script>evil()</script>safe":       "safe",
		"<a href=\"x\">link</a> text":       "link text",
		"":                                  "",
		"  leading and trailing   ":         "leading and trailing",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripTags(in), "input %q", in)
	}
}
