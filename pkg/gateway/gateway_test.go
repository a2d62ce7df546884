package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/bridge"
	"github.com/code-atlantic/abridge/pkg/hooks"
	"github.com/code-atlantic/abridge/pkg/nonce"
	"github.com/code-atlantic/abridge/pkg/ratelimit"
	"github.com/code-atlantic/abridge/pkg/settings"
)

const testToken = "test-bearer-token"

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

type fixture struct {
	server   *Server
	handler  http.Handler
	registry *ability.Registry
	settings *settings.Settings
	hooks    *hooks.Hooks
	nonces   *nonce.Service
}

func newFixture(t *testing.T, limits ratelimit.Config) *fixture {
	t.Helper()

	registry := ability.NewRegistry()
	st := settings.New(&memStore{values: make(map[string]string)})
	h := hooks.New()
	logger := zerolog.Nop()

	b := bridge.New(registry, st, h, bridge.Config{}, logger)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), limits, logger)

	nonces, err := nonce.NewService([]byte("test-secret"), 0)
	require.NoError(t, err)

	auth := NewTokenAuthenticator(map[string]int64{testToken: 7})

	server, err := NewServer(Options{}, registry, b, limiter, st, nonces, h, auth, logger)
	require.NoError(t, err)

	return &fixture{
		server:   server,
		handler:  server.Handler(),
		registry: registry,
		settings: st,
		hooks:    h,
		nonces:   nonces,
	}
}

func (f *fixture) register(t *testing.T, a *ability.Ability) {
	t.Helper()
	require.NoError(t, f.registry.Register(a))
}

func (f *fixture) registerEcho(t *testing.T, name string, readOnly bool) {
	t.Helper()
	f.register(t, &ability.Ability{
		Name:        name,
		Description: "Echoes its input back.",
		ReadOnly:    readOnly,
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return input, nil
		},
	})
}

type reqOpt func(*http.Request)

func asUser() reqOpt {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+testToken)
	}
}

func withNonce(token string) reqOpt {
	return func(r *http.Request) {
		r.Header.Set(NonceHeader, token)
	}
}

func (f *fixture) do(method, path string, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.9:54321"
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) execute(toolName, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, APIPrefix+"/execute/"+toolName, body, opts...)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), "body: %s", rec.Body.String())
	return envelope.Code
}

func TestHealth(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	rec := f.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestToolsRequiresAuthByDefault(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	rec := f.do(http.MethodGet, APIPrefix+"/tools", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeAuthRequired, errorCode(t, rec))
}

func TestToolsPublicDiscovery(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)
	require.NoError(t, f.settings.SetDiscoveryPublic(true))

	rec := f.do(http.MethodGet, APIPrefix+"/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ToolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "demo/echo", body.Tools[0].Name)
	assert.NotEmpty(t, body.Nonce)

	assert.Equal(t, "private, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Cookie, Authorization", rec.Header().Get("Vary"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("ETag"), `"`))
}

func TestToolsAuthenticated(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	rec := f.do(http.MethodGet, APIPrefix+"/tools", "", asUser())
	require.Equal(t, http.StatusOK, rec.Code)

	var body ToolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Tools, 1)
}

func TestToolsConditionalRequest(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	first := f.do(http.MethodGet, APIPrefix+"/tools", "", asUser())
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec := f.do(http.MethodGet, APIPrefix+"/tools", "", asUser(), func(r *http.Request) {
		r.Header.Set("If-None-Match", etag)
	})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	stale := f.do(http.MethodGet, APIPrefix+"/tools", "", asUser(), func(r *http.Request) {
		r.Header.Set("If-None-Match", `"something-else"`)
	})
	assert.Equal(t, http.StatusOK, stale.Code)
}

func TestToolsDisabled(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	require.NoError(t, f.settings.SetEnabled(false))

	rec := f.do(http.MethodGet, APIPrefix+"/tools", "", asUser())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeDisabled, errorCode(t, rec))
}

func TestToolsDiscoveryRateLimit(t *testing.T) {
	f := newFixture(t, ratelimit.Config{DiscoveryLimit: 2})
	require.NoError(t, f.settings.SetDiscoveryPublic(true))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, APIPrefix+"/tools", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, APIPrefix+"/tools", "").Code)

	rec := f.do(http.MethodGet, APIPrefix+"/tools", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, errorCode(t, rec))
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	rec := f.execute("demo/echo", `{"msg":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]interface{}{"msg": "hi"}, body.Result)
}

func TestExecuteEmptyBody(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	rec := f.execute("demo/echo", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]interface{}{}, body.Result)
}

func TestExecuteDisabled(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)
	require.NoError(t, f.settings.SetEnabled(false))

	rec := f.execute("demo/echo", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeDisabled, errorCode(t, rec))
}

func TestExecuteInvalidJSON(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	rec := f.execute("demo/echo", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidJSON, errorCode(t, rec))
}

func TestExecutePayloadTooLarge(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	big := fmt.Sprintf(`{"pad":%q}`, strings.Repeat("x", int(DefaultMaxPayloadBytes)+1))
	rec := f.execute("demo/echo", big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodePayloadTooLarge, errorCode(t, rec))
}

// Unknown, private, and non-allow-listed tools must produce identical
// responses so their existence cannot be probed.
func TestExecuteHiddenToolsIndistinguishable(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.register(t, &ability.Ability{
		Name:       "demo/secret",
		Visibility: ability.VisibilityPrivate,
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return "should never run", nil
		},
	})
	f.registerEcho(t, "demo/excluded", true)
	f.registerEcho(t, "demo/allowed", true)
	require.NoError(t, f.settings.SetExposedTools([]string{"demo/allowed"}))

	missing := f.execute("demo/does-not-exist", "{}")
	private := f.execute("demo/secret", "{}")
	excluded := f.execute("demo/excluded", "{}")

	for _, rec := range []*httptest.ResponseRecorder{missing, private, excluded} {
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, CodeNotFound, errorCode(t, rec))
	}
	assert.Equal(t, missing.Body.String(), private.Body.String())
	assert.Equal(t, missing.Body.String(), excluded.Body.String())
}

func TestExecutePermissionDenied(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.register(t, &ability.Ability{
		Name: "demo/members",
		Permission: func(caller ability.Caller, input map[string]interface{}) error {
			if !caller.Authenticated {
				return fmt.Errorf("members only")
			}
			return nil
		},
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return "ok", nil
		},
	})

	rec := f.execute("demo/members", "{}")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, errorCode(t, rec))

	nonceRec := f.do(http.MethodGet, APIPrefix+"/nonce", "", asUser())
	var nr NonceResponse
	require.NoError(t, json.Unmarshal(nonceRec.Body.Bytes(), &nr))

	ok := f.execute("demo/members", "{}", asUser(), withNonce(nr.Nonce))
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestExecuteCSRF(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/read", true)
	f.registerEcho(t, "demo/write", false)

	validNonce := func() string {
		rec := f.do(http.MethodGet, APIPrefix+"/nonce", "", asUser())
		var nr NonceResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nr))
		return nr.Nonce
	}

	t.Run("authenticated write without nonce rejected", func(t *testing.T) {
		rec := f.execute("demo/write", "{}", asUser())
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, CodeInvalidNonce, errorCode(t, rec))
	})

	t.Run("authenticated write with bad nonce rejected", func(t *testing.T) {
		rec := f.execute("demo/write", "{}", asUser(), withNonce("bogus"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, CodeInvalidNonce, errorCode(t, rec))
	})

	t.Run("authenticated write with valid nonce allowed", func(t *testing.T) {
		rec := f.execute("demo/write", "{}", asUser(), withNonce(validNonce()))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("authenticated read-only skips nonce", func(t *testing.T) {
		rec := f.execute("demo/read", "{}", asUser())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("anonymous write skips nonce", func(t *testing.T) {
		rec := f.execute("demo/write", "{}")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("another user's nonce rejected", func(t *testing.T) {
		otherNonce := f.nonces.Issue(999)
		rec := f.execute("demo/write", "{}", asUser(), withNonce(otherNonce))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, CodeInvalidNonce, errorCode(t, rec))
	})
}

func TestExecuteVetoHook(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)

	f.hooks.OnAllowExecution(func(name string, input map[string]interface{}, caller ability.Caller) error {
		if input["blocked"] == true {
			return ability.NewError("policy_violation", "Blocked by policy.", 403)
		}
		return nil
	})

	allowed := f.execute("demo/echo", `{"blocked":false}`)
	assert.Equal(t, http.StatusOK, allowed.Code)

	rec := f.execute("demo/echo", `{"blocked":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "policy_violation", errorCode(t, rec))
}

func TestExecuteRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.Config{PerToolLimit: 2, GlobalCeiling: 100})
	f.registerEcho(t, "demo/echo", true)

	assert.Equal(t, http.StatusOK, f.execute("demo/echo", "{}").Code)
	assert.Equal(t, http.StatusOK, f.execute("demo/echo", "{}").Code)

	rec := f.execute("demo/echo", "{}")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, errorCode(t, rec))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestExecuteAbilityErrorPassthrough(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.register(t, &ability.Ability{
		Name: "demo/strict",
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return nil, ability.NewError("thing_not_found", "No such thing.", 404)
		},
	})

	rec := f.execute("demo/strict", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "thing_not_found", errorCode(t, rec))

	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "No such thing.", envelope.Message)
}

func TestExecuteGenericErrorHidden(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.register(t, &ability.Ability{
		Name: "demo/broken",
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("database password is hunter2")
		},
	})

	rec := f.execute("demo/broken", "{}")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeExecutionError, errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestExecutePanicRecovered(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.register(t, &ability.Ability{
		Name: "demo/panicky",
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	})

	rec := f.execute("demo/panicky", "{}")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeExecutionError, errorCode(t, rec))

	// The gateway survives.
	f.registerEcho(t, "demo/echo", true)
	assert.Equal(t, http.StatusOK, f.execute("demo/echo", "{}").Code)
}

func TestExecuteCallerInContext(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.register(t, &ability.Ability{
		Name:     "demo/whoami",
		ReadOnly: true,
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return ability.CallerFromContext(ctx).ID, nil
		},
	})

	rec := f.execute("demo/whoami", "{}", asUser())
	require.Equal(t, http.StatusOK, rec.Code)

	var body ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(7), body.Result)
}

func TestExecuteObserversNotified(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})
	f.registerEcho(t, "demo/echo", true)
	f.register(t, &ability.Ability{
		Name: "demo/broken",
		Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("nope")
		},
	})

	type event struct {
		name    string
		success bool
	}
	var events []event
	f.hooks.OnToolExecuted(func(name string, userID int64, success bool) {
		events = append(events, event{name, success})
	})

	f.execute("demo/echo", "{}")
	f.execute("demo/broken", "{}")

	require.Len(t, events, 2)
	assert.Equal(t, event{"demo/echo", true}, events[0])
	assert.Equal(t, event{"demo/broken", false}, events[1])

	// Failures also reach the metrics tracker.
	snapshot := f.server.Metrics()
	require.Len(t, snapshot, 2)
}

func TestNonceEndpoint(t *testing.T) {
	f := newFixture(t, ratelimit.Config{})

	rec := f.do(http.MethodGet, APIPrefix+"/nonce", "", asUser())
	require.Equal(t, http.StatusOK, rec.Code)

	var body NonceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, f.nonces.Verify(7, body.Nonce))

	// Anonymous callers get a nonce bound to ID 0.
	anon := f.do(http.MethodGet, APIPrefix+"/nonce", "")
	assert.Equal(t, http.StatusOK, anon.Code)
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.9:54321": "203.0.113.9",
		"[2001:db8::1]:443": "2001:db8::1",
		"203.0.113.9":       "203.0.113.9",
	}
	for addr, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		assert.Equal(t, want, clientIP(r), "addr %q", addr)
	}
}

func TestTokenAuthenticator(t *testing.T) {
	auth := NewTokenAuthenticator(map[string]int64{"tok": 3})
	auth.AddToken("tok2", 4)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, ability.Anonymous, auth.Authenticate(req))

	req.Header.Set("Authorization", "Bearer tok")
	assert.Equal(t, ability.Caller{ID: 3, Authenticated: true}, auth.Authenticate(req))

	req.Header.Set("Authorization", "Bearer tok2")
	assert.Equal(t, ability.Caller{ID: 4, Authenticated: true}, auth.Authenticate(req))

	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, ability.Anonymous, auth.Authenticate(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, ability.Anonymous, auth.Authenticate(req))
}
