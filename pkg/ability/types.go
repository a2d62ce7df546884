package ability

import (
	"context"

	"github.com/code-atlantic/abridge/pkg/schema"
)

// Visibility controls whether an ability may ever be exposed to agents.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Caller identifies who is making a gateway request. Anonymous callers have
// ID 0 and Authenticated false.
type Caller struct {
	ID            int64
	Authenticated bool
}

// Anonymous is the caller identity used for unauthenticated requests.
var Anonymous = Caller{}

// ExecuteFunc runs an ability with agent-supplied input and returns the
// result value serialized back to the agent.
type ExecuteFunc func(ctx context.Context, input map[string]interface{}) (interface{}, error)

// PermissionFunc decides whether a caller may discover or execute an ability.
// During discovery input is nil; during execution it carries the parsed
// request body. Returning a non-nil error denies.
type PermissionFunc func(caller Caller, input map[string]interface{}) error

// Ability is a named, schema-described server-side operation registered by
// the host application. Abilities are registered once at startup and treated
// as immutable afterwards.
type Ability struct {
	Name         string
	Label        string
	Description  string
	InputSchema  schema.Value
	OutputSchema schema.Value
	Execute      ExecuteFunc
	Permission   PermissionFunc
	Visibility   Visibility
	ReadOnly     bool
}

// CheckPermission evaluates the ability's permission predicate. A nil
// predicate allows everyone.
func (a *Ability) CheckPermission(caller Caller, input map[string]interface{}) error {
	if a.Permission == nil {
		return nil
	}
	return a.Permission(caller, input)
}

// EffectiveVisibility returns the ability's visibility, defaulting to public
// when unset.
func (a *Ability) EffectiveVisibility() Visibility {
	if a.Visibility == "" {
		return VisibilityPublic
	}
	return a.Visibility
}

type callerContextKey struct{}

// WithCaller attaches the caller identity to a context. The gateway sets it
// before invoking an ability so execute callbacks can see who is calling.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller attached by WithCaller, or Anonymous.
func CallerFromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerContextKey{}).(Caller); ok {
		return c
	}
	return Anonymous
}
