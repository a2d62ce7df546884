// Package hooks provides the gateway's extension points: typed listener
// lists registered at startup and invoked synchronously in registration
// order. They replace the string-keyed event bus the host application uses
// for the same purposes.
package hooks

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/code-atlantic/abridge/pkg/ability"
)

// CustomizeToolFunc may rewrite a tool definition (description, annotations)
// before it is sent to agents.
type CustomizeToolFunc func(tool *ability.Tool, name string, ab *ability.Ability)

// ExposeToolFunc decides whether a tool appears in discovery at all.
// Returning false excludes it.
type ExposeToolFunc func(name string, ab *ability.Ability) bool

// AllowExecutionFunc may veto an execution before it runs. Returning a
// non-nil error blocks the request; if the error is an *ability.Error its
// code and message reach the caller with status 403.
type AllowExecutionFunc func(name string, input map[string]interface{}, caller ability.Caller) error

// ToolExecutedFunc observes completed executions. It receives only the tool
// name, caller ID, and success flag — never input or output payloads.
type ToolExecutedFunc func(name string, userID int64, success bool)

// Hooks holds all registered extension-point listeners.
type Hooks struct {
	mu        sync.RWMutex
	customize []CustomizeToolFunc
	expose    []ExposeToolFunc
	allow     []AllowExecutionFunc
	executed  []ToolExecutedFunc
}

// New creates an empty hook set.
func New() *Hooks {
	return &Hooks{}
}

// OnCustomizeTool registers a tool-definition customizer.
func (h *Hooks) OnCustomizeTool(fn CustomizeToolFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.customize = append(h.customize, fn)
}

// OnExposeTool registers an exposure predicate.
func (h *Hooks) OnExposeTool(fn ExposeToolFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expose = append(h.expose, fn)
}

// OnAllowExecution registers an execution veto.
func (h *Hooks) OnAllowExecution(fn AllowExecutionFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allow = append(h.allow, fn)
}

// OnToolExecuted registers an execution observer.
func (h *Hooks) OnToolExecuted(fn ToolExecutedFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executed = append(h.executed, fn)
}

// RunCustomizeTool applies all customizers to the tool in order.
func (h *Hooks) RunCustomizeTool(tool *ability.Tool, name string, ab *ability.Ability) {
	h.mu.RLock()
	fns := h.customize
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(tool, name, ab)
	}
}

// RunExposeTool reports whether every exposure predicate allows the tool.
func (h *Hooks) RunExposeTool(name string, ab *ability.Ability) bool {
	h.mu.RLock()
	fns := h.expose
	h.mu.RUnlock()

	for _, fn := range fns {
		if !fn(name, ab) {
			return false
		}
	}
	return true
}

// RunAllowExecution returns the first veto error, or nil when all listeners
// allow the execution.
func (h *Hooks) RunAllowExecution(name string, input map[string]interface{}, caller ability.Caller) error {
	h.mu.RLock()
	fns := h.allow
	h.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(name, input, caller); err != nil {
			return err
		}
	}
	return nil
}

// RunToolExecuted notifies all execution observers. A panicking observer is
// logged and must not take down the request that triggered it.
func (h *Hooks) RunToolExecuted(name string, userID int64, success bool) {
	h.mu.RLock()
	fns := h.executed
	h.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("tool", name).
						Msg("Panic in tool-executed observer")
				}
			}()
			fn(name, userID, success)
		}()
	}
}
