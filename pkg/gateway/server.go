// Package gateway is the HTTP surface of the ability bridge: tool discovery,
// nonce issuance, and rate-limited, CSRF-protected tool execution.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/code-atlantic/abridge/internal/metrics"
	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/bridge"
	"github.com/code-atlantic/abridge/pkg/hooks"
	"github.com/code-atlantic/abridge/pkg/nonce"
	"github.com/code-atlantic/abridge/pkg/ratelimit"
	"github.com/code-atlantic/abridge/pkg/settings"
)

// APIPrefix is the versioned namespace all gateway routes live under.
const APIPrefix = "/webmcp/v1"

// NonceHeader carries the CSRF token on execution requests.
const NonceHeader = "X-WMCP-Nonce"

// DefaultMaxPayloadBytes caps execution request bodies at 100 KB.
const DefaultMaxPayloadBytes = 100 * 1024

// Options configures the gateway server.
type Options struct {
	Host            string // default "0.0.0.0"
	Port            int    // default 8321
	MaxPayloadBytes int64  // default 100 KB
}

// Server serves the gateway's HTTP routes.
type Server struct {
	options        Options
	server         *http.Server
	registry       *ability.Registry
	bridge         *bridge.Bridge
	limiter        *ratelimit.Limiter
	settings       *settings.Settings
	nonces         *nonce.Service
	hooks          *hooks.Hooks
	auth           Authenticator
	tracker        *metrics.Tracker
	events         *EventHub
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer wires the gateway from its collaborators. It also registers an
// execution observer that forwards tool-executed events to the websocket
// feed and the metrics tracker.
func NewServer(
	options Options,
	registry *ability.Registry,
	b *bridge.Bridge,
	limiter *ratelimit.Limiter,
	st *settings.Settings,
	nonces *nonce.Service,
	h *hooks.Hooks,
	auth Authenticator,
	logger zerolog.Logger,
) (*Server, error) {
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.Port == 0 {
		options.Port = 8321
	}
	if options.MaxPayloadBytes == 0 {
		options.MaxPayloadBytes = DefaultMaxPayloadBytes
	}

	if registry == nil {
		return nil, fmt.Errorf("ability registry is required")
	}
	if b == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if nonces == nil {
		return nil, fmt.Errorf("nonce service is required")
	}
	if auth == nil {
		auth = NewTokenAuthenticator(nil)
	}

	s := &Server{
		options:   options,
		registry:  registry,
		bridge:    b,
		limiter:   limiter,
		settings:  st,
		nonces:    nonces,
		hooks:     h,
		auth:      auth,
		tracker:   metrics.NewTracker(),
		events:    NewEventHub(logger),
		logger:    logger,
		startTime: time.Now(),
	}

	h.OnToolExecuted(func(name string, userID int64, success bool) {
		s.events.Broadcast("tool.executed", map[string]interface{}{
			"tool":    name,
			"userId":  userID,
			"success": success,
		})
	})

	return s, nil
}

// Handler returns the gateway's HTTP handler. Exposed separately from Start
// so tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+APIPrefix+"/tools", s.track(s.handleTools))
	mux.HandleFunc("POST "+APIPrefix+"/execute/{tool...}", s.track(s.handleExecute))
	mux.HandleFunc("GET "+APIPrefix+"/nonce", s.track(s.handleNonce))
	mux.HandleFunc("GET "+APIPrefix+"/events", s.handleEvents)

	return mux
}

// Start runs the HTTP server until it is stopped.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting gateway server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	return nil
}

// Stop gracefully shuts the server down, draining in-flight requests for up
// to 30 seconds.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.events.CloseAll()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Metrics returns the per-tool execution metrics.
func (s *Server) Metrics() []metrics.ToolMetrics {
	return s.tracker.Snapshot()
}

// track wraps a handler with shutdown gating and in-flight accounting.
func (s *Server) track(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		next(w, r)
	}
}

// handleHealth reports liveness, uptime, and execution metrics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"abilities": s.registry.Len(),
		"metrics":   s.tracker.Snapshot(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// clientIP extracts the client address for rate limiting. RemoteAddr is the
// authoritative source; proxy headers are not trusted because a caller could
// spoof them to dodge per-IP limits.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return strings.Trim(ip, "[]")
}
