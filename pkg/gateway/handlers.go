package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/code-atlantic/abridge/pkg/ability"
)

// ToolsResponse is the discovery payload: the caller's visible tools plus a
// fresh CSRF token so clients need no extra round trip before executing.
type ToolsResponse struct {
	Tools []ability.Tool `json:"tools"`
	Nonce string         `json:"nonce"`
}

// NonceResponse is the nonce endpoint payload.
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// ExecuteResponse wraps a successful execution result.
type ExecuteResponse struct {
	Result interface{} `json:"result"`
}

func (s *Server) requestLogger(r *http.Request) zerolog.Logger {
	return s.logger.With().
		Str("requestId", uuid.NewString()).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
}

// handleTools implements GET /tools: discovery with per-IP rate limiting,
// optional public access, and ETag-based conditional responses.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)

	if !s.settings.Enabled() {
		writeError(w, http.StatusNotFound, CodeDisabled, "The ability gateway is not enabled.")
		return
	}

	ip := clientIP(r)
	if !s.limiter.CheckDiscovery(ip) {
		logger.Warn().Str("ip", ip).Msg("Discovery request rate limited")
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many requests. Please slow down.")
		return
	}

	caller := s.auth.Authenticate(r)
	if !s.settings.DiscoveryPublic() && !caller.Authenticated {
		writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required.")
		return
	}

	tools := s.bridge.ToolsForCaller(caller)
	etag := s.bridge.ETag(caller)

	// Conditional request support: an unchanged tool set costs no body.
	if match := r.Header.Get("If-None-Match"); match != "" {
		if strings.Trim(match, `"`) == etag {
			w.Header().Set("ETag", `"`+etag+`"`)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Vary", "Cookie, Authorization")
	w.Header().Set("ETag", `"`+etag+`"`)

	writeJSON(w, http.StatusOK, ToolsResponse{
		Tools: tools,
		Nonce: s.nonces.Issue(caller.ID),
	})

	logger.Info().
		Int64("userId", caller.ID).
		Int("tools", len(tools)).
		Msg("Discovery request completed")
}

// handleExecute implements POST /execute/{tool}. Checks run in a fixed
// order; every failure returns immediately with a stable error code. Unknown,
// private, and non-allow-listed tools are indistinguishable by design.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	startTime := time.Now()

	if !s.settings.Enabled() {
		writeError(w, http.StatusNotFound, CodeDisabled, "The ability gateway is not enabled.")
		return
	}

	body, tooLarge, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Failed to read request body.")
		return
	}
	if tooLarge {
		writeError(w, http.StatusBadRequest, CodePayloadTooLarge, "Request payload exceeds the maximum allowed size.")
		return
	}

	// The tool name arrives URL-encoded because it contains a namespace
	// separator. PathValue already unescapes percent-encoded segments, but
	// unescape again defensively for clients that double-encode.
	toolName := r.PathValue("tool")
	if decoded, err := url.PathUnescape(toolName); err == nil {
		toolName = decoded
	}

	ab, ok := s.registry.Get(toolName)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "Tool not found.")
		return
	}

	// Private and excluded tools answer exactly like unknown ones so their
	// existence never leaks.
	if ab.EffectiveVisibility() == ability.VisibilityPrivate {
		writeError(w, http.StatusNotFound, CodeNotFound, "Tool not found.")
		return
	}
	if !s.settings.IsToolExposed(toolName) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Tool not found.")
		return
	}

	// Parse input before the permission check so predicates can inspect it.
	input, err := parseInput(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Request body is not valid JSON.")
		return
	}

	caller := s.auth.Authenticate(r)

	if err := ab.CheckPermission(caller, input); err != nil {
		writeError(w, http.StatusForbidden, CodeForbidden, "You do not have permission to use this tool.")
		return
	}

	// CSRF protection for authenticated sessions. Read-only tools skip it;
	// anonymous calls to public tools have no session to protect.
	if caller.Authenticated && !ab.ReadOnly {
		token := r.Header.Get(NonceHeader)
		if !s.nonces.Verify(caller.ID, token) {
			writeError(w, http.StatusForbidden, CodeInvalidNonce, "Invalid or expired security token.")
			return
		}
	}

	if err := s.hooks.RunAllowExecution(toolName, input, caller); err != nil {
		code, message := CodeForbidden, "Execution blocked."
		var abErr *ability.Error
		if errors.As(err, &abErr) {
			code, message = abErr.Code, abErr.Message
		}
		writeError(w, http.StatusForbidden, code, message)
		return
	}

	if !s.limiter.CheckExecution(caller.ID, toolName) {
		w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter()))
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded. Please wait before making more requests.")
		return
	}

	result, execErr := s.execute(ab, caller, input)
	durationMs := float64(time.Since(startTime).Milliseconds())
	success := execErr == nil

	s.tracker.Track(toolName, success, durationMs)
	s.hooks.RunToolExecuted(toolName, caller.ID, success)

	if execErr != nil {
		var abErr *ability.Error
		if errors.As(execErr, &abErr) {
			logger.Warn().
				Str("tool", toolName).
				Int64("userId", caller.ID).
				Str("code", abErr.Code).
				Msg("Tool returned an error")
			writeError(w, abErr.HTTPStatus(), abErr.Code, abErr.Message)
			return
		}

		// Unexpected fault: never leak internals to the caller.
		logger.Error().
			Err(execErr).
			Str("tool", toolName).
			Int64("userId", caller.ID).
			Msg("Tool execution failed")
		writeError(w, http.StatusInternalServerError, CodeExecutionError, "Tool execution failed.")
		return
	}

	logger.Info().
		Str("tool", toolName).
		Int64("userId", caller.ID).
		Float64("durationMs", durationMs).
		Msg("Tool executed")

	writeJSON(w, http.StatusOK, ExecuteResponse{Result: result})
}

// handleNonce implements GET /nonce: always 200 with a fresh token.
func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	caller := s.auth.Authenticate(r)
	writeJSON(w, http.StatusOK, NonceResponse{Nonce: s.nonces.Issue(caller.ID)})
}

// execute runs the ability and converts panics into plain errors so a
// misbehaving ability cannot crash the gateway.
func (s *Server) execute(ab *ability.Ability, caller ability.Caller, input map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("tool", ab.Name).
				Msg("Panic during tool execution")
			err = errors.New("tool execution panicked")
		}
	}()

	ctx := ability.WithCaller(context.Background(), caller)
	return ab.Execute(ctx, input)
}

// readBody reads at most MaxPayloadBytes+1 bytes and reports whether the
// body exceeded the limit.
func (s *Server) readBody(r *http.Request) ([]byte, bool, error) {
	limited := io.LimitReader(r.Body, s.options.MaxPayloadBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	return body, int64(len(body)) > s.options.MaxPayloadBytes, nil
}

// parseInput decodes the execution request body. An empty body means no
// arguments; a JSON null is treated the same way.
func parseInput(body []byte) (map[string]interface{}, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]interface{}{}, nil
	}

	var input map[string]interface{}
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	return input, nil
}
