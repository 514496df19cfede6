// Package server normalizes and validates HTTP origins for WebSocket gateway
// requests to enforce the configured access control.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open a WebSocket session.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *slog.Logger
}

// NewOriginPolicy builds a policy from configured origins. "*" allows every
// origin; malformed entries are ignored with a warning.
func NewOriginPolicy(origins []string, logger *slog.Logger) *OriginPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	normalized, allowAll := normalizeOrigins(origins, logger)

	policy := &OriginPolicy{
		allowAll: allowAll,
		allowed:  make(map[string]struct{}, len(normalized)),
		logger:   logger,
	}
	for _, origin := range normalized {
		policy.allowed[origin] = struct{}{}
	}
	return policy
}

func normalizeOrigins(origins []string, logger *slog.Logger) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allows reports whether the request's Origin header is permitted. Requests
// without an Origin header come from non-browser clients and are allowed.
func (p *OriginPolicy) Allows(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" || p.allowAll {
		return true
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// Check is the websocket.Upgrader CheckOrigin hook.
func (p *OriginPolicy) Check(r *http.Request) bool {
	if p.Allows(r) {
		return true
	}
	p.logger.Warn("Blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}
