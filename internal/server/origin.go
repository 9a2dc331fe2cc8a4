package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy is an allow-list of browser origins for WebSocket upgrades
// and credentialed cross-origin requests. "*" allows every origin.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	logger   *slog.Logger
}

// NewOriginPolicy normalizes origins, dropping invalid entries.
func NewOriginPolicy(origins []string, logger *slog.Logger) *OriginPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins)), logger: logger}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration", slog.String("origin", origin))
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
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

// Allowed reports whether origin may connect. An empty origin is refused.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}

	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalized]
	return exists
}

// CheckOrigin is the websocket.Upgrader hook.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	if p.Allowed(r.Header.Get("Origin")) {
		return true
	}

	p.logger.Warn("blocked websocket connection from disallowed origin",
		slog.String("origin", r.Header.Get("Origin")))
	return false
}

// CORS answers preflights and marks responses to allowed origins as
// readable with credentials.
func (p *OriginPolicy) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && p.Allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
