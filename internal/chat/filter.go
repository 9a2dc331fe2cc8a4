package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RejectReason explains why the filter refused a message.
type RejectReason string

const (
	RejectBlockedTerm RejectReason = "blocked_term"
	RejectRateLimited RejectReason = "rate_limited"
)

// DefaultBlockedTerms is the denylist used when none is configured.
var DefaultBlockedTerms = []string{"crypto", "bitcoin", "free money", "casino", "viagra", "click here"}

const (
	DefaultRateLimit  = 5
	DefaultRateWindow = 10 * time.Second
)

// Decision is the result of evaluating one message.
type Decision struct {
	Accepted bool
	Reason   RejectReason
}

// FilterConfig configures a Filter. Zero values select the defaults.
type FilterConfig struct {
	BlockedTerms []string
	Limit        int
	Window       time.Duration
}

// Filter decides whether a user may post a given message. Terms are matched
// case-insensitively as substrings; the rate limit is a fixed window per user
// shared across all rooms.
type Filter struct {
	terms   []string
	counter Counter
	limit   int64
	window  time.Duration
	logger  *slog.Logger
}

// NewFilter builds a Filter that counts messages through counter.
func NewFilter(counter Counter, cfg FilterConfig, logger *slog.Logger) *Filter {
	terms := cfg.BlockedTerms
	if terms == nil {
		terms = DefaultBlockedTerms
	}
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			normalized = append(normalized, term)
		}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultRateLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		terms:   normalized,
		counter: counter,
		limit:   int64(cfg.Limit),
		window:  cfg.Window,
		logger:  logger.With(slog.String("component", "filter")),
	}
}

// Evaluate checks content against the denylist, then counts the message
// against the user's window. A blocked message is rejected without touching
// the counter. When the counter is unreachable the message is accepted.
func (f *Filter) Evaluate(ctx context.Context, user UserID, content string) Decision {
	if f.blocked(content) {
		return Decision{Reason: RejectBlockedTerm}
	}
	if f.counter == nil {
		return Decision{Accepted: true}
	}

	count, err := f.counter.Incr(ctx, rateKey(user), f.window)
	if err != nil {
		f.logger.Warn("rate counter unavailable; accepting message",
			slog.Int64("user", int64(user)), slog.Any("error", err))
		return Decision{Accepted: true}
	}
	if count > f.limit {
		return Decision{Reason: RejectRateLimited}
	}
	return Decision{Accepted: true}
}

func (f *Filter) blocked(content string) bool {
	lower := strings.ToLower(content)
	for _, term := range f.terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func rateKey(user UserID) string {
	return fmt.Sprintf("rate_limit:user:%d", user)
}
