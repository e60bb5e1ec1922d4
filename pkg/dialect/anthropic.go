package dialect

import (
	"net/http"
	"time"
)

// Anthropic implements Dialect for Anthropic's anthropic-ratelimit-*
// header convention.
type Anthropic struct{}

func (Anthropic) Name() string { return "anthropic" }

func (Anthropic) Parse(headers http.Header) LimitSnapshot {
	snap := LimitSnapshot{
		RequestsRemaining: -1,
		RequestsLimit:     -1,
		TokensRemaining:   -1,
		TokensLimit:       -1,
	}
	found := false

	if v := headers.Get("anthropic-ratelimit-requests-remaining"); v != "" {
		snap.RequestsRemaining = atoiOr(v, -1)
		found = true
	}
	if v := headers.Get("anthropic-ratelimit-requests-limit"); v != "" {
		snap.RequestsLimit = atoiOr(v, -1)
		found = true
	}
	if v := headers.Get("anthropic-ratelimit-tokens-remaining"); v != "" {
		snap.TokensRemaining = atoiOr(v, -1)
		found = true
	}
	if v := headers.Get("anthropic-ratelimit-tokens-limit"); v != "" {
		snap.TokensLimit = atoiOr(v, -1)
		found = true
	}
	if v := headers.Get("anthropic-ratelimit-requests-reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			snap.ResetRequests = t
			found = true
		}
	}
	if v := headers.Get("anthropic-ratelimit-tokens-reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			snap.ResetTokens = t
			found = true
		}
	}

	snap.Present = found
	return snap
}

func (Anthropic) IsRemoteLimit(status int, _ string) bool {
	return status == http.StatusTooManyRequests || status == 529
}

func (Anthropic) RetryAfter(headers http.Header) time.Duration {
	return parseRetryAfterHeader(headers)
}
