// Package dialect translates provider-specific HTTP response headers and
// status codes into a normalized rate-limit snapshot.
package dialect

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// LimitSnapshot is the normalized view of a provider's rate-limit headers
// on a single response.
type LimitSnapshot struct {
	RequestsRemaining int
	RequestsLimit     int
	TokensRemaining   int
	TokensLimit       int
	ResetRequests     time.Time
	ResetTokens       time.Time
	Present           bool // true if any recognized header was found
}

// UsageRatio reports how much of the tighter of the requests/tokens
// budget has been consumed, as a fraction in [0, 1]. An axis counts only
// when both its limit and its remaining count were reported. Returns 0 if
// no recognized headers were present or no axis had both values.
func (s LimitSnapshot) UsageRatio() float64 {
	if !s.Present {
		return 0
	}
	var ratio float64
	if s.RequestsLimit > 0 && s.RequestsRemaining >= 0 {
		r := 1 - float64(s.RequestsRemaining)/float64(s.RequestsLimit)
		if r > ratio {
			ratio = r
		}
	}
	if s.TokensLimit > 0 && s.TokensRemaining >= 0 {
		r := 1 - float64(s.TokensRemaining)/float64(s.TokensLimit)
		if r > ratio {
			ratio = r
		}
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// Dialect knows how to read one provider's rate-limit conventions.
type Dialect interface {
	// Name identifies the dialect, e.g. "openai".
	Name() string
	// Parse extracts a LimitSnapshot from response headers. Present is
	// false if no recognized rate-limit headers were found.
	Parse(headers http.Header) LimitSnapshot
	// IsRemoteLimit reports whether the status/body combination indicates
	// the provider itself is throttling the request.
	IsRemoteLimit(status int, body string) bool
	// RetryAfter returns the provider's explicit retry delay, if any.
	RetryAfter(headers http.Header) time.Duration
}

// parseRetryAfterHeader parses a standard Retry-After header, which is
// either an integer number of seconds or an HTTP-date.
func parseRetryAfterHeader(headers http.Header) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

func atoiOr(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func bodyMentionsRate(body string) bool {
	return strings.Contains(strings.ToLower(body), "rate")
}
