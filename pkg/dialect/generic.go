package dialect

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GenericConfig names the headers a Generic dialect should read. Any left
// empty are simply not looked up.
type GenericConfig struct {
	RemainingRequestsHeader string
	LimitRequestsHeader     string
	RemainingTokensHeader   string
	LimitTokensHeader       string
	ResetHeader             string // applies to both requests and tokens
}

// DefaultGenericConfig covers the header names most self-hosted and
// third-party gateways use.
func DefaultGenericConfig() GenericConfig {
	return GenericConfig{
		RemainingRequestsHeader: "x-ratelimit-remaining",
		LimitRequestsHeader:     "x-ratelimit-limit",
		RemainingTokensHeader:   "x-ratelimit-remaining-tokens",
		LimitTokensHeader:       "x-ratelimit-limit-tokens",
		ResetHeader:             "x-ratelimit-reset",
	}
}

// Generic implements Dialect for providers with configurable,
// case-insensitive header names and an epoch-or-ISO8601 reset value.
type Generic struct {
	Config GenericConfig
}

// NewGeneric builds a Generic dialect from the given header configuration.
func NewGeneric(cfg GenericConfig) Generic {
	return Generic{Config: cfg}
}

func (g Generic) Name() string { return "generic" }

func (g Generic) Parse(headers http.Header) LimitSnapshot {
	snap := LimitSnapshot{
		RequestsRemaining: -1,
		RequestsLimit:     -1,
		TokensRemaining:   -1,
		TokensLimit:       -1,
	}
	found := false

	get := func(name string) string {
		if name == "" {
			return ""
		}
		return headers.Get(name)
	}

	if v := get(g.Config.RemainingRequestsHeader); v != "" {
		snap.RequestsRemaining = atoiOr(v, -1)
		found = true
	}
	if v := get(g.Config.LimitRequestsHeader); v != "" {
		snap.RequestsLimit = atoiOr(v, -1)
		found = true
	}
	if v := get(g.Config.RemainingTokensHeader); v != "" {
		snap.TokensRemaining = atoiOr(v, -1)
		found = true
	}
	if v := get(g.Config.LimitTokensHeader); v != "" {
		snap.TokensLimit = atoiOr(v, -1)
		found = true
	}
	if v := get(g.Config.ResetHeader); v != "" {
		if t, ok := parseEpochOrISO8601(v); ok {
			snap.ResetRequests = t
			snap.ResetTokens = t
			found = true
		}
	}

	snap.Present = found
	return snap
}

func (g Generic) IsRemoteLimit(status int, _ string) bool {
	return status == http.StatusTooManyRequests
}

func (g Generic) RetryAfter(headers http.Header) time.Duration {
	return parseRetryAfterHeader(headers)
}

// parseEpochOrISO8601 parses v either as a unix timestamp (seconds, or
// milliseconds if the value exceeds 1e12) or as an RFC3339 timestamp.
func parseEpochOrISO8601(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f > 1e12 {
			return time.UnixMilli(int64(f)), true
		}
		return time.Unix(int64(f), 0), true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}
