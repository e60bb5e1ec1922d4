// Package engine orchestrates one outbound LLM call end to end: budget
// admission, rate shaping, credential selection, the transport round trip,
// response-header interpretation, and retry/rotation on remote limits.
//
// Unlike a middleware chain wrapping an LLM client, this is a single
// explicit orchestrator: every step is inline in Call, because the steps
// share state (which credential was used, how many tokens were actually
// spent) that a generic middleware stage can't see.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"ratemediator/pkg/credential"
	"ratemediator/pkg/dialect"
	"ratemediator/pkg/ledger"
	"ratemediator/pkg/llmerrors"
	"ratemediator/pkg/logx"
	"ratemediator/pkg/metrics"
	"ratemediator/pkg/shaper"
	"ratemediator/pkg/transport"
)

// ErrConfig marks a configuration problem (unknown provider/model, no
// credentials configured). Call also wraps it around
// ledger.ErrBudgetExceeded when the budget is already spent at admission.
// Never retried.
var ErrConfig = errors.New("engine: configuration error")

// BackoffConfig controls the exponential backoff applied between retry
// attempts, grounded on the retry-policy arithmetic this module's
// orchestrator lineage uses elsewhere.
type BackoffConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultBackoff mirrors the orchestrator's default retry posture for
// rate-limit-shaped errors.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:   6,
		InitialDelay:  time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// CalculateDelay returns the backoff delay before retry attempt N
// (1-indexed: attempt 1 is the first retry after the initial try).
func (c BackoffConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialDelay) * pow(c.BackoffFactor, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	d := time.Duration(delay)
	if c.Jitter {
		jitter := (rand.Float64()*0.2 - 0.1) * float64(d) //nolint:gosec // backoff jitter, not security sensitive
		d += time.Duration(jitter)
	}
	if d < 0 {
		d = 0
	}
	return d
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// RequestBuilder builds the provider-specific request for a given
// credential key. Called once per attempt, since the credential may
// rotate between attempts.
type RequestBuilder func(apiKey string) transport.Request

// Outcome records what happened for one Call, successful or not.
type Outcome struct {
	CorrelationID    string
	Attempts         int
	StatusCode       int
	CredentialUsed   string // masked fingerprint, never the raw key
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Duration         time.Duration
}

// UsageExtractor pulls prompt/completion token counts out of a successful
// response, since the wire format is provider-specific and the engine
// itself stays provider-agnostic. The engine prices those counts itself.
type UsageExtractor func(resp transport.Response) (promptTokens, completionTokens int, err error)

// OnCapacityWarning is invoked when a response's rate-limit snapshot shows
// usage at or above the configured warning threshold. It is informational
// only, never an error, and is invoked synchronously.
type OnCapacityWarning func(provider, model string, usageRatio float64)

// Engine is a single orchestrator binding a Shaper, CredentialPool,
// Dialect, Ledger, and Transport together for one (provider, model) pair.
type Engine struct {
	Provider string
	Model    string

	Transport transport.Transport
	Shaper    *shaper.Shaper
	Pool      *credential.Pool
	Dialect   dialect.Dialect
	Ledger    *ledger.Ledger

	// InputCostPer1K and OutputCostPer1K price prompt and completion
	// tokens separately, since providers typically charge less for input
	// than for output.
	InputCostPer1K  float64
	OutputCostPer1K float64

	// WarningThreshold is the fraction of remaining capacity (not usage)
	// that triggers OnCapacityWarning: a warning fires once usageRatio
	// reaches 1 - WarningThreshold. Defaults to 0.1 (warn at 90% usage).
	WarningThreshold  float64
	OnCapacityWarning OnCapacityWarning

	Metrics metrics.Recorder
	Logger  *logx.Logger
	Backoff BackoffConfig
}

func (e *Engine) warningThreshold() float64 {
	if e.WarningThreshold <= 0 {
		return 0.1
	}
	return e.WarningThreshold
}

func (e *Engine) estimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*e.InputCostPer1K + float64(completionTokens)/1000*e.OutputCostPer1K
}

// Call runs the full admission -> shape -> select -> transport -> parse ->
// update -> retry loop for one logical request. estTokens is the
// pre-call token estimate used for shaping; extractUsage reports the
// actual prompt/completion tokens spent once a response succeeds.
func (e *Engine) Call(ctx context.Context, correlationID string, estTokens float64, build RequestBuilder, extractUsage UsageExtractor) (Outcome, error) {
	metrics := e.metricsOrNoop()
	logger := e.loggerOrDefault()

	// Admission is re-evaluated with a zero increment: it only catches a
	// budget already breached by prior calls, since the actual cost of
	// this call isn't known until the response reports real token counts.
	if e.Ledger != nil && e.Ledger.WouldExceed(0) {
		return Outcome{CorrelationID: correlationID}, fmt.Errorf("%w: budget already exceeded: %w", ErrConfig, ledger.ErrBudgetExceeded)
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= e.Backoff.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{CorrelationID: correlationID, Attempts: attempt - 1}, err
		}

		if err := e.Shaper.Acquire(ctx, estTokens); err != nil {
			return Outcome{CorrelationID: correlationID, Attempts: attempt - 1}, err
		}

		apiKey, err := e.Pool.Select()
		if err != nil {
			lastErr = err
			logger.Warn("no credential available for %s/%s: %v", e.Provider, e.Model, err)
			if !e.sleepBeforeRetry(ctx, attempt) {
				break
			}
			continue
		}

		req := build(apiKey)
		attemptStart := time.Now()
		resp, err := e.Transport.Do(ctx, req)
		if err != nil {
			lastErr = e.classifyTransportErr(err)
			var llmErr *llmerrors.Error
			if errors.As(lastErr, &llmErr) && llmErr.Type == llmerrors.ErrorTypeUnknown {
				// TransportError is surfaced immediately, never retried.
				metrics.ObserveRequest(e.Provider, e.Model, 0, 0, 0, false, llmErr.Type.String(), time.Since(attemptStart))
				return Outcome{CorrelationID: correlationID, Attempts: attempt}, lastErr
			}
			metrics.ObserveRequest(e.Provider, e.Model, 0, 0, 0, false, llmerrors.ErrorTypeTransient.String(), time.Since(attemptStart))
			if !e.sleepBeforeRetry(ctx, attempt) {
				break
			}
			continue
		}

		snapshot := e.Dialect.Parse(resp.Headers)
		if e.Dialect.IsRemoteLimit(resp.StatusCode, string(resp.Body)) {
			retryAfter := e.Dialect.RetryAfter(resp.Headers)
			resetAt := snapshot.ResetRequests
			if resetAt.IsZero() {
				resetAt = snapshot.ResetTokens
			}
			e.Pool.ReportRemoteLimit(apiKey, retryAfter, resetAt)
			metrics.IncCredentialCooldown(e.Provider)
			metrics.ObserveRequest(e.Provider, e.Model, 0, 0, 0, false, llmerrors.ErrorTypeRateLimit.String(), time.Since(attemptStart))
			lastErr = llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, resp.StatusCode, "remote rate limit")
			logger.Debug("remote limit hit for %s/%s using %s, rotating", e.Provider, e.Model, credential.Fingerprint(apiKey))
			if !e.sleepDelay(ctx, attempt, e.remoteLimitDelay(attempt, retryAfter, resetAt)) {
				break
			}
			continue
		}

		if ratio := snapshot.UsageRatio(); snapshot.Present && ratio >= 1-e.warningThreshold() {
			if e.OnCapacityWarning != nil {
				e.OnCapacityWarning(e.Provider, e.Model, ratio)
			}
		}

		promptTokens, completionTokens := 0, 0
		if extractUsage != nil {
			promptTokens, completionTokens, err = extractUsage(resp)
			if err != nil {
				logger.Warn("usage extraction failed for %s/%s: %v", e.Provider, e.Model, err)
			}
		}
		remaining := snapshot.RequestsRemaining
		e.Pool.ReportSuccess(apiKey, promptTokens+completionTokens, remaining)

		cost := e.estimateCost(promptTokens, completionTokens)
		if e.Ledger != nil {
			if err := e.Ledger.Record(ledger.CostEntry{
				Provider:  e.Provider,
				Model:     e.Model,
				Cost:      cost,
				PromptTok: promptTokens,
				OutputTok: completionTokens,
			}); err != nil {
				logger.Warn("ledger record failed for %s/%s: %v", e.Provider, e.Model, err)
			}
		}

		metrics.ObserveRequest(e.Provider, e.Model, promptTokens, completionTokens, cost, true, "", time.Since(attemptStart))

		return Outcome{
			CorrelationID:    correlationID,
			Attempts:         attempt,
			StatusCode:       resp.StatusCode,
			CredentialUsed:   credential.Fingerprint(apiKey),
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Cost:             cost,
			Duration:         time.Since(start),
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("engine: retries exhausted")
	}
	return Outcome{CorrelationID: correlationID, Attempts: e.Backoff.MaxAttempts},
		llmerrors.NewServiceUnavailableError(lastErr, e.Backoff.MaxAttempts)
}

func (e *Engine) sleepBeforeRetry(ctx context.Context, attempt int) bool {
	return e.sleepDelay(ctx, attempt, e.Backoff.CalculateDelay(attempt))
}

// remoteLimitDelay computes the backoff for a remote-limit response per
// the documented precedence: snapshot.retryAfter, else
// snapshot.resetAt - now (clamped >= 0), else the plain exponential
// backoff. Jitter and the max-delay cap still apply to the chosen value.
func (e *Engine) remoteLimitDelay(attempt int, retryAfter time.Duration, resetAt time.Time) time.Duration {
	var delay time.Duration
	switch {
	case retryAfter > 0:
		delay = retryAfter
	case !resetAt.IsZero():
		delay = time.Until(resetAt)
		if delay < 0 {
			delay = 0
		}
	default:
		return e.Backoff.CalculateDelay(attempt)
	}

	if delay > e.Backoff.MaxDelay {
		delay = e.Backoff.MaxDelay
	}
	if e.Backoff.Jitter {
		jitter := (rand.Float64()*0.2 - 0.1) * float64(delay) //nolint:gosec // backoff jitter, not security sensitive
		delay += time.Duration(jitter)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (e *Engine) sleepDelay(ctx context.Context, attempt int, delay time.Duration) bool {
	if attempt >= e.Backoff.MaxAttempts {
		return false
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// classifyTransportErr maps a raw transport error onto the llmerrors
// taxonomy: timeouts (a net.Error reporting Timeout, or
// context.DeadlineExceeded) are Transient (retried); anything else,
// including non-timeout connection errors, is Unknown (surfaced
// immediately, never retried).
func (e *Engine) classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "transport timeout")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "transport timeout")
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "transport error")
}

func (e *Engine) metricsOrNoop() metrics.Recorder {
	if e.Metrics != nil {
		return e.Metrics
	}
	return metrics.NoopRecorder{}
}

func (e *Engine) loggerOrDefault() *logx.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logx.NewLogger("engine")
}
