package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratemediator/pkg/credential"
	"ratemediator/pkg/dialect"
	"ratemediator/pkg/ledger"
	"ratemediator/pkg/llmerrors"
	"ratemediator/pkg/shaper"
	"ratemediator/pkg/transport"
)

func newTestEngine(t *testing.T, handler transport.FakeHandler) (*Engine, *transport.Fake) {
	t.Helper()
	pool, err := credential.New([]string{"sk-aaaaaaaaaaaaaaaa", "sk-bbbbbbbbbbbbbbbb"}, credential.RoundRobin, time.Second, nil)
	require.NoError(t, err)

	s := shaper.New(shaper.Limits{RequestsPerMinute: 6000, TokensPerMinute: 6_000_000}, nil)
	lg := ledger.New(ledger.BudgetSpec{}, 100)
	fake := &transport.Fake{Handler: handler}

	e := &Engine{
		Provider:        "openai",
		Model:           "gpt-5",
		Transport:       fake,
		Shaper:          s,
		Pool:            pool,
		Dialect:         dialect.OpenAI{},
		Ledger:          lg,
		InputCostPer1K:  0.005,
		OutputCostPer1K: 0.015,
		Backoff: BackoffConfig{
			MaxAttempts:   3,
			InitialDelay:  5 * time.Millisecond,
			MaxDelay:      20 * time.Millisecond,
			BackoffFactor: 2.0,
			Jitter:        false,
		},
	}
	return e, fake
}

func TestCallSucceedsOnFirstAttempt(t *testing.T) {
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		return transport.Response{
			StatusCode: 200,
			Headers:    http.Header{"X-Ratelimit-Remaining-Requests": []string{"99"}},
		}, nil
	})

	outcome, err := e.Call(context.Background(), "corr-1", 100, func(key string) transport.Request {
		return transport.Request{Method: "POST", URL: "https://api.openai.test/v1/chat"}
	}, func(resp transport.Response) (int, int, error) {
		return 50, 20, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 200, outcome.StatusCode)
	assert.Equal(t, 50, outcome.PromptTokens)
	assert.Equal(t, 20, outcome.CompletionTokens)
}

// "Rotate on 429" end-to-end: first credential hits 429, engine rotates to
// the second and succeeds.
func TestCallRotatesCredentialOn429(t *testing.T) {
	var keysUsed []string
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		key := req.Headers.Get("Authorization")
		keysUsed = append(keysUsed, key)
		if len(keysUsed) == 1 {
			return transport.Response{StatusCode: 429}, nil
		}
		return transport.Response{StatusCode: 200}, nil
	})

	outcome, err := e.Call(context.Background(), "corr-2", 10, func(key string) transport.Request {
		return transport.Request{Headers: http.Header{"Authorization": []string{key}}}
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Attempts)
	require.Len(t, keysUsed, 2)
	assert.NotEqual(t, keysUsed[0], keysUsed[1])
}

// "All exhausted" end-to-end: every attempt returns 429, engine surfaces
// RateLimitExhausted (ErrorTypeServiceUnavailable) after MaxAttempts.
func TestCallReturnsServiceUnavailableWhenExhausted(t *testing.T) {
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		return transport.Response{StatusCode: 429}, nil
	})

	_, err := e.Call(context.Background(), "corr-3", 10, func(key string) transport.Request {
		return transport.Request{}
	}, nil)
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
}

func TestCallRejectsWhenBudgetWouldBeExceeded(t *testing.T) {
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		return transport.Response{StatusCode: 200}, nil
	})
	e.Ledger = ledger.New(ledger.BudgetSpec{Daily: 0.01}, 100)
	// Prior spend already over the daily cap; Record retains the entry
	// even though it reports the breach.
	_ = e.Ledger.Record(ledger.CostEntry{Cost: 0.02})

	_, err := e.Call(context.Background(), "corr-4", 10, func(key string) transport.Request {
		return transport.Request{}
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, err, ledger.ErrBudgetExceeded)
}

func TestCallSurfacesTransportErrorImmediatelyWithoutRetry(t *testing.T) {
	calls := 0
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		calls++
		return transport.Response{}, assertAnError{}
	})

	_, err := e.Call(context.Background(), "corr-5", 10, func(key string) transport.Request {
		return transport.Request{}
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }

// remoteLimitDelay must prefer retryAfter, then resetAt-now (clamped >= 0),
// falling back to plain exponential backoff only when neither is present.
func TestRemoteLimitDelayPrecedence(t *testing.T) {
	e := &Engine{Backoff: BackoffConfig{MaxDelay: time.Minute, BackoffFactor: 2.0, InitialDelay: time.Second}}

	assert.Equal(t, 5*time.Second, e.remoteLimitDelay(1, 5*time.Second, time.Time{}))

	future := time.Now().Add(3 * time.Second)
	d := e.remoteLimitDelay(1, 0, future)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 3*time.Second+time.Millisecond*50)

	// retryAfter wins over resetAt when both are present.
	assert.Equal(t, 5*time.Second, e.remoteLimitDelay(1, 5*time.Second, future))

	// A resetAt in the past clamps to zero rather than going negative.
	past := time.Now().Add(-time.Minute)
	assert.Equal(t, time.Duration(0), e.remoteLimitDelay(1, 0, past))

	// Neither present: falls back to the exponential backoff schedule.
	assert.Equal(t, e.Backoff.CalculateDelay(1), e.remoteLimitDelay(1, 0, time.Time{}))
}

// End to end: a 429 response carrying Retry-After must produce a sleep
// driven by that header rather than the exponential default, confirmed by
// observing the rotated-to credential succeeds well before the exponential
// schedule's much longer delay would have elapsed.
func TestCallHonorsRetryAfterOverExponentialBackoffOnRemoteLimit(t *testing.T) {
	var keysUsed []string
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		key := req.Headers.Get("Authorization")
		keysUsed = append(keysUsed, key)
		if len(keysUsed) == 1 {
			return transport.Response{
				StatusCode: 429,
				Headers:    http.Header{"Retry-After": []string{"1"}},
			}, nil
		}
		return transport.Response{StatusCode: 200}, nil
	})
	e.Backoff.InitialDelay = time.Hour // would time out the test if honored
	e.Backoff.MaxDelay = time.Hour     // so the 1s Retry-After is not clamped away

	start := time.Now()
	outcome, err := e.Call(context.Background(), "corr-6", 10, func(key string) transport.Request {
		return transport.Request{Headers: http.Header{"Authorization": []string{key}}}
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallEmitsCapacityWarningNearExhaustion(t *testing.T) {
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		return transport.Response{
			StatusCode: 200,
			Headers: http.Header{
				"X-Ratelimit-Remaining-Requests": []string{"5"},
				"X-Ratelimit-Limit-Requests":     []string{"100"},
			},
		}, nil
	})
	e.WarningThreshold = 0.1 // warn at >=90% usage; 95/100 used crosses it

	var gotProvider, gotModel string
	var gotRatio float64
	e.OnCapacityWarning = func(provider, model string, usageRatio float64) {
		gotProvider, gotModel, gotRatio = provider, model, usageRatio
	}

	_, err := e.Call(context.Background(), "corr-7", 10, func(key string) transport.Request {
		return transport.Request{}
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", gotProvider)
	assert.Equal(t, "gpt-5", gotModel)
	assert.InDelta(t, 0.95, gotRatio, 1e-9)
}

func TestCallDoesNotEmitCapacityWarningBelowThreshold(t *testing.T) {
	e, _ := newTestEngine(t, func(req transport.Request) (transport.Response, error) {
		return transport.Response{
			StatusCode: 200,
			Headers: http.Header{
				"X-Ratelimit-Remaining-Requests": []string{"50"},
				"X-Ratelimit-Limit-Requests":     []string{"100"},
			},
		}, nil
	})
	e.WarningThreshold = 0.1

	called := false
	e.OnCapacityWarning = func(provider, model string, usageRatio float64) {
		called = true
	}

	_, err := e.Call(context.Background(), "corr-8", 10, func(key string) transport.Request {
		return transport.Request{}
	}, nil)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestBackoffCalculateDelayGrowsExponentially(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}
	assert.Equal(t, 100*time.Millisecond, cfg.CalculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.CalculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.CalculateDelay(3))
}

func TestBackoffCalculateDelayCapsAtMaxDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, BackoffFactor: 2.0}
	assert.Equal(t, 250*time.Millisecond, cfg.CalculateDelay(5))
}
