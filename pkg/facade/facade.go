// Package facade exposes a single entry point for calling any configured
// (provider, model) pair, owning the per-pair shapers and credential pools
// and one shared cost ledger across all of them.
package facade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ratemediator/pkg/credential"
	"ratemediator/pkg/dialect"
	"ratemediator/pkg/engine"
	"ratemediator/pkg/ledger"
	"ratemediator/pkg/logx"
	"ratemediator/pkg/metrics"
	"ratemediator/pkg/presets"
	"ratemediator/pkg/queue"
	"ratemediator/pkg/shaper"
	"ratemediator/pkg/transport"
)

// ModelConfig describes how to reach and rotate credentials for one
// (provider, model) pair, overriding preset defaults where set.
type ModelConfig struct {
	Provider          string
	Model             string
	Keys              []string
	Strategy          credential.Strategy
	DefaultCooldown   time.Duration
	Dialect           dialect.Dialect
	RequestsPerMinute float64 // 0 uses the preset value
	TokensPerMinute   float64 // 0 uses the preset value
	InputCostPer1K    float64 // 0 uses the preset value
	OutputCostPer1K   float64 // 0 uses the preset value

	// WarningThreshold overrides the facade-wide capacity warning threshold
	// (see WithCapacityWarningThreshold) for this pair alone. 0 inherits it.
	WarningThreshold float64
}

type pairKey struct {
	provider string
	model    string
}

// Facade is the MultiProviderFacade: it indexes one Engine per configured
// (provider, model) pair and routes Call to it.
type Facade struct {
	mu        sync.RWMutex
	engines   map[pairKey]*engine.Engine
	pools     map[pairKey]*credential.Pool
	queues    map[pairKey]*queue.Queue
	ledger    *ledger.Ledger
	metrics   metrics.Recorder
	logger    *logx.Logger
	presets   *presets.Table
	transport transport.Transport
	backoff   engine.BackoffConfig
	queueSize int

	warningThreshold  float64
	onCapacityWarning func(provider, model string, usageRatio float64)
}

// Option configures a Facade at construction.
type Option func(*Facade)

// WithMetrics sets the metrics.Recorder shared by every engine.
func WithMetrics(m metrics.Recorder) Option {
	return func(f *Facade) { f.metrics = m }
}

// WithLogger sets the logx.Logger shared by every engine.
func WithLogger(l *logx.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithPresetOverlay loads an on-disk YAML overlay into the preset table
// used to fill in unset ModelConfig fields.
func WithPresetOverlay(path string) Option {
	return func(f *Facade) {
		if err := f.presets.LoadOverlay(path); err != nil && f.logger != nil {
			f.logger.Warn("facade: failed to load preset overlay %s: %v", path, err)
		}
	}
}

// WithBackoff overrides the default retry/backoff policy applied by every
// engine created from this facade.
func WithBackoff(b engine.BackoffConfig) Option {
	return func(f *Facade) { f.backoff = b }
}

// WithCapacityWarningThreshold sets the facade-wide fraction of remaining
// capacity that triggers a capacity warning (see engine.Engine.WarningThreshold).
// 0 (the default) uses the engine's own default of 0.1 (warn at 90% usage).
func WithCapacityWarningThreshold(threshold float64) Option {
	return func(f *Facade) { f.warningThreshold = threshold }
}

// WithCapacityWarningFunc registers a callback invoked whenever any pair's
// usage ratio crosses its capacity warning threshold, in addition to the
// facade's own metrics/logging.
func WithCapacityWarningFunc(fn func(provider, model string, usageRatio float64)) Option {
	return func(f *Facade) { f.onCapacityWarning = fn }
}

// WithAdmissionQueue gives each (provider, model) pair a priority queue
// holding at most maxPending waiting CallQueued callers, drained by one
// worker that runs their calls one at a time in priority order; a caller
// arriving while the queue is full gets queue.ErrQueueFull. A zero value
// (the default) disables queuing: Call and CallQueued behave identically.
func WithAdmissionQueue(maxPending int) Option {
	return func(f *Facade) { f.queueSize = maxPending }
}

// New builds a Facade with one shared Ledger bound to budget, and one
// Engine per entry in configs.
func New(budget ledger.BudgetSpec, transportImpl transport.Transport, configs []ModelConfig, opts ...Option) (*Facade, error) {
	f := &Facade{
		engines:   make(map[pairKey]*engine.Engine),
		pools:     make(map[pairKey]*credential.Pool),
		queues:    make(map[pairKey]*queue.Queue),
		presets:   presets.NewTable(),
		transport: transportImpl,
		backoff:   engine.DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.ledger = ledger.New(budget, 100000, ledger.WithAlertThresholds(0.8, 0.95), ledger.WithAlertFunc(f.onAlert))

	for _, cfg := range configs {
		if err := f.addPair(cfg); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Facade) onAlert(window ledger.Window, threshold, spend, limit float64) {
	if f.metrics != nil {
		f.metrics.IncBudgetAlert(windowName(window), threshold)
	}
	if f.logger != nil {
		f.logger.Warn("budget alert: %s window at %.0f%% ($%.2f of $%.2f)", windowName(window), threshold*100, spend, limit)
	}
}

func (f *Facade) onCapacityWarningFired(provider, model string, usageRatio float64) {
	if f.metrics != nil {
		f.metrics.IncCapacityWarning(provider, model)
	}
	if f.logger != nil {
		f.logger.Warn("capacity warning: %s/%s at %.0f%% usage", provider, model, usageRatio*100)
	}
	if f.onCapacityWarning != nil {
		f.onCapacityWarning(provider, model, usageRatio)
	}
}

func windowName(w ledger.Window) string {
	switch w {
	case ledger.WindowDaily:
		return "daily"
	case ledger.WindowWeekly:
		return "weekly"
	case ledger.WindowMonthly:
		return "monthly"
	default:
		return "unknown"
	}
}

func (f *Facade) addPair(cfg ModelConfig) error {
	key := pairKey{cfg.Provider, cfg.Model}

	preset, hasPreset := f.presets.Lookup(cfg.Provider, cfg.Model)
	rpm, tpm := cfg.RequestsPerMinute, cfg.TokensPerMinute
	inputCostPer1K, outputCostPer1K := cfg.InputCostPer1K, cfg.OutputCostPer1K
	if rpm == 0 && hasPreset {
		rpm = preset.RequestsPerMinute
	}
	if tpm == 0 && hasPreset {
		tpm = preset.TokensPerMinute
	}
	if inputCostPer1K == 0 && hasPreset {
		inputCostPer1K = preset.InputCostPer1K
	}
	if outputCostPer1K == 0 && hasPreset {
		outputCostPer1K = preset.OutputCostPer1K
	}
	if rpm == 0 || tpm == 0 {
		return fmt.Errorf("%w: no rate limits configured or known for %s/%s", engine.ErrConfig, cfg.Provider, cfg.Model)
	}

	cooldown := cfg.DefaultCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	pool, err := credential.New(cfg.Keys, cfg.Strategy, cooldown, nil)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %w", engine.ErrConfig, cfg.Provider, cfg.Model, err)
	}

	// An unset Dialect is chosen by provider name, falling back to Generic.
	d := cfg.Dialect
	if d == nil {
		switch cfg.Provider {
		case "openai":
			d = dialect.OpenAI{}
		case "anthropic":
			d = dialect.Anthropic{}
		default:
			d = dialect.NewGeneric(dialect.DefaultGenericConfig())
		}
	}

	warningThreshold := cfg.WarningThreshold
	if warningThreshold == 0 {
		warningThreshold = f.warningThreshold
	}

	var throttleProvider, throttleModel = cfg.Provider, cfg.Model
	s := shaper.New(shaper.Limits{RequestsPerMinute: rpm, TokensPerMinute: tpm}, func(on string, wait time.Duration) {
		if f.metrics != nil {
			f.metrics.IncThrottle(throttleProvider, throttleModel, on)
		}
	})

	e := &engine.Engine{
		Provider:          cfg.Provider,
		Model:             cfg.Model,
		Transport:         f.transport,
		Shaper:            s,
		Pool:              pool,
		Dialect:           d,
		Ledger:            f.ledger,
		InputCostPer1K:    inputCostPer1K,
		OutputCostPer1K:   outputCostPer1K,
		WarningThreshold:  warningThreshold,
		OnCapacityWarning: f.onCapacityWarningFired,
		Metrics:           f.metrics,
		Logger:            f.logger,
		Backoff:           f.backoff,
	}

	f.mu.Lock()
	f.engines[key] = e
	f.pools[key] = pool
	if f.queueSize > 0 {
		q := queue.New(f.queueSize)
		f.queues[key] = q
		go f.runQueueWorker(key, e, q)
	}
	f.mu.Unlock()
	return nil
}

// queuedCall is the payload an admission queue item carries through to
// the worker goroutine that actually invokes the engine.
type queuedCall struct {
	ctx           context.Context
	correlationID string
	estTokens     float64
	build         engine.RequestBuilder
	extractUsage  engine.UsageExtractor
}

// runQueueWorker drains q for one (provider, model) pair, running calls
// one at a time so the engine's own shaping/backoff governs pacing; the
// queue's job is purely bounding how many callers wait versus reject with
// ErrQueueFull.
func (f *Facade) runQueueWorker(key pairKey, e *engine.Engine, q *queue.Queue) {
	for {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			return
		}
		call := item.Payload.(queuedCall)
		outcome, callErr := e.Call(call.ctx, call.correlationID, call.estTokens, call.build, call.extractUsage)
		if callErr != nil {
			q.Fail(item, callErr)
			continue
		}
		q.Complete(item, outcome)
	}
}

// Call routes one request to the engine for (provider, model).
func (f *Facade) Call(ctx context.Context, provider, model, correlationID string, estTokens float64, build engine.RequestBuilder, extractUsage engine.UsageExtractor) (engine.Outcome, error) {
	f.mu.RLock()
	e, ok := f.engines[pairKey{provider, model}]
	f.mu.RUnlock()
	if !ok {
		return engine.Outcome{}, fmt.Errorf("%w: unknown provider/model %s/%s", engine.ErrConfig, provider, model)
	}
	return e.Call(ctx, correlationID, estTokens, build, extractUsage)
}

// CallQueued routes one request through the (provider, model) pair's
// admission queue, ordered by priority (lower runs first) then arrival.
// If no admission queue was configured via WithAdmissionQueue, it behaves
// exactly like Call. Returns queue.ErrQueueFull if the queue is full, and
// queue.ErrQueueTimeout if timeout elapses before the call resolves,
// which can happen while the worker is already running the engine call.
func (f *Facade) CallQueued(ctx context.Context, provider, model, correlationID string, priority int, estTokens float64, timeout time.Duration, build engine.RequestBuilder, extractUsage engine.UsageExtractor) (engine.Outcome, error) {
	f.mu.RLock()
	key := pairKey{provider, model}
	e, ok := f.engines[key]
	q := f.queues[key]
	f.mu.RUnlock()
	if !ok {
		return engine.Outcome{}, fmt.Errorf("%w: unknown provider/model %s/%s", engine.ErrConfig, provider, model)
	}
	if q == nil {
		return e.Call(ctx, correlationID, estTokens, build, extractUsage)
	}

	result, err := q.Enqueue(ctx, priority, queuedCall{
		ctx:           ctx,
		correlationID: correlationID,
		estTokens:     estTokens,
		build:         build,
		extractUsage:  extractUsage,
	}, timeout)
	if err != nil {
		return engine.Outcome{}, err
	}
	return result.(engine.Outcome), nil
}

// Snapshot is a point-in-time view of facade-wide spend and credential
// health, returned by Metrics.
type Snapshot struct {
	TotalSpend        float64
	SpendByModel      map[string]float64
	CredentialsByPair map[string][]credential.State
}

// Metrics returns a snapshot of current ledger totals and credential pool
// state across every configured (provider, model) pair.
func (f *Facade) Metrics() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := Snapshot{
		SpendByModel:      f.ledger.BreakdownByModel(time.Time{}),
		TotalSpend:        f.ledger.Total(),
		CredentialsByPair: make(map[string][]credential.State, len(f.pools)),
	}
	for key, pool := range f.pools {
		snap.CredentialsByPair[key.provider+"/"+key.model] = pool.AllStates()
	}
	return snap
}
