package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder with client_golang counters and
// histograms, labeled by provider/model rather than story/agent/state.
type PrometheusRecorder struct {
	requestsTotal     *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	costsTotal        *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	throttleTotal     *prometheus.CounterVec
	queueWaitTime     *prometheus.HistogramVec
	cooldownTotal     *prometheus.CounterVec
	budgetAlertsTotal *prometheus.CounterVec
	capacityWarnTotal *prometheus.CounterVec
}

// NewPrometheusRecorder registers and returns a PrometheusRecorder against
// the default registry via promauto.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderFor(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderFor registers against a caller-supplied registerer,
// so tests can use a fresh prometheus.NewRegistry() instead of colliding
// with the global default.
func NewPrometheusRecorderFor(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratemediator",
			Name:      "requests_total",
			Help:      "Total outbound LLM requests by provider, model, and outcome.",
		}, []string{"provider", "model", "status", "error_type"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratemediator",
			Name:      "tokens_total",
			Help:      "Total prompt and completion tokens observed, by provider/model/kind.",
		}, []string{"provider", "model", "kind"}),
		costsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratemediator",
			Name:      "cost_total",
			Help:      "Total accrued cost by provider and model.",
		}, []string{"provider", "model"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ratemediator",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound LLM requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "model", "status"}),
		throttleTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratemediator",
			Name:      "throttle_total",
			Help:      "Times a request was delayed by the client-side shaper.",
		}, []string{"provider", "model", "reason"}),
		queueWaitTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ratemediator",
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting in the admission queue.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		cooldownTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratemediator",
			Name:      "credential_cooldown_total",
			Help:      "Times a credential was placed on cooldown after a remote rate-limit signal.",
		}, []string{"provider"}),
		budgetAlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratemediator",
			Name:      "budget_alert_total",
			Help:      "Times a budget alert threshold was crossed.",
		}, []string{"window", "threshold"}),
		capacityWarnTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratemediator",
			Name:      "capacity_warning_total",
			Help:      "Times a response's usage ratio crossed the capacity warning threshold.",
		}, []string{"provider", "model"}),
	}
}

// ObserveRequest implements Recorder.
func (p *PrometheusRecorder) ObserveRequest(provider, model string, promptTokens, completionTokens int, cost float64, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.requestsTotal.WithLabelValues(provider, model, status, errorType).Inc()
	p.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	p.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	p.costsTotal.WithLabelValues(provider, model).Add(cost)
	p.requestDuration.WithLabelValues(provider, model, status).Observe(duration.Seconds())
}

// IncThrottle implements Recorder.
func (p *PrometheusRecorder) IncThrottle(provider, model, reason string) {
	p.throttleTotal.WithLabelValues(provider, model, reason).Inc()
}

// ObserveQueueWait implements Recorder.
func (p *PrometheusRecorder) ObserveQueueWait(provider, model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// IncCredentialCooldown implements Recorder.
func (p *PrometheusRecorder) IncCredentialCooldown(provider string) {
	p.cooldownTotal.WithLabelValues(provider).Inc()
}

// IncBudgetAlert implements Recorder.
func (p *PrometheusRecorder) IncBudgetAlert(window string, threshold float64) {
	p.budgetAlertsTotal.WithLabelValues(window, strconv.FormatFloat(threshold, 'f', -1, 64)).Inc()
}

// IncCapacityWarning implements Recorder.
func (p *PrometheusRecorder) IncCapacityWarning(provider, model string) {
	p.capacityWarnTotal.WithLabelValues(provider, model).Inc()
}
