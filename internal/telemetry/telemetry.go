// Package telemetry registers the bot's Prometheus metrics and exposes small
// typed setters/incrementers so callers never touch label strings by hand.
// Grounded on chidi150c-coinbase/metrics.go's init()-registered
// prometheus.NewCounterVec/GaugeVec pattern, generalized from that bot's
// paper-trading labels to the tick/pause/proposal/dead-letter metrics this
// bot needs.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	tickLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmbot_tick_latency_ms",
			Help:    "Wall-clock duration of one executor tick.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"exchange", "symbol"},
	)

	pauseDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmbot_pause_duration_ms",
			Help:    "Duration of completed PAUSE episodes.",
			Buckets: []float64{1000, 5000, 10000, 30000, 60000, 300000},
		},
		[]string{"exchange", "symbol", "reason"},
	)

	modeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmbot_mode",
			Help: "Current strategy mode, one labeled series per mode flipped 0/1.",
		},
		[]string{"exchange", "symbol", "mode"},
	)

	proposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmbot_proposals_total",
			Help: "LLM proposals by terminal status (applied|rejected).",
		},
		[]string{"exchange", "symbol", "status"},
	)

	rolloutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmbot_rollouts_total",
			Help: "Param rollout audit events by action (apply|reject|rollback).",
		},
		[]string{"exchange", "symbol", "action"},
	)

	deadLetterDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmbot_dead_letter_depth",
			Help: "Number of order intents parked in the dead-letter queue after exhausting retries.",
		},
		[]string{"exchange", "symbol"},
	)

	adapterRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmbot_adapter_retries_total",
			Help: "Retry attempts against the trading adapter, by outcome (retry|dead_letter).",
		},
		[]string{"exchange", "symbol", "outcome"},
	)

	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmbot_feed_reconnects_total",
			Help: "Market-data feed reconnects, by trigger (backoff|watchdog).",
		},
		[]string{"exchange", "symbol", "trigger"},
	)

	rateLimitWaitMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmbot_rate_limit_wait_ms",
			Help:    "Time spent blocked on a trading-adapter rate-limit bucket, by bucket.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"exchange", "symbol", "bucket"},
	)
)

func init() {
	prometheus.MustRegister(tickLatencyMs, pauseDurationMs, modeGauge)
	prometheus.MustRegister(proposalsTotal, rolloutsTotal)
	prometheus.MustRegister(deadLetterDepth, adapterRetriesTotal, reconnectsTotal)
	prometheus.MustRegister(rateLimitWaitMs)
}

// ObserveTickLatency records how long one executor tick took.
func ObserveTickLatency(exchange, symbol string, ms float64) {
	tickLatencyMs.WithLabelValues(exchange, symbol).Observe(ms)
}

// ObservePauseDuration records the length of a completed PAUSE episode.
func ObservePauseDuration(exchange, symbol, reason string, ms float64) {
	pauseDurationMs.WithLabelValues(exchange, symbol, reason).Observe(ms)
}

// SetMode flips the three-way mode gauge so exactly one series reads 1.
func SetMode(exchange, symbol, mode string) {
	for _, m := range []string{"NORMAL", "DEFENSIVE", "PAUSE"} {
		if m == mode {
			modeGauge.WithLabelValues(exchange, symbol, m).Set(1)
		} else {
			modeGauge.WithLabelValues(exchange, symbol, m).Set(0)
		}
	}
}

// IncProposalApplied/IncProposalRejected record a terminal proposal status.
func IncProposalApplied(exchange, symbol string)  { proposalsTotal.WithLabelValues(exchange, symbol, "applied").Inc() }
func IncProposalRejected(exchange, symbol string) { proposalsTotal.WithLabelValues(exchange, symbol, "rejected").Inc() }

// IncRollout records an apply/reject/rollback audit event.
func IncRollout(exchange, symbol, action string) {
	rolloutsTotal.WithLabelValues(exchange, symbol, action).Inc()
}

// SetDeadLetterDepth reports the current size of the dead-letter queue.
func SetDeadLetterDepth(exchange, symbol string, n int) {
	deadLetterDepth.WithLabelValues(exchange, symbol).Set(float64(n))
}

// IncAdapterRetry records a retry attempt and its outcome.
func IncAdapterRetry(exchange, symbol, outcome string) {
	adapterRetriesTotal.WithLabelValues(exchange, symbol, outcome).Inc()
}

// IncReconnect records a feed reconnect and its trigger.
func IncReconnect(exchange, symbol, trigger string) {
	reconnectsTotal.WithLabelValues(exchange, symbol, trigger).Inc()
}

// ObserveRateLimitWait records how long a call blocked on a rate-limit
// bucket before it was admitted.
func ObserveRateLimitWait(exchange, symbol, bucket string, ms float64) {
	rateLimitWaitMs.WithLabelValues(exchange, symbol, bucket).Observe(ms)
}
