// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobridge_sends_total",
			Help: "Outgoing send attempts by kind and confirmation outcome",
		},
		[]string{"kind", "outcome"},
	)

	sendConfirmLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echobridge_send_confirm_latency_seconds",
			Help:    "Time from dispatch to a matching row appearing in the store",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	pendingExpectations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "echobridge_pending_expectations",
			Help: "Outgoing expectations awaiting a matching row",
		},
	)

	pollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobridge_poll_ticks_total",
			Help: "Watcher ticks by result (ok, skipped, query_error)",
		},
		[]string{"result"},
	)

	rowsObservedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobridge_rows_observed_total",
			Help: "New rows surfaced by polling, by disposition",
		},
		[]string{"disposition"}, // matched, forwarded, filtered, duplicate
	)

	webhookAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobridge_webhook_attempts_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"},
	)

	webhookDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echobridge_webhook_delivery_failures_total",
			Help: "Rows whose webhook delivery exhausted all attempts",
		},
	)

	pluginErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echobridge_plugin_errors_total",
			Help: "Plugin hook failures by plugin name",
		},
		[]string{"plugin"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSend records a completed send by kind ("text" or "attachment")
// and outcome ("confirmed", "unconfirmed", "failed", "rejected").
func RecordSend(kind, outcome string) {
	sendsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordConfirmLatency records dispatch-to-match latency for a confirmed send.
func RecordConfirmLatency(kind string, d time.Duration) {
	sendConfirmLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// SetPendingExpectations sets the current number of unresolved expectations.
func SetPendingExpectations(n int) {
	pendingExpectations.Set(float64(n))
}

// RecordPollTick records a watcher tick result.
func RecordPollTick(result string) {
	pollTicksTotal.WithLabelValues(result).Inc()
}

// RecordRowObserved records the disposition of one polled row.
func RecordRowObserved(disposition string) {
	rowsObservedTotal.WithLabelValues(disposition).Inc()
}

// RecordWebhookAttempt records one webhook attempt ("success" or "failure").
func RecordWebhookAttempt(result string) {
	webhookAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordWebhookDeliveryFailure records a row whose delivery gave up.
func RecordWebhookDeliveryFailure() {
	webhookDeliveryFailures.Inc()
}

// RecordPluginError records a caught plugin hook failure.
func RecordPluginError(plugin string) {
	pluginErrorsTotal.WithLabelValues(plugin).Inc()
}
