// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	WebhooksReconciled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_reconciled_total",
		Help: "Payments reconciled into a credit grant",
	})
	WebhooksDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_duplicate_total",
		Help: "Webhook deliveries dropped because a receipt already existed",
	})
	WebhooksIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_ignored_total",
		Help: "Webhook deliveries acknowledged without action (wrong type or status)",
	})
	WebhooksUnattributable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_unattributable_total",
		Help: "Paid events that could not be attributed to an account",
	})
	WebhooksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_failed_total",
		Help: "Webhook deliveries that failed transiently and were returned for retry",
	})
	DLQCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlq_messages_total",
		Help: "Payloads parked in the dead-letter list for manual reconciliation",
	})
	ReconcileLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_latency_seconds",
		Help:    "Latency of the atomic reconcile transaction",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		WebhooksReconciled,
		WebhooksDuplicate,
		WebhooksIgnored,
		WebhooksUnattributable,
		WebhooksFailed,
		DLQCount,
		ReconcileLatency,
	)
}

// Serve starts a /metrics endpoint on the given addr (e.g. :2112). The
// service keeps running without it, but a dead metrics listener must at
// least be visible in the logs.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Str("component", "metrics").Str("addr", addr).Err(err).Msg("metrics server stopped")
		}
	}()
}
